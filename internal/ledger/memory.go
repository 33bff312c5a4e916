package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is a concurrency-safe in-memory ledger backend used by unit
// tests and local development without Postgres. Units of work serialize on a
// single mutex, which gives the same indivisible read-check-write behaviour
// the Postgres store gets from conditional UPDATEs.
type MemoryStore struct {
	mu        chanLock
	accounts  map[string]Account
	transfers map[string]Transfer
}

// chanLock is a mutex that can be held across Begin/Commit boundaries without
// tripping the runtime's same-goroutine sync.Mutex conventions.
type chanLock chan struct{}

func (l chanLock) lock()   { l <- struct{}{} }
func (l chanLock) unlock() { <-l }

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:        make(chanLock, 1),
		accounts:  make(map[string]Account),
		transfers: make(map[string]Transfer),
	}
}

type memTx struct {
	store     *MemoryStore
	accounts  map[string]Account
	transfers map[string]Transfer
	done      bool
}

func (t *memTx) Commit(_ context.Context) error {
	if t.done {
		return errors.New("unit of work already finished")
	}
	for id, account := range t.accounts {
		t.store.accounts[id] = account
	}
	for id, transfer := range t.transfers {
		t.store.transfers[id] = transfer
	}
	t.done = true
	t.store.mu.unlock()
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.unlock()
	return nil
}

// Begin acquires the store lock until Commit or Rollback. Changes stage in the
// transaction and only reach the shared maps on Commit.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	s.mu.lock()
	return &memTx{
		store:     s,
		accounts:  make(map[string]Account),
		transfers: make(map[string]Transfer),
	}, nil
}

// CreateAccount inserts an account record.
func (s *MemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.lock()
	defer s.mu.unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return errors.New("account already exists")
	}
	s.accounts[account.ID] = account
	return nil
}

// FindAccount returns the committed state of an account.
func (s *MemoryStore) FindAccount(_ context.Context, id string) (Account, error) {
	s.mu.lock()
	defer s.mu.unlock()
	account, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

// ConditionalAdjust evaluates the predicate and applies the delta while the
// store lock is held, returning the pre-mutation account state.
func (s *MemoryStore) ConditionalAdjust(_ context.Context, tx Tx, accountID string, cond Condition, delta Delta) (Account, error) {
	if t, ok := tx.(*memTx); ok && t != nil {
		return adjust(t.store.accounts, t.accounts, accountID, cond, delta)
	}
	s.mu.lock()
	defer s.mu.unlock()
	return adjust(s.accounts, s.accounts, accountID, cond, delta)
}

// adjust reads through the staged overlay, checks the predicate and writes the
// new state into the overlay. committed and staged are the same map when the
// adjustment runs outside a unit of work.
func adjust(committed, staged map[string]Account, accountID string, cond Condition, delta Delta) (Account, error) {
	account, ok := staged[accountID]
	if !ok {
		if account, ok = committed[accountID]; !ok {
			return Account{}, ErrAccountNotFound
		}
	}

	if cond.RequireActive && !account.IsActive {
		return Account{}, ErrConditionFailed
	}
	if cond.MinBalance != nil && account.AvailableBalance.LessThan(*cond.MinBalance) {
		return Account{}, ErrConditionFailed
	}

	before := account
	account.AvailableBalance = account.AvailableBalance.Add(delta.Balance)
	account.TotalDeposits = account.TotalDeposits.Add(delta.Deposits)
	account.TotalWithdrawals = account.TotalWithdrawals.Add(delta.Withdrawals)
	account.UpdatedAt = time.Now().UTC()
	staged[accountID] = account
	return before, nil
}

// InsertTransfer stages or stores a transfer record.
func (s *MemoryStore) InsertTransfer(_ context.Context, tx Tx, transfer Transfer) error {
	if t, ok := tx.(*memTx); ok && t != nil {
		t.transfers[transfer.ID] = transfer
		return nil
	}
	s.mu.lock()
	defer s.mu.unlock()
	s.transfers[transfer.ID] = transfer
	return nil
}

// FindTransfer fetches a transfer record by identifier.
func (s *MemoryStore) FindTransfer(_ context.Context, id string) (Transfer, error) {
	s.mu.lock()
	defer s.mu.unlock()
	transfer, ok := s.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return transfer, nil
}

// MarkCancelled flips status completed -> cancelled under the store lock, so
// at most one concurrent cancellation observes the completed status.
func (s *MemoryStore) MarkCancelled(_ context.Context, transferID, actor, reason string, at time.Time) (Transfer, error) {
	s.mu.lock()
	defer s.mu.unlock()

	transfer, ok := s.transfers[transferID]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	if transfer.Status != StatusCompleted || transfer.CreatedBy != actor {
		return Transfer{}, ErrConditionFailed
	}

	at = at.UTC()
	transfer.Status = StatusCancelled
	transfer.CancelledAt = &at
	transfer.CancelledBy = actor
	transfer.CancellationReason = reason
	s.transfers[transferID] = transfer
	return transfer, nil
}

// ListTransfers filters, sorts and paginates the stored records.
func (s *MemoryStore) ListTransfers(_ context.Context, filter TransferFilter) ([]Transfer, int64, error) {
	s.mu.lock()
	defer s.mu.unlock()

	matched := make([]Transfer, 0, len(s.transfers))
	for _, transfer := range s.transfers {
		if matchesFilter(transfer, filter) {
			matched = append(matched, transfer)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ExecutedAt.Equal(matched[j].ExecutedAt) {
			return matched[i].ExecutedAt.After(matched[j].ExecutedAt)
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	start := (page - 1) * limit
	if start >= len(matched) {
		return []Transfer{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func matchesFilter(transfer Transfer, filter TransferFilter) bool {
	if filter.CreatedBy != "" && transfer.CreatedBy != filter.CreatedBy {
		return false
	}
	if filter.FromAccountID != "" && transfer.FromAccountID != filter.FromAccountID {
		return false
	}
	if filter.ToAccountID != "" && transfer.ToAccountID != filter.ToAccountID {
		return false
	}
	if filter.Status != "" && transfer.Status != filter.Status {
		return false
	}
	if !filter.StartDate.IsZero() && transfer.ExecutedAt.Before(filter.StartDate) {
		return false
	}
	if !filter.EndDate.IsZero() && transfer.ExecutedAt.After(filter.EndDate) {
		return false
	}
	return true
}

// TransferStats aggregates completed transfers over their current status.
func (s *MemoryStore) TransferStats(_ context.Context, filter StatsFilter) (Stats, error) {
	s.mu.lock()
	defer s.mu.unlock()

	stats := Stats{
		TotalAmount:   decimal.Zero,
		TotalFees:     decimal.Zero,
		AverageAmount: decimal.Zero,
	}
	now := time.Now().UTC()
	seriesStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -11, 0)
	byMonth := make(map[string]MonthBucket)

	for _, transfer := range s.transfers {
		if transfer.Status != StatusCompleted {
			continue
		}
		if filter.CreatedBy != "" && transfer.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.AccountID != "" && transfer.FromAccountID != filter.AccountID && transfer.ToAccountID != filter.AccountID {
			continue
		}
		if !filter.StartDate.IsZero() && transfer.ExecutedAt.Before(filter.StartDate) {
			continue
		}
		if !filter.EndDate.IsZero() && transfer.ExecutedAt.After(filter.EndDate) {
			continue
		}

		stats.Count++
		stats.TotalAmount = stats.TotalAmount.Add(transfer.Amount)
		stats.TotalFees = stats.TotalFees.Add(transfer.Fee)

		if transfer.ExecutedAt.Before(seriesStart) {
			continue
		}
		key := transfer.ExecutedAt.UTC().Format("2006-01")
		bucket, ok := byMonth[key]
		if !ok {
			bucket = MonthBucket{
				Year:   transfer.ExecutedAt.UTC().Year(),
				Month:  transfer.ExecutedAt.UTC().Month(),
				Amount: decimal.Zero,
				Fees:   decimal.Zero,
			}
		}
		bucket.Count++
		bucket.Amount = bucket.Amount.Add(transfer.Amount)
		bucket.Fees = bucket.Fees.Add(transfer.Fee)
		byMonth[key] = bucket
	}

	if stats.Count > 0 {
		stats.AverageAmount = stats.TotalAmount.DivRound(decimal.NewFromInt(stats.Count), 6)
	}
	stats.Monthly = fillMonthlySeries(byMonth, now)
	return stats, nil
}
