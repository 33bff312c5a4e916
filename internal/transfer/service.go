package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/traf3li/treasury/internal/audit"
	"github.com/traf3li/treasury/internal/ledger"
)

// Service coordinates the two-leg transfer protocol and its exact reversal on
// top of the ledger store's conditional-adjust primitive.
type Service struct {
	store ledger.Store
	sink  audit.Sink
}

// NewService constructs a transfer service.
func NewService(store ledger.Store, sink audit.Sink) *Service {
	return &Service{store: store, sink: sink}
}

// CreateInput captures the data needed to move funds between two firm accounts.
type CreateInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	ExchangeRate  decimal.Decimal
	Date          time.Time
	Reference     string
	Description   string
	Actor         string
}

// Create debits the source and credits the destination inside one unit of
// work and persists the completed transfer record. Either all three effects
// commit or none do; a failed attempt leaves no record and no balance change.
func (s *Service) Create(ctx context.Context, input CreateInput) (ledger.Transfer, error) {
	if input.FromAccountID == input.ToAccountID {
		return ledger.Transfer{}, ErrSameAccount
	}
	if !input.Amount.IsPositive() {
		return ledger.Transfer{}, ErrInvalidAmount
	}
	if input.Fee.IsNegative() {
		return ledger.Transfer{}, ErrInvalidFee
	}
	if input.ExchangeRate.IsZero() {
		input.ExchangeRate = decimal.NewFromInt(1)
	}
	if !input.ExchangeRate.IsPositive() {
		return ledger.Transfer{}, ErrInvalidRate
	}

	// Ownership is checked against committed state before the unit of work
	// opens; the balance predicate is re-evaluated atomically inside it.
	for _, accountID := range []string{input.FromAccountID, input.ToAccountID} {
		account, err := s.store.FindAccount(ctx, accountID)
		if err != nil {
			return ledger.Transfer{}, err
		}
		if account.OwnerID != input.Actor {
			return ledger.Transfer{}, ErrForbidden
		}
	}

	totalDeduction := input.Amount.Add(input.Fee)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return ledger.Transfer{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	source, err := s.store.ConditionalAdjust(ctx, tx, input.FromAccountID,
		ledger.Condition{RequireActive: true, MinBalance: &totalDeduction},
		ledger.Delta{Balance: totalDeduction.Neg(), Withdrawals: totalDeduction})
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return ledger.Transfer{}, rbErr
		}
		if errors.Is(err, ledger.ErrConditionFailed) {
			return ledger.Transfer{}, s.diagnoseDebitFailure(ctx, input.FromAccountID, totalDeduction)
		}
		return ledger.Transfer{}, err
	}

	destination, err := s.store.ConditionalAdjust(ctx, tx, input.ToAccountID,
		ledger.Condition{RequireActive: true},
		ledger.Delta{Balance: input.Amount, Deposits: input.Amount})
	if err != nil {
		// The debit above rolls back with the unit; it is never compensated
		// after the fact.
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return ledger.Transfer{}, rbErr
		}
		if errors.Is(err, ledger.ErrConditionFailed) {
			return ledger.Transfer{}, &InactiveAccountError{AccountID: input.ToAccountID}
		}
		return ledger.Transfer{}, err
	}

	now := time.Now().UTC()
	executedAt := input.Date
	if executedAt.IsZero() {
		executedAt = now
	}

	record := ledger.Transfer{
		ID:            uuid.NewString(),
		FromAccountID: input.FromAccountID,
		ToAccountID:   input.ToAccountID,
		Amount:        input.Amount,
		Fee:           input.Fee,
		ExchangeRate:  input.ExchangeRate,
		FromCurrency:  source.Currency,
		ToCurrency:    destination.Currency,
		Reference:     input.Reference,
		Description:   input.Description,
		Status:        ledger.StatusCompleted,
		ExecutedAt:    executedAt.UTC(),
		CreatedBy:     input.Actor,
		CreatedAt:     now,
	}

	if err := s.store.InsertTransfer(ctx, tx, record); err != nil {
		return ledger.Transfer{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Transfer{}, err
	}

	// Best effort only: a lost audit event never rolls back a committed transfer.
	if s.sink != nil {
		_ = s.sink.Log(ctx, audit.Event{
			Type:        audit.EventTransferCreated,
			ActorID:     input.Actor,
			RelatedID:   record.ID,
			Description: fmt.Sprintf("transferred %s %s from %s to %s", record.Amount, record.FromCurrency, record.FromAccountID, record.ToAccountID),
		})
	}

	return record, nil
}

// diagnoseDebitFailure re-reads the source account outside the aborted unit to
// turn the predicate failure into a specific outcome.
func (s *Service) diagnoseDebitFailure(ctx context.Context, accountID string, required decimal.Decimal) error {
	account, err := s.store.FindAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.IsActive {
		return &InactiveAccountError{AccountID: accountID}
	}
	return &InsufficientFundsError{
		AccountID: accountID,
		Available: account.AvailableBalance,
		Required:  required,
	}
}

// Cancel reverses a completed transfer. The conditional status flip runs first
// and is the race gate: of two concurrent cancellations only one observes the
// completed status, so the money is returned at most once.
func (s *Service) Cancel(ctx context.Context, transferID, reason, actor string) (ledger.Transfer, error) {
	record, err := s.store.MarkCancelled(ctx, transferID, actor, reason, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ledger.ErrConditionFailed) {
			return ledger.Transfer{}, s.diagnoseCancelFailure(ctx, transferID, actor)
		}
		return ledger.Transfer{}, err
	}

	totalDeduction := record.TotalDeduction()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return ledger.Transfer{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Money returns to the source unconditionally; no sufficiency predicate.
	if _, err := s.store.ConditionalAdjust(ctx, tx, record.FromAccountID,
		ledger.Condition{},
		ledger.Delta{Balance: totalDeduction, Withdrawals: totalDeduction.Neg()}); err != nil {
		return ledger.Transfer{}, err
	}

	// The destination may have spent the credited funds in the interim. When
	// it cannot give them back the whole reversal unit aborts: the source is
	// not refunded and the record stays cancelled, an explicit inconsistency
	// left for manual reconciliation.
	if _, err := s.store.ConditionalAdjust(ctx, tx, record.ToAccountID,
		ledger.Condition{MinBalance: &record.Amount},
		ledger.Delta{Balance: record.Amount.Neg(), Deposits: record.Amount.Neg()}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return ledger.Transfer{}, rbErr
		}
		if errors.Is(err, ledger.ErrConditionFailed) {
			return ledger.Transfer{}, s.diagnoseReversalFailure(ctx, record)
		}
		return ledger.Transfer{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Transfer{}, err
	}

	if s.sink != nil {
		_ = s.sink.Log(ctx, audit.Event{
			Type:        audit.EventTransferCancelled,
			ActorID:     actor,
			RelatedID:   record.ID,
			Description: fmt.Sprintf("cancelled transfer of %s %s from %s to %s", record.Amount, record.FromCurrency, record.FromAccountID, record.ToAccountID),
		})
	}

	return record, nil
}

func (s *Service) diagnoseCancelFailure(ctx context.Context, transferID, actor string) error {
	record, err := s.store.FindTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	if record.CreatedBy != actor {
		return ErrForbidden
	}
	if record.Status == ledger.StatusCancelled {
		return ErrAlreadyCancelled
	}
	return ErrNotCancellable
}

func (s *Service) diagnoseReversalFailure(ctx context.Context, record ledger.Transfer) error {
	account, err := s.store.FindAccount(ctx, record.ToAccountID)
	if err != nil {
		return err
	}
	return &CannotReverseError{
		AccountID: record.ToAccountID,
		Available: account.AvailableBalance,
		Required:  record.Amount,
	}
}

// Get fetches a single transfer, enforcing ownership.
func (s *Service) Get(ctx context.Context, transferID, actor string) (ledger.Transfer, error) {
	record, err := s.store.FindTransfer(ctx, transferID)
	if err != nil {
		return ledger.Transfer{}, err
	}
	if record.CreatedBy != actor {
		return ledger.Transfer{}, ErrForbidden
	}
	return record, nil
}

// List returns the actor's transfers matching the filter plus the total count.
func (s *Service) List(ctx context.Context, filter ledger.TransferFilter, actor string) ([]ledger.Transfer, int64, error) {
	filter.CreatedBy = actor
	return s.store.ListTransfers(ctx, filter)
}

// Stats aggregates the actor's completed transfers.
func (s *Service) Stats(ctx context.Context, filter ledger.StatsFilter, actor string) (ledger.Stats, error) {
	filter.CreatedBy = actor
	return s.store.TransferStats(ctx, filter)
}
