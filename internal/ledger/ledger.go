package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound occurs when no account exists for the provided identifier.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransferNotFound occurs when no transfer record exists for the provided identifier.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrConditionFailed indicates a conditional adjustment's predicate did not hold
	// against the current stored state. It is a normal negative outcome, not a storage
	// failure; callers re-read the record to find out which part of the predicate failed.
	ErrConditionFailed = errors.New("condition not satisfied")
)

const (
	// StatusCompleted marks a transfer whose two legs both committed.
	StatusCompleted = "completed"
	// StatusCancelled marks a reversed transfer. Terminal.
	StatusCancelled = "cancelled"
)

// Account is a firm-owned balance record. Its balance and lifetime counters are
// mutated exclusively through ConditionalAdjust; no other write path exists.
type Account struct {
	ID               string
	OwnerID          string
	Name             string
	Currency         string
	IsActive         bool
	AvailableBalance decimal.Decimal
	TotalDeposits    decimal.Decimal
	TotalWithdrawals decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transfer is a completed or cancelled movement of funds between two accounts.
// A failed attempt never produces a record.
type Transfer struct {
	ID            string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	ExchangeRate  decimal.Decimal
	FromCurrency  string
	ToCurrency    string
	Reference     string
	Description   string
	Status        string
	ExecutedAt    time.Time
	CreatedBy     string
	CreatedAt     time.Time

	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string
}

// TotalDeduction is the full amount removed from the source account.
func (t Transfer) TotalDeduction() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

// Condition is the predicate evaluated against the stored account state during
// a conditional adjustment. The zero value always holds.
type Condition struct {
	// RequireActive demands the account's active flag be set.
	RequireActive bool
	// MinBalance, when non-nil, demands availableBalance >= MinBalance.
	MinBalance *decimal.Decimal
}

// Delta carries the signed changes applied when a Condition holds.
type Delta struct {
	Balance     decimal.Decimal
	Deposits    decimal.Decimal
	Withdrawals decimal.Decimal
}

// TransferFilter narrows List results. Zero-valued fields are ignored.
type TransferFilter struct {
	CreatedBy     string
	FromAccountID string
	ToAccountID   string
	Status        string
	StartDate     time.Time
	EndDate       time.Time
	Page          int
	Limit         int
}

// StatsFilter narrows Stats aggregation. AccountID matches either leg.
type StatsFilter struct {
	CreatedBy string
	AccountID string
	StartDate time.Time
	EndDate   time.Time
}

// MonthBucket is one entry of the trailing monthly series.
type MonthBucket struct {
	Year   int
	Month  time.Month
	Count  int64
	Amount decimal.Decimal
	Fees   decimal.Decimal
}

// Stats aggregates completed transfers. Cancelled records are excluded based on
// their current status, never a point-in-time snapshot.
type Stats struct {
	Count         int64
	TotalAmount   decimal.Decimal
	TotalFees     decimal.Decimal
	AverageAmount decimal.Decimal
	Monthly       []MonthBucket
}

// Tx is a unit of work spanning multiple store operations. Every Tx must end in
// exactly one Commit or Rollback; Rollback after Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the contract implemented by ledger backends (e.g. Postgres).
//
// ConditionalAdjust is the load-bearing primitive: read, predicate check and
// write execute as one indivisible operation against the backing store, so no
// concurrent adjustment to the same account can interleave between the check
// and the write. It returns the account state as it was immediately before the
// mutation, or ErrConditionFailed when the predicate does not hold.
//
// Operations taking a Tx participate in that unit of work; passing a nil Tx
// runs the operation as its own atomic unit.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	CreateAccount(ctx context.Context, account Account) error
	FindAccount(ctx context.Context, id string) (Account, error)
	ConditionalAdjust(ctx context.Context, tx Tx, accountID string, cond Condition, delta Delta) (Account, error)

	InsertTransfer(ctx context.Context, tx Tx, transfer Transfer) error
	FindTransfer(ctx context.Context, id string) (Transfer, error)
	ListTransfers(ctx context.Context, filter TransferFilter) ([]Transfer, int64, error)

	// MarkCancelled conditionally flips a transfer from completed to cancelled,
	// provided createdBy matches the actor. The flip is the race gate for
	// reversals: of two concurrent cancellations exactly one observes the
	// completed status. Returns the updated record or ErrConditionFailed.
	MarkCancelled(ctx context.Context, transferID, actor, reason string, at time.Time) (Transfer, error)

	TransferStats(ctx context.Context, filter StatsFilter) (Stats, error)
}
