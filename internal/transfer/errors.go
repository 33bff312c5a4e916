package transfer

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrSameAccount occurs when a transfer names the same account for both legs.
	ErrSameAccount = errors.New("source and destination accounts must differ")

	// ErrInvalidAmount occurs when the transfer amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidFee occurs when a negative fee is supplied.
	ErrInvalidFee = errors.New("fee must not be negative")

	// ErrInvalidRate occurs when a non-positive exchange rate is supplied.
	ErrInvalidRate = errors.New("exchange rate must be positive")

	// ErrForbidden indicates the caller does not own the account or transfer
	// it is operating on.
	ErrForbidden = errors.New("caller does not own this resource")

	// ErrAlreadyCancelled indicates the transfer was cancelled before; the
	// cancelled status is terminal.
	ErrAlreadyCancelled = errors.New("transfer already cancelled")

	// ErrNotCancellable occurs when a record is neither completed nor
	// cancelled.
	ErrNotCancellable = errors.New("transfer is not in a cancellable state")
)

// InactiveAccountError reports which account blocked the operation.
type InactiveAccountError struct {
	AccountID string
}

func (e *InactiveAccountError) Error() string {
	return fmt.Sprintf("account %s is inactive", e.AccountID)
}

// InsufficientFundsError carries the balances an operator needs to explain the
// failure without another lookup.
type InsufficientFundsError struct {
	AccountID string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s: available %s, required %s",
		e.AccountID, e.Available, e.Required)
}

// CannotReverseError occurs when the destination of a cancelled transfer has
// since spent the credited funds. The transfer stays cancelled and the source
// is not refunded; the ledger is left flagged for manual reconciliation.
type CannotReverseError struct {
	AccountID string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *CannotReverseError) Error() string {
	return fmt.Sprintf("cannot reverse credit on account %s: available %s, required %s",
		e.AccountID, e.Available, e.Required)
}
