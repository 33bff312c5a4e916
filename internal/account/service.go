package account

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/traf3li/treasury/internal/ledger"
)

// Service exposes read access to firm accounts. Provisioning and lifecycle
// live in the wider practice-management system; the treasury only looks
// accounts up and checks ownership.
type Service struct {
	store ledger.Store
}

// NewService builds an account service instance.
func NewService(store ledger.Store) *Service {
	return &Service{store: store}
}

// Get retrieves account metadata and balances.
func (s *Service) Get(ctx context.Context, id string) (ledger.Account, error) {
	return s.store.FindAccount(ctx, id)
}

// Balance is a point-in-time snapshot of an account's funds.
type Balance struct {
	AccountID        string
	Currency         string
	AvailableBalance decimal.Decimal
	TotalDeposits    decimal.Decimal
	TotalWithdrawals decimal.Decimal
	AsOf             time.Time
}

// Balance returns the committed balance for the account.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	account, err := s.store.FindAccount(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		AccountID:        account.ID,
		Currency:         account.Currency,
		AvailableBalance: account.AvailableBalance,
		TotalDeposits:    account.TotalDeposits,
		TotalWithdrawals: account.TotalWithdrawals,
		AsOf:             time.Now().UTC(),
	}, nil
}
