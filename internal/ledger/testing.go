package ledger

import "github.com/shopspring/decimal"

// SeedBalance is a test helper that overwrites the balance of an account when
// using the in-memory store.
func SeedBalance(s Store, accountID string, balance decimal.Decimal) {
	if mem, ok := s.(*MemoryStore); ok {
		mem.mu.lock()
		defer mem.mu.unlock()
		account := mem.accounts[accountID]
		account.AvailableBalance = balance
		mem.accounts[accountID] = account
	}
}
