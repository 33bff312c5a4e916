package transfer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/traf3li/treasury/internal/ledger"
)

// createRequest mirrors the body the practice-management UI already sends.
type createRequest struct {
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	ExchangeRate  decimal.Decimal `json:"exchangeRate"`
	Date          string          `json:"date"`
	Reference     string          `json:"reference"`
	Description   string          `json:"description"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type transferResponse struct {
	ID                 string          `json:"id"`
	FromAccountID      string          `json:"fromAccountId"`
	ToAccountID        string          `json:"toAccountId"`
	Amount             decimal.Decimal `json:"amount"`
	Fee                decimal.Decimal `json:"fee"`
	ExchangeRate       decimal.Decimal `json:"exchangeRate"`
	FromCurrency       string          `json:"fromCurrency"`
	ToCurrency         string          `json:"toCurrency"`
	Reference          string          `json:"reference,omitempty"`
	Description        string          `json:"description,omitempty"`
	Status             string          `json:"status"`
	ExecutedAt         time.Time       `json:"executedAt"`
	CreatedBy          string          `json:"createdBy"`
	CreatedAt          time.Time       `json:"createdAt"`
	CancelledAt        *time.Time      `json:"cancelledAt,omitempty"`
	CancelledBy        string          `json:"cancelledBy,omitempty"`
	CancellationReason string          `json:"cancellationReason,omitempty"`
}

func toResponse(t ledger.Transfer) transferResponse {
	return transferResponse{
		ID:                 t.ID,
		FromAccountID:      t.FromAccountID,
		ToAccountID:        t.ToAccountID,
		Amount:             t.Amount,
		Fee:                t.Fee,
		ExchangeRate:       t.ExchangeRate,
		FromCurrency:       t.FromCurrency,
		ToCurrency:         t.ToCurrency,
		Reference:          t.Reference,
		Description:        t.Description,
		Status:             t.Status,
		ExecutedAt:         t.ExecutedAt,
		CreatedBy:          t.CreatedBy,
		CreatedAt:          t.CreatedAt,
		CancelledAt:        t.CancelledAt,
		CancelledBy:        t.CancelledBy,
		CancellationReason: t.CancellationReason,
	}
}

type listResponse struct {
	Transfers []transferResponse `json:"transfers"`
	Total     int64              `json:"total"`
	Page      int                `json:"page"`
	Limit     int                `json:"limit"`
}

type monthBucketResponse struct {
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
	Fees   decimal.Decimal `json:"fees"`
}

type statsResponse struct {
	Count         int64                 `json:"count"`
	TotalAmount   decimal.Decimal       `json:"totalAmount"`
	TotalFees     decimal.Decimal       `json:"totalFees"`
	AverageAmount decimal.Decimal       `json:"averageAmount"`
	Monthly       []monthBucketResponse `json:"monthly"`
}

func toStatsResponse(s ledger.Stats) statsResponse {
	monthly := make([]monthBucketResponse, 0, len(s.Monthly))
	for _, bucket := range s.Monthly {
		monthly = append(monthly, monthBucketResponse{
			Year:   bucket.Year,
			Month:  int(bucket.Month),
			Count:  bucket.Count,
			Amount: bucket.Amount,
			Fees:   bucket.Fees,
		})
	}
	return statsResponse{
		Count:         s.Count,
		TotalAmount:   s.TotalAmount,
		TotalFees:     s.TotalFees,
		AverageAmount: s.AverageAmount,
		Monthly:       monthly,
	}
}
