package account

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/traf3li/treasury/internal/ledger"
)

// Handler exposes account read endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Balance returns the committed balance snapshot for an owned account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	account, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	actor, _ := c.Locals("actor_id").(string)
	if account.OwnerID != actor {
		return fiber.NewError(http.StatusForbidden, "caller does not own this account")
	}

	balance, err := h.service.Balance(c.UserContext(), account.ID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"accountId":        balance.AccountID,
		"currency":         balance.Currency,
		"availableBalance": balance.AvailableBalance,
		"totalDeposits":    balance.TotalDeposits,
		"totalWithdrawals": balance.TotalWithdrawals,
		"asOf":             balance.AsOf,
	})
}
