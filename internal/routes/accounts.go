package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/traf3li/treasury/internal/account"
)

// RegisterAccountRoutes wires account read endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Get("/accounts/:accountId/balance", h.Balance)
}
