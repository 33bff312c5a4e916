package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/traf3li/treasury/internal/transfer"
)

// RegisterTransferRoutes wires the bank-transfer endpoints. The stats route
// registers before the parameterised one so "stats" is not read as an id.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/bank-transfers", h.Create)
	r.Get("/bank-transfers", h.List)
	r.Get("/bank-transfers/stats", h.Stats)
	r.Get("/bank-transfers/:transferId", h.Get)
	r.Post("/bank-transfers/:transferId/cancel", h.Cancel)
}
