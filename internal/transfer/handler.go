package transfer

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/traf3li/treasury/internal/ledger"
)

// Handler exposes the bank-transfer endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create processes POST /bank-transfers.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	date, err := parseDate(req.Date)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid date")
	}

	actor, _ := c.Locals("actor_id").(string)
	record, err := h.service.Create(c.UserContext(), CreateInput{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Fee:           req.Fee,
		ExchangeRate:  req.ExchangeRate,
		Date:          date,
		Reference:     req.Reference,
		Description:   req.Description,
		Actor:         actor,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(http.StatusCreated).JSON(toResponse(record))
}

// List processes GET /bank-transfers.
func (h *Handler) List(c *fiber.Ctx) error {
	filter := ledger.TransferFilter{
		FromAccountID: c.Query("fromAccountId"),
		ToAccountID:   c.Query("toAccountId"),
		Status:        c.Query("status"),
		Page:          c.QueryInt("page", 1),
		Limit:         c.QueryInt("limit", 20),
	}

	var err error
	if filter.StartDate, err = parseDate(c.Query("startDate")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid startDate")
	}
	if filter.EndDate, err = parseDate(c.Query("endDate")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid endDate")
	}

	actor, _ := c.Locals("actor_id").(string)
	records, total, err := h.service.List(c.UserContext(), filter, actor)
	if err != nil {
		return respondError(c, err)
	}

	transfers := make([]transferResponse, 0, len(records))
	for _, record := range records {
		transfers = append(transfers, toResponse(record))
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}
	if filter.Limit > 100 {
		filter.Limit = 100
	}
	return c.JSON(listResponse{Transfers: transfers, Total: total, Page: filter.Page, Limit: filter.Limit})
}

// Get processes GET /bank-transfers/:transferId.
func (h *Handler) Get(c *fiber.Ctx) error {
	actor, _ := c.Locals("actor_id").(string)
	record, err := h.service.Get(c.UserContext(), c.Params("transferId"), actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toResponse(record))
}

// Cancel processes POST /bank-transfers/:transferId/cancel.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}

	actor, _ := c.Locals("actor_id").(string)
	record, err := h.service.Cancel(c.UserContext(), c.Params("transferId"), req.Reason, actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toResponse(record))
}

// Stats processes GET /bank-transfers/stats.
func (h *Handler) Stats(c *fiber.Ctx) error {
	filter := ledger.StatsFilter{AccountID: c.Query("accountId")}

	var err error
	if filter.StartDate, err = parseDate(c.Query("startDate")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid startDate")
	}
	if filter.EndDate, err = parseDate(c.Query("endDate")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid endDate")
	}

	actor, _ := c.Locals("actor_id").(string)
	stats, err := h.service.Stats(c.UserContext(), filter, actor)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(toStatsResponse(stats))
}

// respondError maps service outcomes onto HTTP responses. Failures that carry
// balances include them so the UI can explain the refusal without a second
// round trip.
func respondError(c *fiber.Ctx, err error) error {
	var (
		inactive      *InactiveAccountError
		insufficient  *InsufficientFundsError
		cannotReverse *CannotReverseError
	)
	switch {
	case errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidFee),
		errors.Is(err, ErrInvalidRate):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrTransferNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.As(err, &inactive):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":     "account inactive",
			"accountId": inactive.AccountID,
		})
	case errors.As(err, &insufficient):
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error":     "insufficient funds",
			"accountId": insufficient.AccountID,
			"available": insufficient.Available,
			"required":  insufficient.Required,
		})
	case errors.Is(err, ErrAlreadyCancelled), errors.Is(err, ErrNotCancellable):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.As(err, &cannotReverse):
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":     "cannot reverse: insufficient destination funds",
			"accountId": cannotReverse.AccountID,
			"available": cannotReverse.Available,
			"required":  cannotReverse.Required,
		})
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

// parseDate accepts RFC3339 timestamps or plain dates; empty input yields the
// zero time.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	// Epoch millis show up from older UI builds.
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC(), nil
	}
	return time.Time{}, errors.New("unrecognised date format")
}
