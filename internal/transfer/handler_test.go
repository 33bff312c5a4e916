package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/traf3li/treasury/internal/ledger"
)

func newHandlerApp(t *testing.T, actor string) (*fiber.App, ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	handler := NewHandler(NewService(store, nil))

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("actor_id", actor)
		return c.Next()
	})
	app.Post("/bank-transfers", handler.Create)
	app.Get("/bank-transfers", handler.List)
	app.Get("/bank-transfers/stats", handler.Stats)
	app.Get("/bank-transfers/:transferId", handler.Get)
	app.Post("/bank-transfers/:transferId/cancel", handler.Cancel)

	return app, store
}

func seedHandlerAccount(t *testing.T, store ledger.Store, owner string, balance int64) ledger.Account {
	t.Helper()
	now := time.Now().UTC()
	account := ledger.Account{
		ID:               uuid.NewString(),
		OwnerID:          owner,
		Currency:         "SAR",
		IsActive:         true,
		AvailableBalance: decimal.NewFromInt(balance),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := store.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

func postJSON(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func getJSON(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func TestCreateEndpointReturnsCreatedTransfer(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 1000)
	b := seedHandlerAccount(t, store, "firm-1", 0)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"200","fee":"10","reference":"TRF-1001"}`, a.ID, b.ID)
	status, decoded := postJSON(t, app, "/bank-transfers", body)

	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d: %v", fiber.StatusCreated, status, decoded)
	}
	if decoded["status"] != "completed" {
		t.Fatalf("expected completed status, got %v", decoded["status"])
	}
	if decoded["fromAccountId"] != a.ID || decoded["toAccountId"] != b.ID {
		t.Fatalf("account ids not echoed: %v", decoded)
	}
	if decoded["fromCurrency"] != "SAR" || decoded["toCurrency"] != "SAR" {
		t.Fatalf("currencies not recorded: %v", decoded)
	}
	if decoded["createdBy"] != "firm-1" {
		t.Fatalf("expected createdBy firm-1, got %v", decoded["createdBy"])
	}
}

func TestCreateEndpointInsufficientFundsPayload(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 50)
	b := seedHandlerAccount(t, store, "firm-1", 0)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"100"}`, a.ID, b.ID)
	status, decoded := postJSON(t, app, "/bank-transfers", body)

	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d: %v", fiber.StatusBadRequest, status, decoded)
	}
	if decoded["accountId"] != a.ID {
		t.Fatalf("expected accountId %s, got %v", a.ID, decoded["accountId"])
	}
	if decoded["available"] != "50" {
		t.Fatalf("expected available 50, got %v", decoded["available"])
	}
	if decoded["required"] != "100" {
		t.Fatalf("expected required 100, got %v", decoded["required"])
	}
}

func TestCreateEndpointValidation(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 1000)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"10"}`, a.ID, a.ID)
	status, _ := postJSON(t, app, "/bank-transfers", body)
	if status != fiber.StatusBadRequest {
		t.Fatalf("same-account transfer: expected %d got %d", fiber.StatusBadRequest, status)
	}

	body = fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"10"}`, a.ID, uuid.NewString())
	status, _ = postJSON(t, app, "/bank-transfers", body)
	if status != fiber.StatusNotFound {
		t.Fatalf("missing destination: expected %d got %d", fiber.StatusNotFound, status)
	}
}

func TestCreateEndpointForbiddenForForeignAccount(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	theirs := seedHandlerAccount(t, store, "firm-2", 1000)
	mine := seedHandlerAccount(t, store, "firm-1", 0)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"10"}`, theirs.ID, mine.ID)
	status, _ := postJSON(t, app, "/bank-transfers", body)
	if status != fiber.StatusForbidden {
		t.Fatalf("expected %d got %d", fiber.StatusForbidden, status)
	}
}

func TestCancelEndpointRoundTrip(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 1000)
	b := seedHandlerAccount(t, store, "firm-1", 0)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"200","fee":"10"}`, a.ID, b.ID)
	status, created := postJSON(t, app, "/bank-transfers", body)
	if status != fiber.StatusCreated {
		t.Fatalf("create: expected %d got %d", fiber.StatusCreated, status)
	}
	transferID, _ := created["id"].(string)

	status, cancelled := postJSON(t, app, "/bank-transfers/"+transferID+"/cancel", `{"reason":"duplicate entry"}`)
	if status != fiber.StatusOK {
		t.Fatalf("cancel: expected %d got %d: %v", fiber.StatusOK, status, cancelled)
	}
	if cancelled["status"] != "cancelled" {
		t.Fatalf("expected cancelled status, got %v", cancelled["status"])
	}
	if cancelled["cancellationReason"] != "duplicate entry" {
		t.Fatalf("expected reason recorded, got %v", cancelled["cancellationReason"])
	}

	// A repeat cancellation conflicts.
	status, _ = postJSON(t, app, "/bank-transfers/"+transferID+"/cancel", `{}`)
	if status != fiber.StatusConflict {
		t.Fatalf("repeat cancel: expected %d got %d", fiber.StatusConflict, status)
	}

	source, err := store.FindAccount(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("find source: %v", err)
	}
	if !source.AvailableBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected source restored to 1000, got %s", source.AvailableBalance)
	}
}

func TestCancelEndpointSpentDestination(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 1000)
	b := seedHandlerAccount(t, store, "firm-1", 0)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"200"}`, a.ID, b.ID)
	status, created := postJSON(t, app, "/bank-transfers", body)
	if status != fiber.StatusCreated {
		t.Fatalf("create: expected %d got %d", fiber.StatusCreated, status)
	}
	transferID, _ := created["id"].(string)

	ledger.SeedBalance(store, b.ID, decimal.NewFromInt(50))

	status, decoded := postJSON(t, app, "/bank-transfers/"+transferID+"/cancel", `{}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d: %v", fiber.StatusUnprocessableEntity, status, decoded)
	}
	if decoded["accountId"] != b.ID {
		t.Fatalf("expected accountId %s, got %v", b.ID, decoded["accountId"])
	}
	if decoded["available"] != "50" || decoded["required"] != "200" {
		t.Fatalf("expected available/required amounts, got %v", decoded)
	}
}

func TestListEndpointPaginates(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 1000)
	b := seedHandlerAccount(t, store, "firm-1", 0)

	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"10"}`, a.ID, b.ID)
		if status, _ := postJSON(t, app, "/bank-transfers", body); status != fiber.StatusCreated {
			t.Fatalf("seed transfer %d failed with status %d", i, status)
		}
	}

	status, decoded := getJSON(t, app, "/bank-transfers?page=1&limit=2")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if decoded["total"].(float64) != 3 {
		t.Fatalf("expected total 3, got %v", decoded["total"])
	}
	transfers, _ := decoded["transfers"].([]any)
	if len(transfers) != 2 {
		t.Fatalf("expected 2 transfers on page, got %d", len(transfers))
	}
	if decoded["limit"].(float64) != 2 {
		t.Fatalf("expected limit 2, got %v", decoded["limit"])
	}
}

func TestStatsEndpoint(t *testing.T) {
	app, store := newHandlerApp(t, "firm-1")
	a := seedHandlerAccount(t, store, "firm-1", 1000)
	b := seedHandlerAccount(t, store, "firm-1", 0)

	body := fmt.Sprintf(`{"fromAccountId":%q,"toAccountId":%q,"amount":"100","fee":"5"}`, a.ID, b.ID)
	if status, _ := postJSON(t, app, "/bank-transfers", body); status != fiber.StatusCreated {
		t.Fatalf("seed transfer failed")
	}

	status, decoded := getJSON(t, app, "/bank-transfers/stats")
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}
	if decoded["count"].(float64) != 1 {
		t.Fatalf("expected count 1, got %v", decoded["count"])
	}
	if decoded["totalAmount"] != "100" {
		t.Fatalf("expected totalAmount 100, got %v", decoded["totalAmount"])
	}
	if decoded["totalFees"] != "5" {
		t.Fatalf("expected totalFees 5, got %v", decoded["totalFees"])
	}
	monthly, _ := decoded["monthly"].([]any)
	if len(monthly) != 12 {
		t.Fatalf("expected 12 month buckets, got %d", len(monthly))
	}
}

func TestGetEndpointNotFound(t *testing.T) {
	app, _ := newHandlerApp(t, "firm-1")

	req := httptest.NewRequest(fiber.MethodGet, "/bank-transfers/"+uuid.NewString(), nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected %d got %d", fiber.StatusNotFound, resp.StatusCode)
	}
}
