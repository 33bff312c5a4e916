package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/traf3li/treasury/internal/logging"
)

type idempotencyFixture struct {
	app   *fiber.App
	calls atomic.Int64
}

// The fixture reads the actor from a header so one app can simulate requests
// from different firms.
func setupIdempotencyApp(t *testing.T, handler fiber.Handler) (*idempotencyFixture, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fixture := &idempotencyFixture{app: fiber.New()}

	fixture.app.Use(func(c *fiber.Ctx) error {
		c.Locals("actor_id", c.Get("X-Test-Actor"))
		return c.Next()
	})
	fixture.app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	fixture.app.Post("/transfers", func(c *fiber.Ctx) error {
		fixture.calls.Add(1)
		if handler != nil {
			return handler(c)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return fixture, cleanup
}

func postWithKey(t *testing.T, app *fiber.App, actor, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/transfers", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("X-Test-Actor", actor)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	fixture, cleanup := setupIdempotencyApp(t, nil)
	defer cleanup()

	status, _ := postWithKey(t, fixture.app, "firm-1", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if fixture.calls.Load() != 0 {
		t.Fatalf("handler should not run without a key")
	}
}

func TestIdempotencyReplaysSuccessWithoutRerunning(t *testing.T) {
	fixture, cleanup := setupIdempotencyApp(t, nil)
	defer cleanup()

	status, body := postWithKey(t, fixture.app, "firm-1", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("first request: expected %d got %d", fiber.StatusCreated, status)
	}

	status2, body2 := postWithKey(t, fixture.app, "firm-1", "abc123")
	if status2 != fiber.StatusCreated {
		t.Fatalf("replay: expected %d got %d", fiber.StatusCreated, status2)
	}
	if body2 != body {
		t.Fatalf("expected replayed body %s got %s", body, body2)
	}
	if fixture.calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", fixture.calls.Load())
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(body2), &decoded); err != nil {
		t.Fatalf("replayed payload invalid json: %v", err)
	}
}

func TestIdempotencyScopesKeysPerActor(t *testing.T) {
	fixture, cleanup := setupIdempotencyApp(t, nil)
	defer cleanup()

	if status, _ := postWithKey(t, fixture.app, "firm-1", "shared-key"); status != fiber.StatusCreated {
		t.Fatalf("firm-1 request failed with %d", status)
	}
	if status, _ := postWithKey(t, fixture.app, "firm-2", "shared-key"); status != fiber.StatusCreated {
		t.Fatalf("firm-2 request failed with %d", status)
	}

	// Same key, different actors: both must reach the handler.
	if fixture.calls.Load() != 2 {
		t.Fatalf("expected 2 handler runs, got %d", fixture.calls.Load())
	}
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	var failFirst atomic.Bool
	failFirst.Store(true)

	fixture, cleanup := setupIdempotencyApp(t, func(c *fiber.Ctx) error {
		if failFirst.Swap(false) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "insufficient funds"})
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true})
	})
	defer cleanup()

	status, _ := postWithKey(t, fixture.app, "firm-1", "retry-key")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}

	// The rejection was not stored, so the retry runs for real and succeeds.
	status, _ = postWithKey(t, fixture.app, "firm-1", "retry-key")
	if status != fiber.StatusCreated {
		t.Fatalf("expected retry to succeed, got %d", status)
	}
	if fixture.calls.Load() != 2 {
		t.Fatalf("expected 2 handler runs, got %d", fixture.calls.Load())
	}
}
