package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/traf3li/treasury/internal/account"
	"github.com/traf3li/treasury/internal/audit"
	"github.com/traf3li/treasury/internal/config"
	"github.com/traf3li/treasury/internal/ledger"
	"github.com/traf3li/treasury/internal/middleware"
	"github.com/traf3li/treasury/internal/transfer"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Stores and services
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewMemoryStore()
	}

	sink := audit.NewLoggerSink(d.Logger)
	transferSvc := transfer.NewService(store, sink)
	accountSvc := account.NewService(store)

	transferHandler := transfer.NewHandler(transferSvc)
	accountHandler := account.NewHandler(accountSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// All treasury routes require an authenticated actor; the gateway in front
	// of this service mints the bearer tokens.
	protected := api.Group("", middleware.ActorAuth([]byte(d.Cfg.AuthSecret)))
	protected.Use(middleware.WriteRateLimit(d.Cache, d.Cfg.WriteRateLimit))
	// Idempotency keys are scoped per actor, so this sits behind auth.
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterTransferRoutes(protected, transferHandler)
	RegisterAccountRoutes(protected, accountHandler)

	return nil
}
