package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/brightbite/wallet-service/internal/config"
	"github.com/brightbite/wallet-service/internal/ledger"
	"github.com/brightbite/wallet-service/internal/middleware"
	"github.com/brightbite/wallet-service/internal/notification"
	"github.com/brightbite/wallet-service/internal/topup"
	"github.com/brightbite/wallet-service/internal/wallet"
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
	// Enforce DB/Redis presence outside of dev, even though main also checks.
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
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Ledger backend: Postgres in deployments, in-memory in dev.
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}

	notifier := notification.NewLoggerNotifier(d.Logger)
	walletSvc := wallet.NewService(store, notifier, d.Cfg.MaxTransaction)
	topupSvc := topup.NewService(store, notifier, topup.Options{
		MinAmount: d.Cfg.MinTopUp,
		MaxAmount: d.Cfg.MaxTransaction,
		Sandbox:   d.Cfg.SandboxMode,
	})

	walletHandler := wallet.NewHandler(walletSvc)
	topupHandler := topup.NewHandler(topupSvc)

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

	// Gateway webhooks carry no user token; authenticity is verified upstream
	// and the ledger's reference uniqueness makes redeliveries safe.
	api.Post("/webhooks/:gateway", topupHandler.Webhook)

	// Protected routes
	protected := api.Group("", middleware.Auth(d.Cfg.JWTSecret))
	RegisterWalletRoutes(protected, walletHandler, d)
	RegisterTopUpRoutes(protected, topupHandler, d)
	RegisterAdminRoutes(protected, walletHandler)

	return nil
}
