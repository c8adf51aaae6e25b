package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brightbite/wallet-service/internal/middleware"
	"github.com/brightbite/wallet-service/internal/wallet"
)

// RegisterWalletRoutes wires wallet-facing endpoints for the authenticated user.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, d Deps) {
	r.Get("/wallet", h.Get)
	r.Get("/wallet/transactions", h.Transactions)

	// Mutations replay through the idempotency cache and, in sandbox mode,
	// require the sandbox PIN.
	mutating := r.Group("", middleware.SandboxPIN(d.Cfg.SandboxMode, d.Cfg.SandboxPIN))
	if d.Cache != nil {
		mutating = mutating.Group("", middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	mutating.Post("/wallet/debit", h.Debit)
	mutating.Post("/wallet/refund", h.Refund)
}
