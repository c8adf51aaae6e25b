package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brightbite/wallet-service/internal/middleware"
	"github.com/brightbite/wallet-service/internal/topup"
)

const topUpPerMinute = 10

// RegisterTopUpRoutes wires top-up initiation for the authenticated user.
func RegisterTopUpRoutes(r fiber.Router, h *topup.Handler, d Deps) {
	r.Post("/wallet/top-up",
		middleware.SandboxPIN(d.Cfg.SandboxMode, d.Cfg.SandboxPIN),
		middleware.TopUpRateLimit(d.Cache, topUpPerMinute),
		h.Initiate)
}
