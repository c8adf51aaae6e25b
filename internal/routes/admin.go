package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/brightbite/wallet-service/internal/wallet"
)

// RegisterAdminRoutes wires administrative wallet operations. Role checks are
// an upstream concern; these routes only require an authenticated caller.
func RegisterAdminRoutes(r fiber.Router, h *wallet.Handler) {
	admin := r.Group("/admin")
	admin.Post("/wallets/:walletId/freeze", h.Freeze)
	admin.Post("/wallets/:walletId/unfreeze", h.Unfreeze)
	admin.Post("/wallets/:walletId/reconcile", h.Reconcile)
}
