package topup

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/brightbite/wallet-service/internal/ledger"
	"github.com/brightbite/wallet-service/internal/wallet"
)

// Handler exposes top-up initiation and the gateway webhook endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds a top-up handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type initiateRequest struct {
	Amount      int64  `json:"amount_centavos"`
	Method      string `json:"payment_method"`
	Description string `json:"description"`
	Reference   string `json:"reference"`
}

type topUpResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	Amount        int64  `json:"amount_centavos"`
	Method        string `json:"payment_method"`
}

func toResponse(record ledger.Transaction) topUpResponse {
	return topUpResponse{
		TransactionID: record.ID,
		Status:        record.Status,
		Reference:     record.Reference,
		Amount:        record.Amount,
		Method:        record.Method,
	}
}

// Initiate starts a wallet top-up for the authenticated user.
func (h *Handler) Initiate(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req initiateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	record, err := h.service.Initiate(c.UserContext(), InitiateInput{
		UserID:      userID,
		Amount:      req.Amount,
		Method:      req.Method,
		Description: req.Description,
		Reference:   req.Reference,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedMethod):
			return fiber.NewError(http.StatusBadRequest, "unsupported payment method")
		case errors.Is(err, wallet.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, "amount outside allowed range")
		case errors.Is(err, ledger.ErrWalletFrozen):
			return fiber.NewError(http.StatusLocked, "wallet is frozen")
		case errors.Is(err, ledger.ErrContention):
			return fiber.NewError(http.StatusServiceUnavailable, "wallet busy, retry")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusCreated).JSON(toResponse(record))
}

type webhookRequest struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Webhook settles a top-up from a gateway notification. Signature checks
// happen upstream; this endpoint only carries the verified outcome into the
// ledger.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Reference == "" {
		return fiber.NewError(http.StatusBadRequest, "missing reference")
	}

	succeeded := req.Status == "success" || req.Status == "completed" || req.Status == "paid"
	record, err := h.service.Confirm(c.UserContext(), req.Reference, succeeded)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound):
			return fiber.NewError(http.StatusNotFound, "unknown reference")
		case errors.Is(err, ledger.ErrContention):
			return fiber.NewError(http.StatusServiceUnavailable, "wallet busy, retry")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.Status(http.StatusOK).JSON(toResponse(record))
}
