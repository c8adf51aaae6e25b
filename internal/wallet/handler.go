package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/brightbite/wallet-service/internal/ledger"
)

// Handler exposes wallet HTTP endpoints. The authenticated user ID is
// supplied by the auth middleware via locals.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transactionResponse struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Amount      int64  `json:"amount_centavos"`
	Description string `json:"description,omitempty"`
	Method      string `json:"payment_method,omitempty"`
	Status      string `json:"status"`
	Reference   string `json:"reference,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	Date        string `json:"date"`
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		Type:        t.Type,
		Amount:      t.Amount,
		Description: t.Description,
		Method:      t.Method,
		Status:      t.Status,
		Reference:   t.Reference,
		OrderID:     t.OrderID,
		Date:        t.OccurredAt.Format("2006-01-02"),
	}
}

// Get returns the caller's wallet, creating it on first use.
func (h *Handler) Get(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	w, err := h.service.Ensure(c.UserContext(), userID)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet": fiber.Map{
			"id":               w.ID,
			"balance_centavos": w.Balance,
			"frozen":           w.Frozen,
			"created_at":       w.CreatedAt,
		},
	})
}

// Transactions lists the caller's transaction history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	w, err := h.service.Ensure(c.UserContext(), userID)
	if err != nil {
		return errorToHTTP(err)
	}
	limit := c.QueryInt("limit", 0)
	offset := c.QueryInt("offset", 0)
	history, err := h.service.History(c.UserContext(), w.ID, limit, offset)
	if err != nil {
		return errorToHTTP(err)
	}
	out := make([]transactionResponse, 0, len(history))
	for _, t := range history {
		out = append(out, toTransactionResponse(t))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"transactions": out})
}

type debitRequest struct {
	Amount      int64  `json:"amount_centavos"`
	Description string `json:"description"`
	OrderID     string `json:"order_id"`
	Reference   string `json:"reference"`
}

// Debit charges the caller's wallet, typically for an order payment.
func (h *Handler) Debit(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req debitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Ensure(c.UserContext(), userID)
	if err != nil {
		return errorToHTTP(err)
	}
	record, err := h.service.Debit(c.UserContext(), DebitInput{
		WalletID:    w.ID,
		UserID:      userID,
		Amount:      req.Amount,
		Description: req.Description,
		Method:      "wallet",
		Reference:   req.Reference,
		OrderID:     req.OrderID,
	})
	if err != nil {
		return errorToHTTP(err)
	}
	return c.Status(http.StatusCreated).JSON(h.mutationResponse(c, w.ID, record))
}

type refundRequest struct {
	Amount    int64  `json:"amount_centavos"`
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
}

// Refund credits the caller's wallet for a previously paid order.
func (h *Handler) Refund(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Ensure(c.UserContext(), userID)
	if err != nil {
		return errorToHTTP(err)
	}
	record, err := h.service.Refund(c.UserContext(), RefundInput{
		WalletID:  w.ID,
		UserID:    userID,
		Amount:    req.Amount,
		OrderID:   req.OrderID,
		Reference: req.Reference,
	})
	if err != nil {
		return errorToHTTP(err)
	}
	return c.Status(http.StatusCreated).JSON(h.mutationResponse(c, w.ID, record))
}

type freezeRequest struct {
	Reason string `json:"reason"`
}

// Freeze is an administrative endpoint suspending a wallet.
func (h *Handler) Freeze(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	var req freezeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.Freeze(c.UserContext(), walletID, req.Reason); err != nil {
		return errorToHTTP(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Unfreeze lifts a wallet suspension.
func (h *Handler) Unfreeze(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	if err := h.service.Unfreeze(c.UserContext(), walletID); err != nil {
		return errorToHTTP(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Reconcile recomputes a wallet's cached balance from its ledger.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	balance, err := h.service.Reconcile(c.UserContext(), walletID)
	if err != nil {
		return errorToHTTP(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"wallet_id":        walletID,
		"balance_centavos": balance,
	})
}

// mutationResponse builds the body returned after a successful posting. The
// balance field is omitted rather than guessed when the read fails; the
// transaction itself committed either way.
func (h *Handler) mutationResponse(c *fiber.Ctx, walletID string, record ledger.Transaction) fiber.Map {
	resp := fiber.Map{"transaction": toTransactionResponse(record)}
	if balance, err := h.service.Balance(c.UserContext(), walletID); err == nil {
		resp["balance_centavos"] = balance
	}
	return resp
}

// errorToHTTP maps core error kinds to transport-level responses.
func errorToHTTP(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, "amount must be positive and within the transaction ceiling")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusBadRequest, "insufficient funds")
	case errors.Is(err, ledger.ErrWalletFrozen):
		return fiber.NewError(http.StatusLocked, "wallet is frozen")
	case errors.Is(err, ledger.ErrWalletNotFound):
		return fiber.NewError(http.StatusNotFound, "wallet not found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	case errors.Is(err, ledger.ErrContention):
		return fiber.NewError(http.StatusServiceUnavailable, "wallet busy, retry")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
