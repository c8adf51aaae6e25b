package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/brightbite/wallet-service/internal/ledger"
)

// balanceFailStore simulates a cache read outage while postings still commit.
type balanceFailStore struct {
	ledger.Store
}

func (s *balanceFailStore) Balance(context.Context, string) (int64, error) {
	return 0, errors.New("balance backend unavailable")
}

func handlerApp(store ledger.Store) *fiber.App {
	h := NewHandler(NewService(store, nil, 0))
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", "user-1")
		return c.Next()
	})
	app.Post("/wallet/debit", h.Debit)
	return app
}

func postDebit(t *testing.T, app *fiber.App, payload string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/wallet/debit", strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)
	return resp.StatusCode, decoded
}

func TestDebitResponseReportsBalance(t *testing.T) {
	store := ledger.NewInMemory()
	w, err := store.EnsureWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	ledger.SeedBalance(store, w.ID, 10_000)
	app := handlerApp(store)

	status, body := postDebit(t, app, `{"amount_centavos":1000}`)
	if status != fiber.StatusCreated {
		t.Fatalf("debit: status %d body %v", status, body)
	}
	if balance, ok := body["balance_centavos"].(float64); !ok || int64(balance) != 9_000 {
		t.Fatalf("expected balance 9000, got %v", body["balance_centavos"])
	}
}

func TestDebitResponseOmitsBalanceWhenReadFails(t *testing.T) {
	inner := ledger.NewInMemory()
	w, err := inner.EnsureWallet(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	ledger.SeedBalance(inner, w.ID, 10_000)
	app := handlerApp(&balanceFailStore{Store: inner})

	status, body := postDebit(t, app, `{"amount_centavos":1000}`)
	if status != fiber.StatusCreated {
		t.Fatalf("debit: status %d body %v", status, body)
	}
	if _, present := body["balance_centavos"]; present {
		t.Fatalf("balance reported despite read failure: %v", body["balance_centavos"])
	}
	record, _ := body["transaction"].(map[string]any)
	if record["status"] != ledger.StatusCompleted {
		t.Fatalf("transaction missing or not completed: %v", body["transaction"])
	}
}
