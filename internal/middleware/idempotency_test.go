package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/brightbite/wallet-service/internal/logging"
)

const testUserHeader = "X-Test-User"

// idempotencyApp wires a fiber app whose handler echoes the calling user and
// counts invocations, so tests can tell a replay from a fresh execution.
func idempotencyApp(t *testing.T) (*fiber.App, *int, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if u := c.Get(testUserHeader); u != "" {
			c.Locals("user_id", u)
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))

	var calls int
	app.Post("/resource", func(c *fiber.Ctx) error {
		calls++
		user, _ := c.Locals("user_id").(string)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}
	return app, &calls, cleanup
}

func doPost(t *testing.T, app *fiber.App, user, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode, string(raw)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _, cleanup := idempotencyApp(t)
	defer cleanup()

	status, _ := doPost(t, app, "alice", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReplaysCachedResponse(t *testing.T) {
	app, calls, cleanup := idempotencyApp(t)
	defer cleanup()

	status, first := doPost(t, app, "alice", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
	}

	status, second := doPost(t, app, "alice", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if second != first {
		t.Fatalf("expected replayed payload %q, got %q", first, second)
	}
	if *calls != 1 {
		t.Fatalf("handler ran %d times, want 1", *calls)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(second), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	app, calls, cleanup := idempotencyApp(t)
	defer cleanup()

	status, aliceBody := doPost(t, app, "alice", "shared-key-1")
	if status != fiber.StatusCreated {
		t.Fatalf("alice: expected %d got %d", fiber.StatusCreated, status)
	}
	status, bobBody := doPost(t, app, "bob", "shared-key-1")
	if status != fiber.StatusCreated {
		t.Fatalf("bob: expected %d got %d", fiber.StatusCreated, status)
	}

	if *calls != 2 {
		t.Fatalf("handler ran %d times, want 2 (one per user)", *calls)
	}
	if aliceBody == bobBody {
		t.Fatalf("bob received alice's cached response: %q", bobBody)
	}
	var bob map[string]any
	if err := json.Unmarshal([]byte(bobBody), &bob); err != nil {
		t.Fatalf("bob payload invalid json: %v", err)
	}
	if bob["user"] != "bob" {
		t.Fatalf("bob's response belongs to %v", bob["user"])
	}
}
