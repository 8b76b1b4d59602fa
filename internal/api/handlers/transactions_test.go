package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

// testApp mounts the handler behind a stub auth layer that injects the user
// the same way the JWT middleware does.
func testApp(authenticated bool) *fiber.App {
	handler := NewTransactionHandler(nil)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if authenticated {
			c.Locals("user_id", "user_test")
		}
		return c.Next()
	})
	app.Post("/api/v1/transactions", handler.SubmitTransactions)
	return app
}

func postJSON(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestSubmitTransactionsUnauthorized(t *testing.T) {
	app := testApp(false)
	resp := postJSON(t, app, `{"transactions":[]}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestSubmitTransactionsEmptyBatch(t *testing.T) {
	app := testApp(true)
	resp := postJSON(t, app, `{"transactions":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitTransactionsRejectsBadTarget(t *testing.T) {
	app := testApp(true)
	resp := postJSON(t, app, `{"transactions":[{"chain_id":8453,"target":"not-an-address","data":"0x"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitTransactionsRejectsBadCalldata(t *testing.T) {
	app := testApp(true)
	resp := postJSON(t, app, `{"transactions":[{"chain_id":8453,"target":"0x1111111111111111111111111111111111111111","data":"zzzz"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitTransactionsRejectsBadValue(t *testing.T) {
	app := testApp(true)
	resp := postJSON(t, app, `{"transactions":[{"chain_id":8453,"target":"0x1111111111111111111111111111111111111111","data":"0x","value":"1.5"}]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
