package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, role string, expiresIn time.Duration) string {
	t.Helper()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func newTestApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(RequestID())
	app.Use(JWTAuth(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(Operator(c))
	})
	app.Post("/reviews", RequireRole(RoleReviewer), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestJWTAuth(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"malformed header", "Token abc", fiber.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", "ops-1", RoleOperator, time.Hour), fiber.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, "ops-1", RoleOperator, -time.Hour), fiber.StatusUnauthorized},
		{"missing subject", "Bearer " + signToken(t, testSecret, "", RoleOperator, time.Hour), fiber.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, "ops-1", RoleOperator, time.Hour), fiber.StatusOK},
	}

	app := newTestApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		role string
		want int
	}{
		{RoleOperator, fiber.StatusForbidden},
		{RoleReviewer, fiber.StatusNoContent},
		{RoleAdmin, fiber.StatusNoContent},
	}

	app := newTestApp()
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/reviews", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "ops-1", tt.role, time.Hour))
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRateLimiterLocal(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(NewRateLimiter(nil, "test", 1, 1).Handler())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		codes = append(codes, resp.StatusCode)
	}

	if codes[0] != fiber.StatusOK || codes[1] != fiber.StatusOK {
		t.Errorf("expected first two requests to pass, got %v", codes)
	}
	if codes[2] != fiber.StatusTooManyRequests {
		t.Errorf("expected third request to be limited, got %d", codes[2])
	}
}

func TestRecover(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(Recover())
	app.Get("/", func(c *fiber.Ctx) error { panic("boom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}
