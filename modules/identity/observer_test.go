package identity

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func testObserver() *Observer {
	return NewObserver(Config{SecretKey: "test-secret", Issuer: "ephemeral-chat"})
}

func TestObserver_IssueAndValidate(t *testing.T) {
	o := testObserver()
	token, err := o.Issue(User{ID: "u1", Email: "a@example.com", Name: "Alice"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	user, err := o.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("user.ID = %v, want %v", user.ID, "u1")
	}
	if user.Name != "Alice" {
		t.Errorf("user.Name = %v, want %v", user.Name, "Alice")
	}
}

func TestObserver_Validate_Errors(t *testing.T) {
	o := testObserver()
	expired, _ := o.Issue(User{ID: "u1"}, -time.Minute)
	foreign, _ := NewObserver(Config{SecretKey: "other", Issuer: "ephemeral-chat"}).Issue(User{ID: "u1"}, time.Minute)
	wrongIssuer, _ := NewObserver(Config{SecretKey: "test-secret", Issuer: "elsewhere"}).Issue(User{ID: "u1"}, time.Minute)
	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Validate(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if o.Current(tt.token) != nil {
				t.Error("Current() should be nil for an invalid token")
			}
		})
	}
}

func TestObserver_Disabled(t *testing.T) {
	o := NewObserver(Config{})
	if o.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	if _, err := o.Issue(User{ID: "u1"}, time.Minute); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Issue() error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BearerToken(tt.header); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestMiddleware_NeverRejects(t *testing.T) {
	o := testObserver()
	token, err := o.Issue(User{ID: "u9", Name: "Zed"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	app := fiber.New()
	app.Use(o.Middleware())
	app.Get("/", func(c *fiber.Ctx) error {
		if user := FromCtx(c); user != nil {
			return c.SendString(user.ID)
		}
		return c.SendString("anonymous")
	})

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer " + token, "u9"},
		{"bad token", "Bearer nope", "anonymous"},
		{"no header", "", "anonymous"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != fiber.StatusOK {
				t.Errorf("status = %v, want %v", resp.StatusCode, fiber.StatusOK)
			}
			body, _ := io.ReadAll(resp.Body)
			if string(body) != tt.want {
				t.Errorf("body = %q, want %q", body, tt.want)
			}
		})
	}
}
