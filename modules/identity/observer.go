// Package identity observes an optional signed-in user from a bearer token.
// Chat logic never depends on it; the display name stays self-chosen.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
)

// LocalsKey is the fiber.Ctx locals key holding the observed *User.
const LocalsKey = "identity"

// Config holds the token settings.
type Config struct {
	SecretKey string
	Issuer    string
}

// User is the signed-in user carried by a token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Claims are the JWT claims understood by the observer.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Observer validates bearer tokens. With an empty secret every lookup
// yields no user.
type Observer struct {
	config Config
}

// NewObserver creates an Observer.
func NewObserver(config Config) *Observer {
	return &Observer{config: config}
}

// Enabled reports whether a signing secret is configured.
func (o *Observer) Enabled() bool {
	return o.config.SecretKey != ""
}

// Issue signs a token for user, valid for ttl.
func (o *Observer) Issue(user User, ttl time.Duration) (string, error) {
	if !o.Enabled() {
		return "", ErrInvalidToken
	}
	now := time.Now()
	claims := Claims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(o.config.SecretKey))
}

// Validate parses tokenString and returns its user.
func (o *Observer) Validate(tokenString string) (*User, error) {
	if !o.Enabled() || tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(o.config.SecretKey), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if o.config.Issuer != "" && claims.Issuer != o.config.Issuer {
		return nil, ErrInvalidToken
	}

	return &User{ID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
}

// Current returns the user for tokenString, or nil when there is none.
func (o *Observer) Current(tokenString string) *User {
	user, err := o.Validate(tokenString)
	if err != nil {
		return nil
	}
	return user
}

// Middleware stores the observed user, if any, in the request locals. It
// never rejects a request.
func (o *Observer) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			token = c.Query("token")
		}
		if user := o.Current(token); user != nil {
			c.Locals(LocalsKey, user)
		}
		return c.Next()
	}
}

// FromCtx returns the user stored by Middleware, or nil.
func FromCtx(c *fiber.Ctx) *User {
	user, _ := c.Locals(LocalsKey).(*User)
	return user
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
