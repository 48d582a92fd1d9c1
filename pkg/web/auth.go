package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Role is an operator's permission level.
type Role string

const (
	// RoleViewer receives telemetry only.
	RoleViewer Role = "viewer"
	// RoleController may also drive and reconfigure the rover.
	RoleController Role = "controller"
)

// CanControl reports whether r may send control and config.
func (r Role) CanControl() bool {
	return r == RoleController
}

var (
	// ErrUnauthorized indicates a missing or invalid token.
	ErrUnauthorized = errors.New("web: unauthorized")

	// ErrForbidden indicates a valid token without the needed role.
	ErrForbidden = errors.New("web: forbidden")
)

// Claims are the JWT claims accepted by the server.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 operator tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for subject with role, valid for ttl.
func (a *Authenticator) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses and validates a token.
func (a *Authenticator) Verify(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	switch claims.Role {
	case RoleViewer, RoleController:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, claims.Role)
	}
	return claims, nil
}

// tokenFrom reads a bearer token from the Authorization header, or the
// token query parameter for browser websockets.
func tokenFrom(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// authenticate resolves the caller's role. Without an authenticator
// everyone is a controller.
func (s *Server) authenticate(c *fiber.Ctx) (Role, error) {
	if s.auth == nil {
		return RoleController, nil
	}
	claims, err := s.auth.Verify(tokenFrom(c))
	if err != nil {
		return "", err
	}
	return claims.Role, nil
}

// requireController guards mutating routes.
func (s *Server) requireController(c *fiber.Ctx) error {
	role, err := s.authenticate(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	if !role.CanControl() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ErrForbidden.Error()})
	}
	return c.Next()
}
