package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

const (
	AuthHeaderKey = "Authorization"

	// UserKey is the gin context key holding the validated *User
	UserKey = "admin_user"
)

var (
	// ErrInvalidToken means the access token is malformed, expired or forged.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrValidationFailed means the auth platform could not be asked.
	ErrValidationFailed = errors.New("access token validation failed")
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Session struct {
	User        User
	AccessToken string
	ExpiresAt   time.Time
}

// Claims are the access token claims issued by the auth platform.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// SessionSource extracts the admin session of a request. It returns nil and
// no error when the request carries no session at all.
type SessionSource interface {
	Session(r *http.Request) (*Session, error)
}

// Validator re-validates an access token against the auth platform.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*User, error)
}

// CookieSessions reads the access token from a cookie, falling back to an
// Authorization bearer header, and verifies it locally.
type CookieSessions struct {
	cookieName string
	keyfunc    jwt.Keyfunc
	jwks       *keyfunc.JWKS
	parser     *jwt.Parser
}

// NewHMACSessions verifies HS256 tokens signed with the platform's JWT secret.
func NewHMACSessions(cookieName, secret string) (*CookieSessions, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	key := []byte(secret)
	return &CookieSessions{
		cookieName: cookieName,
		keyfunc: func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		},
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}, nil
}

// NewJWKSSessions verifies asymmetric tokens against the platform's JWKS,
// refreshing the key set hourly and on unknown key IDs.
func NewJWKSSessions(cookieName, jwksURL string, log *zap.SugaredLogger) (*CookieSessions, error) {
	options := keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Errorw("Failed to refresh JWKS", "url", jwksURL, "error", err)
		},
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, fmt.Errorf("could not get JWKS from %s: %w", jwksURL, err)
	}
	return &CookieSessions{
		cookieName: cookieName,
		keyfunc:    jwks.Keyfunc,
		jwks:       jwks,
		parser:     jwt.NewParser(),
	}, nil
}

func (s *CookieSessions) Session(r *http.Request) (*Session, error) {
	raw := s.rawToken(r)
	if raw == "" {
		return nil, nil
	}

	claims := &Claims{}
	if _, err := s.parser.ParseWithClaims(raw, claims, s.keyfunc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	sess := &Session{
		User:        User{ID: claims.Subject, Email: claims.Email, Role: claims.Role},
		AccessToken: raw,
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

func (s *CookieSessions) rawToken(r *http.Request) string {
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get(AuthHeaderKey); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

// Close stops the background JWKS refresh, if any.
func (s *CookieSessions) Close() {
	if s.jwks != nil {
		s.jwks.EndBackground()
	}
}

// SetUser stores the validated admin on the request context.
func SetUser(c *gin.Context, u *User) {
	c.Set(UserKey, u)
}

// UserFrom returns the admin validated by the gate, if any.
func UserFrom(c *gin.Context) (*User, bool) {
	v, ok := c.Get(UserKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*User)
	return u, ok && u != nil
}
