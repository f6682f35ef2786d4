package portal

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/audit"
	"github.com/mrblonde/orders/pkg/metrics"
	"github.com/mrblonde/orders/pkg/ratelimit"
	"github.com/mrblonde/orders/pkg/store"
	"github.com/mrblonde/orders/pkg/system"
	"github.com/mrblonde/orders/pkg/token"
)

const (
	CookieName = "portal_client_id"
	// CookieMaxAge is seven days, in seconds
	CookieMaxAge = 7 * 24 * 60 * 60
	LoginPath    = "/portal/login"
	PagesPrefix  = "/portal"

	TaxIDLength = 11
	TokenLength = 6

	identityKey = "portal_identity"
)

var (
	ErrInvalidTaxID      = errors.New("tax id must have exactly 11 digits")
	ErrInvalidTokenInput = errors.New("access code must have exactly 6 digits")
	ErrClientNotFound    = errors.New("client not found")
	ErrIncorrectToken    = errors.New("incorrect access code")
	ErrClientNotAllowed  = errors.New("client is not allowed to access the portal")
)

// Manager resolves and issues portal sessions.
type Manager struct {
	signer  *token.Signer
	clients store.Clients
	secure  bool
	log     *zap.SugaredLogger
	audit   *audit.Manager
}

// NewManager creates a Manager. secure marks the cookie Secure and should be
// true in production. auditor may be nil.
func NewManager(signer *token.Signer, clients store.Clients, secure bool, log *zap.SugaredLogger, auditor *audit.Manager) *Manager {
	return &Manager{
		signer:  signer,
		clients: clients,
		secure:  secure,
		log:     log,
		audit:   auditor,
	}
}

// NormalizeTaxID strips everything but digits.
func NormalizeTaxID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Identity returns the client of the current portal session, or nil. A cookie
// whose signature does not verify is deleted. Lookup failures are logged and
// treated as no session. The result is memoized on the request.
func (m *Manager) Identity(c *gin.Context) *store.Client {
	if v, ok := c.Get(identityKey); ok {
		client, _ := v.(*store.Client)
		return client
	}
	client := m.resolve(c)
	c.Set(identityKey, client)
	if client != nil {
		c.Set(system.PortalClientKey, client.ID)
	}
	return client
}

func (m *Manager) resolve(c *gin.Context) *store.Client {
	raw, err := c.Cookie(CookieName)
	if err != nil || raw == "" {
		return nil
	}

	log := system.GetReqLogger(c, m.log)

	clientID, ok := m.signer.Verify(raw)
	if !ok {
		log.Warnw("Portal cookie failed signature verification, purging it")
		metrics.PortalInvalidCookies.Inc()
		m.audit.PortalCookiePurged(c.Request.Context(), actorOf(c, ""), c.Request.URL.Path)
		m.clearCookie(c)
		return nil
	}

	client, err := m.clients.ClientByID(c.Request.Context(), clientID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Errorw("Portal session lookup failed", "client_id", clientID, "error", err)
		}
		return nil
	}
	return client
}

// Require returns the portal client or, when there is none, redirects to the
// portal login page and aborts. The bool reports whether a client was found.
func (m *Manager) Require(c *gin.Context) (*store.Client, bool) {
	client := m.Identity(c)
	if client == nil {
		c.Redirect(http.StatusSeeOther, LoginPath)
		c.Abort()
		return nil, false
	}
	return client, true
}

// PagesMiddleware guards the portal pages. Every path at or below /portal
// except the login page needs a portal session; without one the request is
// redirected to the login page. The gate lets /portal through as public, so
// this is the only check those pages get.
func (m *Manager) PagesMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !isPortalPage(path) {
			c.Next()
			return
		}
		if _, ok := m.Require(c); !ok {
			return
		}
		c.Next()
	}
}

func isPortalPage(path string) bool {
	if path != PagesPrefix && !strings.HasPrefix(path, PagesPrefix+"/") {
		return false
	}
	return path != LoginPath && !strings.HasPrefix(path, LoginPath+"/")
}

// Login checks the tax id and access code and, on success, sets the signed
// session cookie. Input is validated before any database access. A client
// without a stored access code gets the first six digits of its tax id.
func (m *Manager) Login(c *gin.Context, taxID, accessCode string) (*store.Client, error) {
	ctx := c.Request.Context()
	log := system.GetReqLogger(c, m.log)

	normalized := NormalizeTaxID(taxID)
	if len(normalized) != TaxIDLength {
		m.loginFailed(c, "invalid_input", ErrInvalidTaxID)
		return nil, ErrInvalidTaxID
	}
	accessCode = strings.TrimSpace(accessCode)
	if !isDigits(accessCode, TokenLength) {
		m.loginFailed(c, "invalid_input", ErrInvalidTokenInput)
		return nil, ErrInvalidTokenInput
	}

	client, err := m.clients.ClientByTaxID(ctx, normalized)
	if errors.Is(err, store.ErrNotFound) {
		m.loginFailed(c, "not_found", ErrClientNotFound)
		return nil, ErrClientNotFound
	}
	if err != nil {
		metrics.PortalLogins.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("looking up client: %w", err)
	}

	stored := client.PortalToken
	if stored == "" {
		stored = normalized[:TokenLength]
		if err := m.clients.SetPortalToken(ctx, client.ID, stored); err != nil {
			metrics.PortalLogins.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("provisioning portal access code: %w", err)
		}
		client.PortalToken = stored
		log.Infow("Provisioned portal access code", "client_id", client.ID)
	}

	if subtle.ConstantTimeCompare([]byte(accessCode), []byte(stored)) != 1 {
		m.loginFailed(c, "incorrect_token", ErrIncorrectToken)
		return nil, ErrIncorrectToken
	}
	if !client.PortalAllowed() {
		m.loginFailed(c, "not_allowed", ErrClientNotAllowed)
		return nil, ErrClientNotAllowed
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, m.signer.Sign(client.ID), CookieMaxAge, "/", "", m.secure, true)
	c.Set(identityKey, client)
	c.Set(system.PortalClientKey, client.ID)

	metrics.PortalLogins.WithLabelValues("success").Inc()
	m.audit.PortalLoginSucceeded(ctx, actorOf(c, client.ID), c.Request.URL.Path)
	log.Infow("Portal login succeeded", "client_id", client.ID)
	return client, nil
}

// Logout deletes the session cookie.
func (m *Manager) Logout(c *gin.Context) {
	clientID := ""
	if client := m.Identity(c); client != nil {
		clientID = client.ID
	}
	m.clearCookie(c)
	c.Set(identityKey, (*store.Client)(nil))
	m.audit.PortalLogout(c.Request.Context(), actorOf(c, clientID), c.Request.URL.Path)
}

func (m *Manager) clearCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, "", -1, "/", "", m.secure, true)
}

func (m *Manager) loginFailed(c *gin.Context, result string, reason error) {
	metrics.PortalLogins.WithLabelValues(result).Inc()
	m.audit.PortalLoginFailed(c.Request.Context(), actorOf(c, ""), c.Request.URL.Path, result)
	system.GetReqLogger(c, m.log).Infow("Portal login rejected", "result", result, "reason", reason.Error())
}

func actorOf(c *gin.Context, clientID string) audit.Actor {
	a := audit.Actor{
		User:      clientID,
		SourceIP:  ratelimit.ClientIdentifier(c.Request),
		UserAgent: c.Request.UserAgent(),
	}
	if clientID != "" {
		a.Kind = audit.KindClient
	}
	return a
}
