package gate

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/audit"
	"github.com/mrblonde/orders/pkg/auth"
	"github.com/mrblonde/orders/pkg/metrics"
	"github.com/mrblonde/orders/pkg/ratelimit"
	"github.com/mrblonde/orders/pkg/store"
	"github.com/mrblonde/orders/pkg/system"
)

// Terminal actions, also used as metric labels.
const (
	ActionPass      = "pass"
	ActionRedirect  = "redirect"
	ActionDeny      = "deny"
	ActionForbidden = "forbidden"
	actionSkip      = "skip"
)

const tracerName = "github.com/mrblonde/orders/pkg/gate"

var ErrMissingAdminDirectory = errors.New("gate needs an admin directory")

type Options struct {
	// Development disables rate limiting.
	Development bool
	// BaseURL is the public URL of the application, used for CSRF checks.
	BaseURL string
	// EnforceCSRF answers mutating requests without same-origin evidence with
	// 403 instead of only logging them.
	EnforceCSRF bool

	Limiters *ratelimit.Set
	Admins   store.AdminDirectory
	// Sessions may be nil, in which case no request carries an admin session.
	Sessions auth.SessionSource
	// Validator may be nil, in which case locally verified sessions are trusted.
	Validator auth.Validator
	Audit     *audit.Manager
	Log       *zap.SugaredLogger
}

// Gate decides, per request, whether to pass it on, redirect it or deny it.
type Gate struct {
	development bool
	enforceCSRF bool
	baseOrigin  string

	limiters  *ratelimit.Set
	admins    store.AdminDirectory
	sessions  auth.SessionSource
	validator auth.Validator
	audit     *audit.Manager
	log       *zap.SugaredLogger

	// set once the first admin is seen; admins are never all removed at runtime
	adminsKnown atomic.Bool
}

func New(opts Options) (*Gate, error) {
	if opts.Admins == nil {
		return nil, ErrMissingAdminDirectory
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gate{
		development: opts.Development,
		enforceCSRF: opts.EnforceCSRF,
		baseOrigin:  originOf(opts.BaseURL),
		limiters:    opts.Limiters,
		admins:      opts.Admins,
		sessions:    opts.Sessions,
		validator:   opts.Validator,
		audit:       opts.Audit,
		log:         log,
	}, nil
}

// Middleware returns the gate as gin middleware.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		bucket := ratelimit.Classify(path)

		ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), "gate",
			trace.WithAttributes(attribute.String("orders.ratelimit.bucket", string(bucket))))
		c.Request = c.Request.WithContext(ctx)
		action := g.evaluate(c, path, bucket)
		span.SetAttributes(attribute.String("orders.gate.action", action))
		if loc := c.Writer.Header().Get("Location"); loc != "" {
			span.SetAttributes(attribute.String("orders.gate.redirect", loc))
		}
		span.End()

		if action != actionSkip {
			metrics.GateDecisions.WithLabelValues(action, string(bucket)).Inc()
		}
		if action == ActionPass || action == actionSkip {
			c.Next()
		}
	}
}

func (g *Gate) evaluate(c *gin.Context, path string, bucket ratelimit.Bucket) string {
	setSecurityHeaders(c)
	if skipped(path) {
		return actionSkip
	}

	r := c.Request
	ctx := r.Context()
	log := system.GetReqLogger(c, g.log)
	actor := audit.Actor{
		SourceIP:  ratelimit.ClientIdentifier(r),
		UserAgent: r.UserAgent(),
	}

	if !g.development && g.limiters != nil {
		res := g.limiters.For(bucket).Check(ctx, actor.SourceIP, bucket)
		setRateHeaders(c, res)
		if !res.Allowed {
			return g.deny(c, log, actor, bucket, res)
		}
	}

	if isMutating(r.Method) && !g.sameOrigin(r) {
		metrics.CSRFFlagged.WithLabelValues(r.Method, strconv.FormatBool(g.enforceCSRF)).Inc()
		g.audit.CSRFFlagged(ctx, actor, r.Method, path, g.enforceCSRF)
		log.Warnw("Mutating request without same-origin evidence",
			"origin", r.Header.Get("Origin"), "referer", r.Referer(), "enforced", g.enforceCSRF)
		if g.enforceCSRF {
			c.String(http.StatusForbidden, "Forbidden")
			c.Abort()
			return ActionForbidden
		}
	}

	if isPublic(path) {
		return ActionPass
	}

	if !g.adminsExist(ctx, log) {
		if path == SignupPath {
			return ActionPass
		}
		return redirect(c, SignupPath)
	}
	if path == SignupPath {
		return redirect(c, LoginPath)
	}

	user, reason := g.currentUser(c, log)
	if user == nil {
		if reason != "" {
			actor.Kind = audit.KindAdmin
			g.audit.SessionInvalidated(ctx, actor, path, reason)
		}
		if isAnonymous(path) {
			return ActionPass
		}
		return redirect(c, LoginPath)
	}

	auth.SetUser(c, user)
	c.Set(system.UserIDKey, user.ID)
	if user.Email != "" {
		c.Set(system.EmailKey, user.Email)
	}
	system.EnrichReqLoggerWithAuth(c, log)

	if path == RootPath {
		return redirect(c, AdminPath)
	}
	return ActionPass
}

func (g *Gate) deny(c *gin.Context, log *zap.SugaredLogger, actor audit.Actor, bucket ratelimit.Bucket, res ratelimit.Result) string {
	metrics.RateLimitDenied.WithLabelValues(string(bucket)).Inc()
	g.audit.RateLimitExceeded(c.Request.Context(), actor, c.Request.URL.Path, string(bucket), res.ResetIn)
	log.Infow("Rate limit exceeded", "client", actor.SourceIP, "bucket", bucket, "reset_in", res.ResetIn)

	c.Header(HeaderRateRemaining, "0")
	c.Header(HeaderRetryAfter, strconv.FormatInt(retryAfterSeconds(res), 10))
	c.String(http.StatusTooManyRequests, "Too Many Requests")
	c.Abort()
	return ActionDeny
}

func redirect(c *gin.Context, target string) string {
	metrics.GateRedirects.WithLabelValues(target).Inc()
	c.Redirect(http.StatusSeeOther, target)
	c.Abort()
	return ActionRedirect
}

// adminsExist asks the directory whether any admin user exists. A lookup
// error counts as "yes" so the signup route is never opened by an outage.
func (g *Gate) adminsExist(ctx context.Context, log *zap.SugaredLogger) bool {
	if g.adminsKnown.Load() {
		return true
	}
	exists, err := g.admins.AnyAdminExists(ctx)
	if err != nil {
		log.Errorw("Admin lookup failed, assuming admins exist", "error", err)
		return true
	}
	if exists {
		g.adminsKnown.Store(true)
	}
	return exists
}

// currentUser resolves and re-validates the admin session. When it returns
// nil, reason is empty if there was no session at all and names the failure
// otherwise.
func (g *Gate) currentUser(c *gin.Context, log *zap.SugaredLogger) (*auth.User, string) {
	if g.sessions == nil {
		return nil, ""
	}
	sess, err := g.sessions.Session(c.Request)
	if err != nil {
		log.Infow("Discarding invalid admin session", "error", err)
		return nil, "invalid_token"
	}
	if sess == nil {
		return nil, ""
	}
	if g.validator == nil {
		user := sess.User
		return &user, ""
	}

	user, err := g.validator.Validate(c.Request.Context(), sess.AccessToken)
	if err != nil {
		reason := "validation_failed"
		if errors.Is(err, auth.ErrInvalidToken) {
			reason = "rejected"
		}
		log.Warnw("Admin session failed re-validation", "user_id", sess.User.ID, "reason", reason, "error", err)
		return nil, reason
	}
	return user, ""
}
