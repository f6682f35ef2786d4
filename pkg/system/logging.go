package system

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
	ReqLoggerKey = "reqLogger"

	// Identity keys set by the gate and the portal, read when enriching loggers
	UserIDKey       = "user_id"
	EmailKey        = "email"
	PortalClientKey = "portal_client"

	RequestIDHeader = "X-Request-ID"
)

// RequestLogger stores a logger carrying the request id, method and path in
// the gin context. An incoming X-Request-ID is reused, otherwise one is
// generated and echoed back.
func RequestLogger(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		c.Set(ReqLoggerKey, base.With(
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		))
		c.Next()
	}
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// EnrichReqLoggerWithAuth annotates the request-scoped logger with the admin
// user id and email or the portal client id found in the gin context, and
// stores the result back so later handlers see the same fields.
func EnrichReqLoggerWithAuth(c *gin.Context, reqLogger *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil || reqLogger == nil {
		return reqLogger
	}
	if id := c.GetString(UserIDKey); id != "" {
		reqLogger = reqLogger.With("user_id", id)
	}
	if email := c.GetString(EmailKey); email != "" {
		reqLogger = reqLogger.With("email", email)
	}
	if client := c.GetString(PortalClientKey); client != "" {
		reqLogger = reqLogger.With("portal_client", client)
	}
	c.Set(ReqLoggerKey, reqLogger)
	return reqLogger
}
