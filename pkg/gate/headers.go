package gate

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mrblonde/orders/pkg/ratelimit"
)

const (
	HeaderRateLimit     = "X-RateLimit-Limit"
	HeaderRateRemaining = "X-RateLimit-Remaining"
	HeaderRateReset     = "X-RateLimit-Reset"
	HeaderRetryAfter    = "Retry-After"
	HeaderCSRFToken     = "X-CSRF-Token"
)

var securityHeaders = [][2]string{
	{"X-Frame-Options", "DENY"},
	{"X-Content-Type-Options", "nosniff"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"X-XSS-Protection", "1; mode=block"},
}

func setSecurityHeaders(c *gin.Context) {
	for _, h := range securityHeaders {
		c.Header(h[0], h[1])
	}
}

// setRateHeaders attaches the quota headers. The reset value is in
// milliseconds.
func setRateHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header(HeaderRateLimit, strconv.Itoa(res.Limit))
	c.Header(HeaderRateRemaining, strconv.Itoa(res.Remaining))
	c.Header(HeaderRateReset, strconv.FormatInt(res.ResetIn.Milliseconds(), 10))
}

// retryAfterSeconds rounds the reset time up to whole seconds.
func retryAfterSeconds(res ratelimit.Result) int64 {
	ms := res.ResetIn.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
