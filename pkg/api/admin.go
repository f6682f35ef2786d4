package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/apiresponses"
	"github.com/mrblonde/orders/pkg/audit"
	"github.com/mrblonde/orders/pkg/auth"
	"github.com/mrblonde/orders/pkg/ratelimit"
	"github.com/mrblonde/orders/pkg/system"
)

// AdminController serves the back-office endpoints that belong to the request
// gate: the current admin identity and the rate-limit override.
type AdminController struct {
	limiters *ratelimit.Set
	audit    *audit.Manager
	log      *zap.SugaredLogger
}

func NewAdminController(limiters *ratelimit.Set, auditor *audit.Manager, log *zap.SugaredLogger) *AdminController {
	return &AdminController{limiters: limiters, audit: auditor, log: log}
}

func (AdminController) BasePath() string {
	return "admin/"
}

func (AdminController) Handlers() []gin.HandlerFunc {
	return []gin.HandlerFunc{requireAdmin}
}

func (ac *AdminController) Register(rg *gin.RouterGroup) error {
	rg.GET("/session", ac.handleSession)
	rg.POST("/ratelimit/reset", ac.handleRateLimitReset)
	return nil
}

// requireAdmin rejects requests the gate did not attach an admin to. The gate
// already redirects those, this only guards against routing mistakes.
func requireAdmin(c *gin.Context) {
	if _, ok := auth.UserFrom(c); !ok {
		apiresponses.RespondUnauthorizedWithMessage(c, "")
		c.Abort()
		return
	}
	c.Next()
}

func (ac *AdminController) handleSession(c *gin.Context) {
	user, _ := auth.UserFrom(c)
	apiresponses.RespondOK(c, user)
}

type RateLimitResetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	// Bucket is optional; empty resets every bucket of the identifier
	Bucket string `json:"bucket"`
}

type RateLimitResetResponse struct {
	Identifier string   `json:"identifier"`
	Buckets    []string `json:"buckets"`
}

func (ac *AdminController) handleRateLimitReset(c *gin.Context) {
	var req RateLimitResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequest(c, "identifier is required")
		return
	}

	buckets := ratelimit.Buckets
	if req.Bucket != "" {
		b, err := ratelimit.ParseBucket(req.Bucket)
		if err != nil {
			apiresponses.RespondBadRequest(c, err.Error())
			return
		}
		buckets = []ratelimit.Bucket{b}
	}

	user, _ := auth.UserFrom(c)
	actor := audit.Actor{
		User:      user.ID,
		SourceIP:  ratelimit.ClientIdentifier(c.Request),
		UserAgent: c.Request.UserAgent(),
	}
	resp := RateLimitResetResponse{Identifier: req.Identifier}
	for _, b := range buckets {
		ac.limiters.For(b).Reset(c.Request.Context(), req.Identifier, b)
		ac.audit.RateLimitReset(c.Request.Context(), actor, req.Identifier, string(b))
		resp.Buckets = append(resp.Buckets, string(b))
	}

	system.GetReqLogger(c, ac.log).Infow("Rate limit reset", "identifier", req.Identifier, "buckets", resp.Buckets)
	apiresponses.RespondOK(c, resp)
}
