package apiresponses

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/system"
)

// Generic error codes. Handlers with their own vocabulary (the portal login
// codes, for instance) pass it to RespondError directly.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeInternal     = "INTERNAL_ERROR"
)

// APIError is the body of every JSON error. RequestID echoes X-Request-ID so
// a user report can be matched to the server logs.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// RespondError aborts the request with status and a machine readable code.
func RespondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, APIError{
		Error:     message,
		Code:      code,
		RequestID: c.Writer.Header().Get(system.RequestIDHeader),
	})
}

func RespondNotFoundSimple(c *gin.Context, message string) {
	RespondError(c, http.StatusNotFound, CodeNotFound, message)
}

func RespondUnauthorizedWithMessage(c *gin.Context, message string) {
	if message == "" {
		message = "user not authenticated"
	}
	RespondError(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// RespondBadRequest is for bodies that do not bind or parameters that do
// not parse.
func RespondBadRequest(c *gin.Context, message string) {
	RespondError(c, http.StatusBadRequest, CodeBadRequest, message)
}

// RespondInternalError logs err and answers with a message that only names
// the failed operation, never the cause.
func RespondInternalError(c *gin.Context, operation string, err error, log *zap.SugaredLogger) {
	if log != nil {
		log.Errorw("Failed to "+operation, "error", err)
	}
	RespondError(c, http.StatusInternalServerError, CodeInternal, "failed to "+operation)
}

func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
