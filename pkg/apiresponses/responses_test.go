package apiresponses

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mrblonde/orders/pkg/system"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) APIError {
	t.Helper()
	var body APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorResponses(t *testing.T) {
	tests := []struct {
		name       string
		respond    func(c *gin.Context)
		wantStatus int
		wantCode   string
		wantError  string
	}{
		{"explicit code", func(c *gin.Context) { RespondError(c, http.StatusUnprocessableEntity, "INVALID_TAX_ID", "bad") }, http.StatusUnprocessableEntity, "INVALID_TAX_ID", "bad"},
		{"not found", func(c *gin.Context) { RespondNotFoundSimple(c, "client not found") }, http.StatusNotFound, "NOT_FOUND", "client not found"},
		{"unauthorized default", func(c *gin.Context) { RespondUnauthorizedWithMessage(c, "") }, http.StatusUnauthorized, "UNAUTHORIZED", "user not authenticated"},
		{"bad request", func(c *gin.Context) { RespondBadRequest(c, "invalid body") }, http.StatusBadRequest, "BAD_REQUEST", "invalid body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			tt.respond(c)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}

func TestRespondInternalErrorHidesCause(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	RespondInternalError(c, "load client", errors.New("pq: password authentication failed"), zap.New(core).Sugar())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Equal(t, "failed to load client", decode(t, w).Error)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to load client", logs.All()[0].Message)
}

func TestSuccessResponses(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondOK(c, gin.H{"ok": true})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	RespondNoContent(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestErrorCarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Header(system.RequestIDHeader, "req-42")

	RespondBadRequest(c, "invalid body")

	assert.True(t, c.IsAborted())
	assert.Equal(t, "req-42", decode(t, w).RequestID)
}
