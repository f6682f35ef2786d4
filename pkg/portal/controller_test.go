package portal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/apiresponses"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	m, _, _ := newTestManager(t, false)
	ctrl := NewController(m, zap.NewNop().Sugar())

	r := gin.New()
	require.NoError(t, ctrl.Register(r.Group("/api/"+ctrl.BasePath())))
	return r, m
}

func postJSON(r http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestControllerLogin(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		status   int
		wantCode string
	}{
		{"short tax id", `{"taxId":"123","token":"123456"}`, http.StatusUnprocessableEntity, "INVALID_TAX_ID"},
		{"bad token", `{"taxId":"20318951552","token":"12"}`, http.StatusUnprocessableEntity, "INVALID_TOKEN"},
		{"unknown client", `{"taxId":"12345678901","token":"123456"}`, http.StatusUnauthorized, "CLIENT_NOT_FOUND"},
		{"wrong token", `{"taxId":"20318951552","token":"999999"}`, http.StatusUnauthorized, "INCORRECT_TOKEN"},
		{"blocked", `{"taxId":"99988877766","token":"999888"}`, http.StatusForbidden, "CLIENT_NOT_ALLOWED"},
		{"malformed body", `{"taxId":`, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(t)
			w := postJSON(r, "/api/portal/login", tt.body)
			assert.Equal(t, tt.status, w.Code)

			var body apiresponses.APIError
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
			assert.Empty(t, w.Header().Values("Set-Cookie"))
		})
	}
}

func TestControllerLoginSuccessAndMe(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(r, "/api/portal/login", `{"taxId":"203.189.515-52","token":"203189"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var view ClientView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "c1", view.ID)
	assert.Equal(t, "Salão Bela", view.Name)
	assert.NotContains(t, w.Body.String(), "203189", "access code is never echoed")

	ck := findCookie(w)
	require.NotNil(t, ck)

	req := httptest.NewRequest(http.MethodGet, "/api/portal/me", nil)
	req.AddCookie(ck)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "c1", view.ID)
}

func TestControllerLoginForm(t *testing.T) {
	r, _ := newTestRouter(t)

	form := url.Values{"taxId": {"11122233344"}, "token": {"654321"}}
	req := httptest.NewRequest(http.MethodPost, "/api/portal/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, findCookie(w))
}

func TestControllerMeWithoutSession(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/portal/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestControllerLogout(t *testing.T) {
	r, m := newTestRouter(t)

	w := postJSON(r, "/api/portal/logout", "", &http.Cookie{Name: CookieName, Value: m.signer.Sign("c1")})
	assert.Equal(t, http.StatusNoContent, w.Code)

	ck := findCookie(w)
	require.NotNil(t, ck)
	assert.Less(t, ck.MaxAge, 0)
}
