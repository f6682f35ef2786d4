package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrblonde/orders/pkg/apiresponses"
	"github.com/mrblonde/orders/pkg/config"
	"github.com/mrblonde/orders/pkg/gate"
	"github.com/mrblonde/orders/pkg/portal"
	"github.com/mrblonde/orders/pkg/store"
	"github.com/mrblonde/orders/pkg/token"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Environment: config.EnvDevelopment,
		Server:      config.Server{ListenAddress: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second},
		Frontend:    config.Frontend{BaseURL: "http://localhost:8080", DistDir: writeBundle(t)},
	}
}

func newTestServer(t *testing.T, g *gate.Gate) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(zaptest.NewLogger(t), testConfig(t), true, g)
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestServerProbes(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsOnlyOnMetricsHandler(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/metrics")
	assert.NotContains(t, w.Body.String(), "orders_portal_invalid_cookies_total")

	w = httptest.NewRecorder()
	s.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orders_portal_invalid_cookies_total")

	w = httptest.NewRecorder()
	s.MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsGatedOnMainListener(t *testing.T) {
	mem := store.NewMemory()
	g, err := gate.New(gate.Options{Development: true, Admins: mem})
	require.NoError(t, err)
	s := newTestServer(t, g)

	// no admin yet, so anything not public or skipped goes to signup
	w := serve(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, gate.SignupPath, w.Header().Get("Location"))
}

func TestServerProtectsPortalPages(t *testing.T) {
	mem := store.NewMemory()
	mem.AddAdmin()
	mem.PutClient(store.Client{ID: "c1", Name: "Salão Bela", TaxID: "203.189.515-52", Status: store.StatusActive})
	g, err := gate.New(gate.Options{Development: true, Admins: mem})
	require.NoError(t, err)
	signer, err := token.NewSigner("portal-pages-secret")
	require.NoError(t, err)

	s := newTestServer(t, g)
	pm := portal.NewManager(signer, mem, false, zaptest.NewLogger(t).Sugar(), nil)
	s.Use(pm.PagesMiddleware())
	require.NoError(t, s.RegisterAll([]APIController{portal.NewController(pm, zaptest.NewLogger(t).Sugar())}))

	t.Run("page without a cookie redirects to login", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/portal/pedidos")
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, portal.LoginPath, w.Header().Get("Location"))
	})

	t.Run("login page is served", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/portal/login")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, indexContent, w.Body.String())
	})

	t.Run("portal api answers json instead of redirecting", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/api/portal/me")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid session reaches the page", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/portal/pedidos", nil)
		req.AddCookie(&http.Cookie{Name: portal.CookieName, Value: signer.Sign("c1")})
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, indexContent, w.Body.String())
	})
}

func TestServerFrontendConfig(t *testing.T) {
	s := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/api/config")
	require.Equal(t, http.StatusOK, w.Code)
	var fc FrontendConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fc))
	assert.Equal(t, "http://localhost:8080", fc.BaseURL)
	assert.Equal(t, config.EnvDevelopment, fc.Environment)
}

func TestServerRequestID(t *testing.T) {
	s := newTestServer(t, nil)
	w := serve(s, http.MethodGet, "/healthz")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServerWiresGate(t *testing.T) {
	mem := store.NewMemory()
	g, err := gate.New(gate.Options{Development: true, Admins: mem})
	require.NoError(t, err)
	s := newTestServer(t, g)

	w := serve(s, http.MethodGet, "/admin")
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, gate.SignupPath, w.Header().Get("Location"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = serve(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code, "probes bypass the gate")

	w = serve(s, http.MethodGet, "/portal/login")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, indexContent, w.Body.String())
}

type panicController struct{}

func (panicController) BasePath() string            { return "boom/" }
func (panicController) Handlers() []gin.HandlerFunc { return nil }
func (panicController) Register(rg *gin.RouterGroup) error {
	rg.GET("", func(*gin.Context) { panic("kaboom") })
	return nil
}

func TestServerRecovery(t *testing.T) {
	s := newTestServer(t, nil)
	require.NoError(t, s.RegisterAll([]APIController{panicController{}}))
	s.gin.GET("/relatorio", func(*gin.Context) { panic("kaboom") })

	t.Run("api callers get json", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/api/boom/")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body apiresponses.APIError
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "INTERNAL_ERROR", body.Code)
	})

	t.Run("browsers get the retry page", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/relatorio?mes=3")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "Algo deu errado")
		assert.Contains(t, w.Body.String(), `href="/relatorio?mes=3"`)
		assert.Contains(t, w.Body.String(), "Código do erro")
	})
}

func TestRenderRetryPage(t *testing.T) {
	body, err := renderRetryPage("", "")
	require.NoError(t, err)
	assert.Contains(t, string(body), `href="/"`)
	assert.NotContains(t, string(body), "Código do erro")

	body, err = renderRetryPage("/x", "abcdef0123456789")
	require.NoError(t, err)
	assert.Contains(t, string(body), "ABCDEF01")
}

func TestListenShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	s.config.Server.ListenAddress = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
