package api

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/apiresponses"
	"github.com/mrblonde/orders/pkg/system"
)

const retryPageSource = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ .Title | trim }}</title>
</head>
<body>
<main>
<h1>{{ .Title | trim }}</h1>
<p>Não foi possível concluir sua solicitação. Tente novamente em instantes.</p>
<p><a href="{{ .Path | default "/" }}">Tentar novamente</a></p>
{{- with .RequestID }}
<p><small>Código do erro: {{ . | upper | trunc 8 }}</small></p>
{{- end }}
</main>
</body>
</html>
`

var retryPage = template.Must(template.New("retry").Funcs(sprig.FuncMap()).Parse(retryPageSource))

type retryPageData struct {
	Title     string
	Path      string
	RequestID string
}

func renderRetryPage(path, requestID string) ([]byte, error) {
	var buf bytes.Buffer
	err := retryPage.Execute(&buf, retryPageData{
		Title:     "Algo deu errado",
		Path:      path,
		RequestID: requestID,
	})
	return buf.Bytes(), err
}

// recoveryHandler answers a request whose handler panicked. API callers get
// the JSON error body, browsers a page offering a retry.
func recoveryHandler(log *zap.SugaredLogger) gin.RecoveryFunc {
	return func(c *gin.Context, recovered any) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			apiresponses.RespondInternalError(c, "process the request", nil, nil)
			c.Abort()
			return
		}

		retryPath := ""
		if c.Request.Method == http.MethodGet {
			retryPath = c.Request.URL.RequestURI()
		}
		body, err := renderRetryPage(retryPath, c.Writer.Header().Get(system.RequestIDHeader))
		if err != nil {
			system.GetReqLogger(c, log).Errorw("Failed to render retry page", "error", err)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusInternalServerError, "text/html; charset=utf-8", body)
		c.Abort()
	}
}
