// SPA fallback serving adapted from https://github.com/mandrigin/gin-spa
// (MIT License, Copyright (c) 2020 Igor Mandrigin).

package api

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/mrblonde/orders/pkg/apiresponses"
)

// cacheControlFor returns the Cache-Control value for a frontend path. The
// bundler fingerprints everything under /assets/, so those never change.
func cacheControlFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/assets/"):
		return "public, max-age=31536000, immutable"
	case path == "/" || strings.HasSuffix(path, ".html"):
		return "no-cache, must-revalidate"
	default:
		return "public, max-age=3600, must-revalidate"
	}
}

// cacheControlWriter sets Cache-Control right before the header is written so
// the file server cannot overwrite it.
type cacheControlWriter struct {
	http.ResponseWriter
	path        string
	wroteHeader bool
}

func (w *cacheControlWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		if statusCode < http.StatusBadRequest {
			w.Header().Set("Cache-Control", cacheControlFor(w.path))
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *cacheControlWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// ServeSPA serves the built frontend from dir. Unknown paths get index.html so
// client-side routes (/admin/clientes, /portal/pedidos, ...) survive a reload.
// Unknown API paths get a JSON 404 instead.
func ServeSPA(urlPrefix, dir string) gin.HandlerFunc {
	directory := static.LocalFile(dir, false)
	fileserver := http.FileServer(directory)
	if urlPrefix != "" && urlPrefix != "/" {
		fileserver = http.StripPrefix(strings.TrimSuffix(urlPrefix, "/"), fileserver)
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			apiresponses.RespondNotFoundSimple(c, "no such endpoint")
			c.Abort()
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusMethodNotAllowed)
			c.Abort()
			return
		}

		if !directory.Exists(urlPrefix, path) {
			c.Request.URL.Path = strings.TrimSuffix(urlPrefix, "/") + "/"
			path = "/"
		}
		fileserver.ServeHTTP(&cacheControlWriter{ResponseWriter: c.Writer, path: path}, c.Request)
		c.Abort()
	}
}
