package gate

import "strings"

const (
	RootPath   = "/"
	LoginPath  = "/login"
	SignupPath = "/signup"
	AdminPath  = "/admin"
)

var (
	// Served without any gate evaluation besides the security headers.
	skipPrefixes = []string{"/assets/"}
	skipExact    = []string{"/favicon.ico", "/healthz"}

	// Always reachable without authentication.
	publicRoutes = []string{"/onboarding", "/pedido", "/portal", "/api/portal", "/api/config"}

	// Reachable without a session once admins exist. A broken session on
	// these routes passes instead of redirecting to the login page again.
	anonymousRoutes = []string{LoginPath, "/api/auth"}
)

// under reports whether path is prefix itself or lies below it.
func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func underAny(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if under(path, p) {
			return true
		}
	}
	return false
}

func skipped(path string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, p := range skipExact {
		if path == p {
			return true
		}
	}
	return false
}

func isPublic(path string) bool {
	return underAny(path, publicRoutes)
}

func isAnonymous(path string) bool {
	return underAny(path, anonymousRoutes)
}
