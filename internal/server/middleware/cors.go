package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

var (
	corsAllowHeaders = strings.Join([]string{
		"Content-Type", "Authorization", "X-API-Key",
		HeaderAddress, HeaderTimestamp, HeaderSignature,
	}, ", ")
	corsExposeHeaders = "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining"
)

// CORS answers preflight requests and sets CORS headers for allowed origins.
// An entry may be an exact origin, "*", or "*.example.com" to admit any
// subdomain over https. An empty list allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(allowedOrigins, origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, o := range allowed {
		switch {
		case o == "*", strings.EqualFold(o, origin):
			return true
		case strings.HasPrefix(o, "*."):
			u, err := url.Parse(origin)
			if err == nil && u.Scheme == "https" &&
				strings.HasSuffix(strings.ToLower(u.Hostname()), strings.ToLower(o[1:])) {
				return true
			}
		}
	}
	return false
}
