package util

import (
	"net/http"
	"strings"
)

// WithSecurityHeaders sets the response headers of a JSON API. Responses to
// requests that carry credentials are marked no-store so tokens and profiles
// never land in a shared cache. HSTS is sent for direct TLS, or when a
// trusted proxy reports https in X-Forwarded-Proto.
func WithSecurityHeaders(trusted TrustedProxies, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		if r.Header.Get("Authorization") != "" || strings.HasPrefix(r.URL.Path, "/auth/") {
			h.Set("Cache-Control", "no-store")
		}
		if r.TLS != nil || forwardedHTTPS(r, trusted) {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func forwardedHTTPS(r *http.Request, trusted TrustedProxies) bool {
	if !strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return false
	}
	peer, ok := parseAddr(r.RemoteAddr)
	return ok && trusted.trusts(peer)
}
