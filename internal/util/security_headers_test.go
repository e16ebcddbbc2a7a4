package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithHeaders(t *testing.T, trusted TrustedProxies, req *http.Request) http.Header {
	t.Helper()
	h := WithSecurityHeaders(trusted, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Header()
}

func TestSecurityHeadersOnPublicCatalog(t *testing.T) {
	got := serveWithHeaders(t, nil, httptest.NewRequest(http.MethodGet, "/products", nil))
	if got.Get("X-Content-Type-Options") != "nosniff" || got.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("base headers missing: %v", got)
	}
	if got.Get("Cache-Control") != "" {
		t.Fatalf("public catalog should stay cacheable, got %q", got.Get("Cache-Control"))
	}
	if got.Get("Strict-Transport-Security") != "" {
		t.Fatalf("did not expect HSTS over plain http")
	}
}

func TestSecurityHeadersNoStoreForCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer tok")
	if got := serveWithHeaders(t, nil, req).Get("Cache-Control"); got != "no-store" {
		t.Fatalf("bearer request Cache-Control = %q", got)
	}
	login := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	if got := serveWithHeaders(t, nil, login).Get("Cache-Control"); got != "no-store" {
		t.Fatalf("login Cache-Control = %q", got)
	}
}

func TestSecurityHeadersHSTSOnlyFromTrustedProxy(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	spoofed := httptest.NewRequest(http.MethodGet, "/products", nil)
	spoofed.RemoteAddr = "203.0.113.5:4000"
	spoofed.Header.Set("X-Forwarded-Proto", "https")
	if got := serveWithHeaders(t, trusted, spoofed).Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("untrusted peer must not enable HSTS, got %q", got)
	}

	proxied := httptest.NewRequest(http.MethodGet, "/products", nil)
	proxied.RemoteAddr = "10.1.2.3:4000"
	proxied.Header.Set("X-Forwarded-Proto", "HTTPS")
	if got := serveWithHeaders(t, trusted, proxied).Get("Strict-Transport-Security"); got == "" {
		t.Fatalf("expected HSTS behind a trusted proxy")
	}
}
