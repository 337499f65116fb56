package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, cfg HeadersConfig, r *http.Request) http.Header {
	t.Helper()
	h := NewHeadersMiddleware(cfg).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec.Header()
}

func TestHeadersMiddleware_Defaults(t *testing.T) {
	got := serve(t, DefaultHeadersConfig(), httptest.NewRequest(http.MethodGet, "/getUsers", nil))

	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		"Referrer-Policy":              "no-referrer",
		"Cross-Origin-Resource-Policy": "cross-origin",
		"Cache-Control":                "no-store",
	}
	for k, v := range want {
		if got.Get(k) != v {
			t.Errorf("%s = %q, want %q", k, got.Get(k), v)
		}
	}
	if got.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must not be sent over plain HTTP")
	}
}

func TestHeadersMiddleware_HSTS(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.TLS = &tls.ConnectionState{}

	cfg := DefaultHeadersConfig()
	cfg.HSTSPreload = true
	if got := serve(t, cfg, r).Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains; preload" {
		t.Errorf("unexpected HSTS %q", got)
	}
}

func TestHeadersMiddleware_EmptyValuesSkipped(t *testing.T) {
	got := serve(t, HeadersConfig{XContentTypeOptions: "nosniff"}, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, ok := got["Content-Security-Policy"]; ok {
		t.Error("empty CSP should not be sent")
	}
	if got.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("configured header missing")
	}
}
