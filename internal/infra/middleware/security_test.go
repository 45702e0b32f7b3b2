package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"omni-agent/internal/infra/logger"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest("GET", "/chat", nil))

	expected := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'self'; img-src 'self' data:",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
	}
	for header, want := range expected {
		if got := w.Header().Get(header); got != want {
			t.Errorf("Header %s = %q, want %q", header, got, want)
		}
	}
	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS header should not be set without TLS, got: %q", hsts)
	}

	req := httptest.NewRequest("GET", "/chat", nil)
	req.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)
	if w.Header().Get("Strict-Transport-Security") == "" {
		t.Error("HSTS header should be set with TLS")
	}
}

func send(h http.Handler, remote string) int {
	req := httptest.NewRequest("GET", "/chat", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, 6, 3)(okHandler)

	ok, blocked := 0, 0
	for i := 0; i < 10; i++ {
		switch send(h, "192.168.1.1:12345") {
		case http.StatusOK:
			ok++
		case http.StatusTooManyRequests:
			blocked++
		}
	}
	if ok != 3 || blocked != 7 {
		t.Errorf("ok=%d blocked=%d, want 3/7", ok, blocked)
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, 6, 2)(okHandler)

	for i := 0; i < 3; i++ {
		send(h, "192.168.1.1:1")
	}
	if code := send(h, "192.168.1.1:1"); code != http.StatusTooManyRequests {
		t.Errorf("client 1 status = %d, want 429", code)
	}
	if code := send(h, "192.168.1.2:1"); code != http.StatusOK {
		t.Errorf("client 2 status = %d, want 200", code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted []string
		want    string
	}{
		{"direct", "10.0.0.5:4000", nil, nil, "10.0.0.5"},
		{"ipv6", "[::1]:4000", nil, nil, "::1"},
		{"spoofed xff ignored", "10.0.0.5:4000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "10.0.0.5"},
		{"trusted xff", "10.0.0.1:4000", map[string]string{"X-Forwarded-For": "203.0.113.1, 198.51.100.1"}, []string{"10.0.0.1"}, "203.0.113.1"},
		{"trusted real ip", "10.0.0.1:4000", map[string]string{"X-Real-IP": " 203.0.113.9 "}, []string{"10.0.0.1"}, "203.0.113.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req, tt.trusted); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"http://localhost:5173"})(okHandler)

	req := httptest.NewRequest("GET", "/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Errorf("preflight: code=%d headers=%v", w.Code, w.Header())
	}

	req = httptest.NewRequest("GET", "/chat", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestChainOrderAndLogging(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(okHandler, mw("a"), mw("b"), Logging(logger.Discard()))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("order = %v", order)
	}
}
