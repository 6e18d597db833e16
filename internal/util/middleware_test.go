package util

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDPropagatesIncomingHeader(t *testing.T) {
	const incoming = "req-incoming-123"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestIDFromRequest(r); got != incoming {
			t.Errorf("unexpected request id in context: got %q want %q", got, incoming)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != incoming {
		t.Fatalf("unexpected response request id: got %q want %q", got, incoming)
	}
}

func TestWithRequestIDGeneratesWhenMissing(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromRequest(r) == "" {
			t.Error("expected generated request id in context")
		}
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id header")
	}
}

func TestLoggerFromContextCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewLogger(&buf, "info").With("request_id", "r-1"))
	LoggerFromContext(ctx).Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["request_id"] != "r-1" || line["msg"] != "hello" {
		t.Fatalf("unexpected log line %v", line)
	}
	if LoggerFromContext(context.Background()) == nil {
		t.Fatal("expected default logger fallback")
	}
}

func TestWithCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	h := WithCORS([]string{"https://app.jifou.ai/"}, next)
	req := httptest.NewRequest(http.MethodOptions, "/records", nil)
	req.Header.Set("Origin", "https://app.jifou.ai")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.jifou.ai" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/records", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected response for foreign origin: %d %q", rec.Code, rec.Header().Get("Access-Control-Allow-Origin"))
	}

	rec = httptest.NewRecorder()
	WithCORS([]string{"*"}, next).ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("X-Content-Type-Options mismatch: %q", got)
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("did not expect HSTS for plain http, got %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("expected HSTS header on forwarded https request")
	}
}
