package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"moddepot/internal/observability/logging"
)

func TestRequestIDMiddlewarePreservesIncomingID(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, _ := logging.RequestIDFromContext(r.Context())
		if requestID != "incoming" {
			t.Fatalf("expected request id to be preserved, got %q", requestID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "incoming")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get("X-Request-Id") != "incoming" {
		t.Fatalf("expected response header to carry request id, got %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestRequestIDMiddlewareGeneratesWhenAbsent(t *testing.T) {
	t.Parallel()

	handler := requestIDMiddlewareWithGenerator(slog.Default(), func() string { return "generated-id" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := logging.RequestIDFromContext(r.Context())
		if !ok || requestID != "generated-id" {
			t.Fatalf("expected generated request id in context, got %q", requestID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Header().Get("X-Request-Id") != "generated-id" {
		t.Fatalf("expected generated id on response header, got %q", rr.Header().Get("X-Request-Id"))
	}
}

func TestNewRequestIDIsHex(t *testing.T) {
	t.Parallel()

	id := newRequestID()
	if len(id) != 32 {
		t.Fatalf("expected 32 hex characters, got %d (%q)", len(id), id)
	}
	for _, r := range id {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("unexpected character %q in request id %q", r, id)
		}
	}
}
