package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendRoundTripsWithVerify(t *testing.T) {
	var (
		gotHeader string
		gotEvent  string
		gotBody   []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(HeaderSignature)
		gotEvent = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, "job.succeeded", map[string]any{"job_id": "abc123", "tx": "0xdead"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvent != "job.succeeded" {
		t.Fatalf("expected event header job.succeeded, got %q", gotEvent)
	}
	// What the client signs, the inbound verifier must accept.
	if err := Verify(gotHeader, gotBody, "test-secret", time.Now().UTC()); err != nil {
		t.Fatalf("verify rejected client signature: %v", err)
	}
	if err := Verify(gotHeader, gotBody, "other-secret", time.Now().UTC()); err != ErrBadSignature {
		t.Fatalf("expected ErrBadSignature under wrong secret, got %v", err)
	}
}

func TestSendRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})

	if err := client.Send(context.Background(), srv.URL, "job.failed", map[string]any{"job_id": "abc123"}); err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	client := NewClient(Config{SigningSecret: "s"})
	if err := client.Send(context.Background(), "  ", "job.succeeded", map[string]any{"job_id": "abc123"}); err != nil {
		t.Fatalf("expected nil for empty endpoint, got %v", err)
	}
}
