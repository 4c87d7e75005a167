package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hexlume/castquest/internal/domain"
	"github.com/hexlume/castquest/internal/farcaster"
	"github.com/hexlume/castquest/internal/frame"
	"github.com/hexlume/castquest/internal/queue"
	"github.com/hexlume/castquest/internal/store"
	"github.com/hexlume/castquest/internal/webhook"
	"github.com/hibiken/asynq"
)

type fakeDispatcher struct {
	dispatched []string
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, taskType string, payload queue.StagePayload) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.dispatched = append(f.dispatched, taskType+":"+payload.JobID)
	return &asynq.TaskInfo{}, nil
}

type fakeSocial struct {
	reply farcaster.Reply
	err   error
}

func (f *fakeSocial) LatestReply(context.Context, string, int64) (farcaster.Reply, error) {
	if f.err != nil {
		return farcaster.Reply{}, f.err
	}
	return f.reply, nil
}

func newTestServer(t *testing.T, dispatcher *fakeDispatcher, jobStore store.Store, social socialGraph) *Server {
	t.Helper()
	if jobStore == nil {
		jobStore = store.NewMemoryStore()
	}
	s := NewServer(Options{
		Logger:        log.New(io.Discard, "", 0),
		Dispatcher:    dispatcher,
		Store:         jobStore,
		Social:        social,
		SigningSecret: "test-secret",
		PollTTL:       10 * time.Minute,
	})
	return s
}

func TestSubmitQuestDispatchesValidate(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := newTestServer(t, dispatcher, nil, nil)

	body := `{"job_id":"abc123","cast_hash":"0xcast","fid":42,"text":"great shoes"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/quests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != queue.TypeValidate+":abc123" {
		t.Fatalf("unexpected dispatches %v", dispatcher.dispatched)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	pollURL, _ := resp["poll_url"].(string)
	if !strings.HasPrefix(pollURL, "/v1/quests/abc123?since=") {
		t.Fatalf("unexpected poll_url %q", pollURL)
	}
}

func TestSubmitQuestGeneratesJobID(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := newTestServer(t, dispatcher, nil, nil)

	body := `{"cast_hash":"0xcast","fid":42,"text":"great shoes"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/quests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	jobID, _ := resp["job_id"].(string)
	if jobID == "" {
		t.Fatal("expected a generated job_id")
	}
}

func TestSubmitQuestFillsTextFromLatestReply(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	social := &fakeSocial{reply: farcaster.Reply{FID: 42, Text: "picked this up today"}}
	s := newTestServer(t, dispatcher, nil, social)

	body := `{"job_id":"abc123","cast_hash":"0xcast","fid":42}`
	req := httptest.NewRequest(http.MethodPost, "/v1/quests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitQuestRejectsEmptySubject(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	social := &fakeSocial{err: farcaster.ErrNoReply}
	s := newTestServer(t, dispatcher, nil, social)

	body := `{"job_id":"abc123","cast_hash":"0xcast","fid":42}`
	req := httptest.NewRequest(http.MethodPost, "/v1/quests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Fatalf("expected no dispatch, got %v", dispatcher.dispatched)
	}
}

func TestSubmitQuestDuplicateDispatchStillAccepted(t *testing.T) {
	dispatcher := &fakeDispatcher{err: queue.ErrDuplicateDispatch}
	s := newTestServer(t, dispatcher, nil, nil)

	body := `{"job_id":"abc123","cast_hash":"0xcast","fid":42,"text":"great shoes"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/quests", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for duplicate submit, got %d", rec.Code)
	}
}

func TestPollQuestPendingThenSuccess(t *testing.T) {
	jobStore := store.NewMemoryStore()
	s := newTestServer(t, &fakeDispatcher{}, jobStore, nil)

	poll := func() frame.Screen {
		t.Helper()
		target := fmt.Sprintf("/v1/quests/abc123?since=%d", s.now().Unix())
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var screen frame.Screen
		if err := json.Unmarshal(rec.Body.Bytes(), &screen); err != nil {
			t.Fatalf("decode screen: %v", err)
		}
		return screen
	}

	if screen := poll(); screen.State != frame.StatePending {
		t.Fatalf("expected pending before any rows, got %s", screen.State)
	}

	if err := jobStore.InsertValidation(context.Background(), domain.Validation{
		JobID: "abc123", IsValid: true, Username: "sneakerhead", Address: "0xabc",
	}); err != nil {
		t.Fatalf("insert validation: %v", err)
	}
	screen := poll()
	if screen.State != frame.StateValidated {
		t.Fatalf("expected validated, got %s", screen.State)
	}

	if err := jobStore.InsertAttestation(context.Background(), domain.Attestation{
		JobID: "abc123", IsValid: true, Tx: "0xdeadbeef",
	}); err != nil {
		t.Fatalf("insert attestation: %v", err)
	}
	screen = poll()
	if screen.State != frame.StateSuccess {
		t.Fatalf("expected success, got %s", screen.State)
	}
	if screen.Outcome != "0xdeadbeef" {
		t.Fatalf("expected tx outcome, got %q", screen.Outcome)
	}
}

func TestPollQuestWithoutSinceShowsNoJob(t *testing.T) {
	s := newTestServer(t, &fakeDispatcher{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/quests/unknown", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var screen frame.Screen
	if err := json.Unmarshal(rec.Body.Bytes(), &screen); err != nil {
		t.Fatalf("decode screen: %v", err)
	}
	if screen.State != frame.StateNoJob {
		t.Fatalf("expected no-job for an unstarted quest, got %s", screen.State)
	}
}

func TestPollQuestExpiresAfterTTL(t *testing.T) {
	s := newTestServer(t, &fakeDispatcher{}, nil, nil)

	since := s.now().Add(-time.Hour).Unix()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/quests/abc123?since=%d", since), nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var screen frame.Screen
	if err := json.Unmarshal(rec.Body.Bytes(), &screen); err != nil {
		t.Fatalf("decode screen: %v", err)
	}
	if screen.State != frame.StateExpired {
		t.Fatalf("expected expired, got %s", screen.State)
	}
	for _, b := range screen.Buttons {
		if b.Action == frame.ActionPoll {
			t.Fatal("expired screen must not re-arm the poll button")
		}
	}
}

func TestMintQuestRequiresValidation(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	jobStore := store.NewMemoryStore()
	s := newTestServer(t, dispatcher, jobStore, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/quests/abc123/mint", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before validation, got %d", rec.Code)
	}

	if err := jobStore.InsertValidation(context.Background(), domain.Validation{
		JobID: "abc123", CastHash: "0xcast", FID: 42, Text: "great shoes", IsValid: true,
	}); err != nil {
		t.Fatalf("insert validation: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/quests/abc123/mint", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 after validation, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != queue.TypeMint+":abc123" {
		t.Fatalf("unexpected dispatches %v", dispatcher.dispatched)
	}
}

func TestMintNoteDispatches(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	s := newTestServer(t, dispatcher, nil, nil)

	body := `{"cast_hash":"0xcast","fid":42,"text":"community note"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/notes/note42/mint", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != queue.TypeMintNotes+":note42" {
		t.Fatalf("unexpected dispatches %v", dispatcher.dispatched)
	}
}

func TestLatestReplyEndpoint(t *testing.T) {
	social := &fakeSocial{reply: farcaster.Reply{FID: 42, Text: "here it is"}}
	s := newTestServer(t, &fakeDispatcher{}, nil, social)

	req := httptest.NewRequest(http.MethodGet, "/v1/casts/0xcast/reply?fid=42", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	social.err = farcaster.ErrNoReply
	req = httptest.NewRequest(http.MethodGet, "/v1/casts/0xcast/reply?fid=42", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when no reply exists, got %d", rec.Code)
	}
}

func TestTransactionWebhookVerifiesSignature(t *testing.T) {
	jobStore := store.NewMemoryStore()
	s := newTestServer(t, &fakeDispatcher{}, jobStore, nil)

	body := []byte(`{"transactionId":"tx-1","transactionHash":"0xhash","status":"submitted"}`)
	timestamp := fmt.Sprintf("%d", s.now().Unix())
	sig, err := webhook.GenerateSignature(body, timestamp, "test-secret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/transactions", bytes.NewReader(body))
	req.Header.Set(webhook.HeaderSignature, fmt.Sprintf("t=%s,s=%s", timestamp, sig))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed webhook, got %d: %s", rec.Code, rec.Body.String())
	}

	tx, ok, err := jobStore.LatestTransaction(context.Background(), "tx-1")
	if err != nil || !ok {
		t.Fatalf("expected stored transaction, ok=%v err=%v", ok, err)
	}
	if tx.Hash != "0xhash" || tx.Status != "submitted" {
		t.Fatalf("unexpected transaction row %+v", tx)
	}
}

func TestTransactionWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t, &fakeDispatcher{}, nil, nil)

	body := []byte(`{"transactionId":"tx-1","status":"submitted"}`)
	timestamp := fmt.Sprintf("%d", s.now().Unix())

	cases := map[string]string{
		"missing header": "",
		"garbage header": "not-a-signature",
		"wrong secret": func() string {
			sig, _ := webhook.GenerateSignature(body, timestamp, "other-secret")
			return fmt.Sprintf("t=%s,s=%s", timestamp, sig)
		}(),
		"stale timestamp": func() string {
			old := fmt.Sprintf("%d", s.now().Add(-time.Hour).Unix())
			sig, _ := webhook.GenerateSignature(body, old, "test-secret")
			return fmt.Sprintf("t=%s,s=%s", old, sig)
		}(),
	}

	for name, header := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/transactions", bytes.NewReader(body))
		if header != "" {
			req.Header.Set(webhook.HeaderSignature, header)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestRouteLabel(t *testing.T) {
	cases := map[string]string{
		"/v1/quests":                  "/v1/quests",
		"/v1/quests/abc123":           "/v1/quests",
		"/v1/quests/abc123/mint":      "/v1/quests/{id}/mint",
		"/v1/notes/note42/mint":       "/v1/notes/{id}/mint",
		"/v1/casts/0xcast/reply":      "/v1/casts/{hash}/reply",
		"/v1/webhooks/transactions":   "/v1/webhooks/transactions",
		"/healthz":                    "/healthz",
		"/metrics":                    "/metrics",
		"/somewhere/else":             "/somewhere/else",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
