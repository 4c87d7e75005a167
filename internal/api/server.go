package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hexlume/castquest/internal/domain"
	"github.com/hexlume/castquest/internal/farcaster"
	"github.com/hexlume/castquest/internal/frame"
	"github.com/hexlume/castquest/internal/id"
	"github.com/hexlume/castquest/internal/queue"
	"github.com/hexlume/castquest/internal/store"
	"github.com/hexlume/castquest/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	dispatcher    stageDispatcher
	jobStore      store.Store
	social        socialGraph
	signingSecret string
	pollTTL       time.Duration
	questID       string
	rateLimiter   RateLimiter
	fidHeader     string
	metrics       *metrics
	tracer        trace.Tracer
	now           func() time.Time
	mux           *http.ServeMux
}

type stageDispatcher interface {
	Dispatch(ctx context.Context, taskType string, payload queue.StagePayload) (*asynq.TaskInfo, error)
}

type socialGraph interface {
	LatestReply(ctx context.Context, castHash string, fid int64) (farcaster.Reply, error)
}

type Options struct {
	Logger        *log.Logger
	Dispatcher    stageDispatcher
	Store         store.Store
	Social        socialGraph
	SigningSecret string
	PollTTL       time.Duration
	QuestID       string
	RateLimiter   RateLimiter
	Tracer        trace.Tracer
}

func NewServer(opts Options) *Server {
	pollTTL := opts.PollTTL
	if pollTTL <= 0 {
		pollTTL = 10 * time.Minute
	}
	questID := opts.QuestID
	if questID == "" {
		questID = "General"
	}

	s := &Server{
		logger:        opts.Logger,
		dispatcher:    opts.Dispatcher,
		jobStore:      opts.Store,
		social:        opts.Social,
		signingSecret: opts.SigningSecret,
		pollTTL:       pollTTL,
		questID:       questID,
		rateLimiter:   opts.RateLimiter,
		fidHeader:     "X-Farcaster-FID",
		metrics:       newMetrics(),
		tracer:        opts.Tracer,
		now:           func() time.Time { return time.Now().UTC() },
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.withRateLimit(handler)
	handler = s.withTracing(handler)
	handler = s.metrics.withHTTPMetrics(handler)
	return handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/quests", s.handleSubmitQuest)
	s.mux.HandleFunc("GET /v1/quests/{id}", s.handlePollQuest)
	s.mux.HandleFunc("POST /v1/quests/{id}/mint", s.handleMintQuest)
	s.mux.HandleFunc("GET /v1/notes/{id}", s.handlePollNote)
	s.mux.HandleFunc("POST /v1/notes/{id}/mint", s.handleMintNote)
	s.mux.HandleFunc("GET /v1/casts/{hash}/reply", s.handleLatestReply)
	s.mux.HandleFunc("POST /v1/webhooks/transactions", s.handleTransactionWebhook)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmitQuest opens a job and dispatches the validate stage. The
// response returns before the stage runs; the client follows poll_url.
func (s *Server) handleSubmitQuest(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitQuestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		req.JobID = id.New()
	}

	// An empty subject text defaults to the requester's latest reply on
	// the cast thread.
	if strings.TrimSpace(req.Text) == "" && s.social != nil {
		reply, err := s.social.LatestReply(r.Context(), req.CastHash, req.FID)
		if err == nil {
			req.Text = reply.Text
		} else if !errors.Is(err, farcaster.ErrNoReply) {
			s.logger.Printf("latest reply lookup failed job_id=%s err=%v", req.JobID, err)
		}
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	submittedAt := s.now()
	payload := queue.StagePayload{
		JobID:       req.JobID,
		CastHash:    req.CastHash,
		FID:         req.FID,
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		Label:       req.Label,
		CallbackURL: req.CallbackURL,
		RequestedAt: submittedAt,
	}

	if _, err := s.dispatcher.Dispatch(r.Context(), queue.TypeValidate, payload); err != nil {
		if errors.Is(err, queue.ErrDuplicateDispatch) {
			writeJSON(w, http.StatusAccepted, map[string]any{
				"job_id":   req.JobID,
				"state":    frame.StatePending,
				"poll_url": s.pollURL(req.JobID, submittedAt),
			})
			return
		}
		s.logger.Printf("dispatch validate failed job_id=%s err=%v", req.JobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start quest"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   req.JobID,
		"state":    frame.StatePending,
		"poll_url": s.pollURL(req.JobID, submittedAt),
	})
}

// handlePollQuest is the frame state machine: read-only, idempotent, and
// re-arming while the job is incomplete.
func (s *Server) handlePollQuest(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	state, err := store.ResolveJob(r.Context(), s.jobStore, jobID)
	if err != nil {
		s.logger.Printf("resolve job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusOK, frame.ErrorScreen(""))
		return
	}

	// A poll outside a poll loop (no since token) against a job with no
	// rows is a lookup for a quest that was never started.
	submittedAt := s.parseSince(r)
	var screen frame.Screen
	if submittedAt.IsZero() && state.Kind == domain.StatePending {
		screen = frame.InfoScreen("No quest in flight for this ID.", frame.Button{Label: "Reset", Action: frame.ActionReset})
	} else {
		screen = frame.RenderJob(
			state,
			s.pollURL(jobID, submittedAt),
			fmt.Sprintf("/v1/quests/%s/mint", jobID),
			submittedAt,
			s.now(),
			s.pollTTL,
		)
	}
	s.metrics.pollsTotal.WithLabelValues(screen.State).Inc()
	writeJSON(w, http.StatusOK, screen)
}

func (s *Server) handleMintQuest(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	// Minting requires a validated job; the worker reads the rest of the
	// subject from the validations row.
	validation, ok, err := s.jobStore.LatestValidation(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("validation lookup failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "quest has not been validated yet"})
		return
	}
	if !validation.IsValid {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "quest was not validated"})
		return
	}

	var req struct {
		Label       string `json:"label,omitempty"`
		CallbackURL string `json:"callback_url,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	submittedAt := s.now()
	payload := queue.StagePayload{
		JobID:       jobID,
		CastHash:    validation.CastHash,
		FID:         validation.FID,
		Text:        validation.Text,
		ImageURL:    validation.ImageURL,
		Label:       req.Label,
		CallbackURL: req.CallbackURL,
		RequestedAt: submittedAt,
	}

	if _, err := s.dispatcher.Dispatch(r.Context(), queue.TypeMint, payload); err != nil && !errors.Is(err, queue.ErrDuplicateDispatch) {
		s.logger.Printf("dispatch mint failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start mint"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"state":    frame.StatePending,
		"poll_url": s.pollURL(jobID, submittedAt),
	})
}

func (s *Server) handlePollNote(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	state, err := store.ResolveNoteJob(r.Context(), s.jobStore, jobID)
	if err != nil {
		s.logger.Printf("resolve note job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusOK, frame.ErrorScreen(""))
		return
	}

	submittedAt := s.parseSince(r)
	var screen frame.Screen
	if submittedAt.IsZero() && state.Kind == domain.StatePending {
		screen = frame.InfoScreen("No note in flight for this ID.", frame.Button{Label: "Reset", Action: frame.ActionReset})
	} else {
		screen = frame.RenderJob(
			state,
			s.notePollURL(jobID, submittedAt),
			"",
			submittedAt,
			s.now(),
			s.pollTTL,
		)
	}
	s.metrics.pollsTotal.WithLabelValues(screen.State).Inc()
	writeJSON(w, http.StatusOK, screen)
}

func (s *Server) handleMintNote(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req domain.SubmitQuestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	req.JobID = jobID
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	submittedAt := s.now()
	payload := queue.StagePayload{
		JobID:       jobID,
		CastHash:    req.CastHash,
		FID:         req.FID,
		Text:        req.Text,
		ImageURL:    req.ImageURL,
		Label:       req.Label,
		CallbackURL: req.CallbackURL,
		RequestedAt: submittedAt,
	}

	if _, err := s.dispatcher.Dispatch(r.Context(), queue.TypeMintNotes, payload); err != nil && !errors.Is(err, queue.ErrDuplicateDispatch) {
		s.logger.Printf("dispatch mint_notes failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to start note mint"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"state":    frame.StatePending,
		"poll_url": s.notePollURL(jobID, submittedAt),
	})
}

func (s *Server) handleLatestReply(w http.ResponseWriter, r *http.Request) {
	castHash := r.PathValue("hash")
	fid, err := strconv.ParseInt(r.URL.Query().Get("fid"), 10, 64)
	if err != nil || fid <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fid query parameter is required"})
		return
	}

	reply, err := s.social.LatestReply(r.Context(), castHash, fid)
	if err != nil {
		if errors.Is(err, farcaster.ErrNoReply) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Please reply to this cast first"})
			return
		}
		s.logger.Printf("latest reply lookup failed cast=%s fid=%d err=%v", castHash, fid, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load reply"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"fid":       reply.FID,
		"text":      reply.Text,
		"timestamp": reply.Timestamp,
	})
}

// handleTransactionWebhook ingests relay status callbacks. The signature
// covers the body plus the header timestamp; stale or unsigned requests
// are rejected at the boundary and never retried by us.
func (s *Server) handleTransactionWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	header := r.Header.Get(webhook.HeaderSignature)
	if err := webhook.Verify(header, body, s.signingSecret, s.now()); err != nil {
		s.metrics.webhookRejected.WithLabelValues(rejectionLabel(err)).Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var event struct {
		TransactionHash string `json:"transactionHash"`
		TransactionID   string `json:"transactionId"`
		Status          string `json:"status"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if event.TransactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "transactionId is required"})
		return
	}

	if err := s.jobStore.InsertTransaction(r.Context(), domain.Transaction{
		TxID:      event.TransactionID,
		Hash:      event.TransactionHash,
		Status:    event.Status,
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Printf("transaction insert failed tx_id=%s err=%v", event.TransactionID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record transaction"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func rejectionLabel(err error) string {
	switch {
	case errors.Is(err, webhook.ErrStaleTimestamp):
		return "stale"
	case errors.Is(err, webhook.ErrMalformedHeader):
		return "malformed"
	default:
		return "mismatch"
	}
}

func (s *Server) pollURL(jobID string, submittedAt time.Time) string {
	return fmt.Sprintf("/v1/quests/%s?since=%d", jobID, submittedAt.Unix())
}

func (s *Server) notePollURL(jobID string, submittedAt time.Time) string {
	return fmt.Sprintf("/v1/notes/%s?since=%d", jobID, submittedAt.Unix())
}

// parseSince recovers the submission time the poll URL carries. A missing
// or garbled value disables the TTL check rather than failing the poll.
func (s *Server) parseSince(r *http.Request) time.Time {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
