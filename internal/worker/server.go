package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hexlume/castquest/internal/archive"
	"github.com/hexlume/castquest/internal/config"
	"github.com/hexlume/castquest/internal/domain"
	"github.com/hexlume/castquest/internal/enso"
	"github.com/hexlume/castquest/internal/farcaster"
	"github.com/hexlume/castquest/internal/queue"
	"github.com/hexlume/castquest/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	outcomeSucceeded = "succeeded"
	outcomeRejected  = "rejected"
	outcomeErrored   = "errored"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	social        socialGraph
	validator     contentValidator
	minter        attestationMinter
	rewarder      rewardSender
	jobStore      store.Store
	evidence      evidenceArchiver
	webhookClient webhookSender
	questID       string
	metrics       *metrics
	tracer        trace.Tracer
}

type socialGraph interface {
	UserByFID(ctx context.Context, fid int64) (farcaster.User, error)
}

type contentValidator interface {
	Validate(ctx context.Context, username, imageURL, message string) (string, error)
}

type attestationMinter interface {
	Mint(ctx context.Context, params enso.MintParams) (string, error)
}

type rewardSender interface {
	SendReward(ctx context.Context, account string) (string, error)
}

type evidenceArchiver interface {
	StoreEvidence(ctx context.Context, ev archive.Evidence) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Deps struct {
	Social        socialGraph
	Validator     contentValidator
	Minter        attestationMinter
	Rewarder      rewardSender
	Store         store.Store
	Evidence      evidenceArchiver
	WebhookClient webhookSender
	QuestID       string
}

func NewServer(logger *log.Logger, queueCfg config.QueueConfig, workerCfg config.WorkerConfig, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if deps.Social == nil || deps.Validator == nil || deps.Minter == nil {
		return nil, fmt.Errorf("partner clients are required")
	}

	questID := deps.QuestID
	if questID == "" {
		questID = "General"
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		social:        deps.Social,
		validator:     deps.Validator,
		minter:        deps.Minter,
		rewarder:      deps.Rewarder,
		jobStore:      deps.Store,
		evidence:      deps.Evidence,
		webhookClient: deps.WebhookClient,
		questID:       questID,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("castquest/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeValidate, s.handleValidate)
	mux.HandleFunc(queue.TypeMint, s.handleMint)
	mux.HandleFunc(queue.TypeMintNotes, s.handleMintNotes)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleValidate runs the social-graph lookup and the content-validation
// webhook, and writes exactly one validations row per terminal attempt.
// Deterministic rejections land immediately; transient partner errors
// retry until the task's budget runs out and then land as a rejection, so
// a polling client always reaches a terminal screen.
func (s *Server) handleValidate(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := outcomeErrored

	payload, err := queue.ParseStagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.validate", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int64("job.fid", payload.FID),
	)
	defer span.End()
	defer func() {
		s.metrics.stageDuration.WithLabelValues(domain.StageValidate, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.stagesTotal.WithLabelValues(domain.StageValidate, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeStages.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeStages.Dec()
	}()

	s.logger.Printf("Validating... job_id=%s fid=%d cast=%s", payload.JobID, payload.FID, payload.CastHash)

	user, err := s.social.UserByFID(ctx, payload.FID)
	if err != nil {
		if errors.Is(err, farcaster.ErrNoUser) || errors.Is(err, farcaster.ErrNoVerifiedAddress) {
			outcome = outcomeRejected
			s.rejectValidation(ctx, payload, user, err.Error())
			return nil
		}
		if !s.retriesExhausted(ctx) {
			span.RecordError(err)
			return fmt.Errorf("social graph lookup: %w", err)
		}
		s.rejectValidation(ctx, payload, user, fmt.Sprintf("social graph lookup failed: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "social graph lookup failed")
		return fmt.Errorf("social graph lookup: %w", err)
	}

	brand, err := s.validator.Validate(ctx, user.Username, payload.ImageURL, payload.Text)
	if err != nil {
		if errors.Is(err, enso.ErrNoBrand) {
			outcome = outcomeRejected
			s.rejectValidation(ctx, payload, user, enso.ErrNoBrand.Error())
			return nil
		}
		if !s.retriesExhausted(ctx) {
			span.RecordError(err)
			return fmt.Errorf("content validation: %w", err)
		}
		s.rejectValidation(ctx, payload, user, fmt.Sprintf("content validation failed: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "content validation failed")
		return fmt.Errorf("content validation: %w", err)
	}

	validation := domain.Validation{
		JobID:     payload.JobID,
		CastHash:  payload.CastHash,
		FID:       payload.FID,
		Text:      payload.Text,
		ImageURL:  payload.ImageURL,
		IsValid:   true,
		Address:   user.Address,
		Username:  user.Username,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.InsertValidation(ctx, validation); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation insert failed")
		return fmt.Errorf("insert validation: %w", err)
	}

	s.logger.Printf("Validated job_id=%s username=%s brand=%s", payload.JobID, user.Username, brand)
	s.archiveEvidence(ctx, payload.JobID, domain.StageValidate, brand, "", validation)
	s.dispatchCallback(ctx, payload, "quest.validated", map[string]any{
		"job_id":       payload.JobID,
		"is_valid":     true,
		"brand":        brand,
		"username":     user.Username,
		"requested_at": payload.RequestedAt,
		"validated_at": validation.CreatedAt,
	})

	outcome = outcomeSucceeded
	span.SetStatus(codes.Ok, "validated")
	return nil
}

// rejectValidation writes the terminal is_valid=false row. Insert failures
// are logged and swallowed: the poll TTL bounds how long a client waits on
// a job whose terminal row never landed.
func (s *Server) rejectValidation(ctx context.Context, payload queue.StagePayload, user farcaster.User, reason string) {
	validation := domain.Validation{
		JobID:     payload.JobID,
		CastHash:  payload.CastHash,
		FID:       payload.FID,
		Text:      payload.Text,
		ImageURL:  payload.ImageURL,
		IsValid:   false,
		Address:   user.Address,
		Username:  user.Username,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.InsertValidation(ctx, validation); err != nil {
		s.logger.Printf("rejection insert failed job_id=%s err=%v", payload.JobID, err)
	}

	s.logger.Printf("Rejected job_id=%s reason=%q", payload.JobID, reason)
	s.archiveEvidence(ctx, payload.JobID, domain.StageValidate, "", reason, validation)
	s.dispatchCallback(ctx, payload, "quest.rejected", map[string]any{
		"job_id":       payload.JobID,
		"is_valid":     false,
		"reason":       reason,
		"requested_at": payload.RequestedAt,
		"rejected_at":  validation.CreatedAt,
	})
}

// handleMint runs the attestation mint and the reward transfer for a
// previously validated job and writes the terminal attestations row.
func (s *Server) handleMint(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := outcomeErrored

	payload, err := queue.ParseStagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.mint", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int64("job.fid", payload.FID),
	)
	defer span.End()
	defer func() {
		s.metrics.stageDuration.WithLabelValues(domain.StageMint, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.stagesTotal.WithLabelValues(domain.StageMint, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeStages.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeStages.Dec()
	}()

	validation, ok, err := s.jobStore.LatestValidation(ctx, payload.JobID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("load validation: %w", err)
	}
	if !ok || !validation.IsValid {
		return fmt.Errorf("job %s is not validated: %w", payload.JobID, asynq.SkipRetry)
	}

	s.logger.Printf("Minting... job_id=%s username=%s", payload.JobID, validation.Username)

	mintURL, err := s.minter.Mint(ctx, enso.MintParams{
		Username:      validation.Username,
		AttestWallet:  validation.Address,
		PostURL:       castPostURL(validation.Username, validation.CastHash),
		PostImageLink: validation.ImageURL,
		PostContent:   validation.Text,
		QuestID:       s.mintQuestID(payload.Label),
	})
	if err != nil {
		if !s.retriesExhausted(ctx) {
			span.RecordError(err)
			return fmt.Errorf("mint attestation: %w", err)
		}
		s.failMint(ctx, payload, validation, fmt.Sprintf("mint failed: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		return fmt.Errorf("mint attestation: %w", err)
	}

	// The reward transfer rides on a successful mint but never voids it.
	// The relay reports the final transfer status through the transaction
	// webhook; an empty tx_id here just means no transfer was opened.
	var txID string
	if s.rewarder != nil {
		txID, err = s.rewarder.SendReward(ctx, validation.Address)
		if err != nil {
			s.logger.Printf("reward transfer failed job_id=%s account=%s err=%v", payload.JobID, validation.Address, err)
			txID = ""
		} else {
			s.metrics.rewardsTotal.Inc()
		}
	}

	attestation := domain.Attestation{
		JobID:     payload.JobID,
		CastHash:  validation.CastHash,
		IsValid:   true,
		Tx:        mintURL,
		TxID:      txID,
		Owner:     validation.Address,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.InsertAttestation(ctx, attestation); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attestation insert failed")
		return fmt.Errorf("insert attestation: %w", err)
	}

	s.logger.Printf("Minted job_id=%s tx=%s tx_id=%s", payload.JobID, mintURL, txID)
	s.archiveEvidence(ctx, payload.JobID, domain.StageMint, mintURL, "", attestation)
	s.dispatchCallback(ctx, payload, "quest.minted", map[string]any{
		"job_id":       payload.JobID,
		"tx":           mintURL,
		"tx_id":        txID,
		"owner":        validation.Address,
		"requested_at": payload.RequestedAt,
		"minted_at":    attestation.CreatedAt,
	})

	outcome = outcomeSucceeded
	span.SetStatus(codes.Ok, "minted")
	return nil
}

func (s *Server) failMint(ctx context.Context, payload queue.StagePayload, validation domain.Validation, message string) {
	attestation := domain.Attestation{
		JobID:     payload.JobID,
		CastHash:  validation.CastHash,
		IsValid:   validation.IsValid,
		Message:   message,
		Owner:     validation.Address,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.InsertAttestation(ctx, attestation); err != nil {
		s.logger.Printf("failed attestation insert failed job_id=%s err=%v", payload.JobID, err)
	}

	s.archiveEvidence(ctx, payload.JobID, domain.StageMint, "", message, attestation)
	s.dispatchCallback(ctx, payload, "quest.failed", map[string]any{
		"job_id":       payload.JobID,
		"error":        message,
		"requested_at": payload.RequestedAt,
		"failed_at":    attestation.CreatedAt,
	})
}

// handleMintNotes is the annotation variant of handleMint: no prior
// validations row exists, so the social-graph lookup happens inline and
// the terminal row lands in notes.
func (s *Server) handleMintNotes(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := outcomeErrored

	payload, err := queue.ParseStagePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.mint_notes", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.Int64("job.fid", payload.FID),
	)
	defer span.End()
	defer func() {
		s.metrics.stageDuration.WithLabelValues(domain.StageMintNotes, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.stagesTotal.WithLabelValues(domain.StageMintNotes, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeStages.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeStages.Dec()
	}()

	s.logger.Printf("Minting note... job_id=%s fid=%d", payload.JobID, payload.FID)

	user, err := s.social.UserByFID(ctx, payload.FID)
	if err != nil {
		if errors.Is(err, farcaster.ErrNoUser) || errors.Is(err, farcaster.ErrNoVerifiedAddress) {
			outcome = outcomeRejected
			s.failNote(ctx, payload, err.Error())
			return nil
		}
		if !s.retriesExhausted(ctx) {
			span.RecordError(err)
			return fmt.Errorf("social graph lookup: %w", err)
		}
		s.failNote(ctx, payload, fmt.Sprintf("social graph lookup failed: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "social graph lookup failed")
		return fmt.Errorf("social graph lookup: %w", err)
	}

	mintURL, err := s.minter.Mint(ctx, enso.MintParams{
		Username:      user.Username,
		AttestWallet:  user.Address,
		PostURL:       castPostURL(user.Username, payload.CastHash),
		PostImageLink: payload.ImageURL,
		PostContent:   payload.Text,
		QuestID:       s.mintQuestID(payload.Label),
	})
	if err != nil {
		if !s.retriesExhausted(ctx) {
			span.RecordError(err)
			return fmt.Errorf("mint note: %w", err)
		}
		s.failNote(ctx, payload, fmt.Sprintf("mint failed: %v", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		return fmt.Errorf("mint note: %w", err)
	}

	var txID string
	if s.rewarder != nil {
		txID, err = s.rewarder.SendReward(ctx, user.Address)
		if err != nil {
			s.logger.Printf("reward transfer failed job_id=%s account=%s err=%v", payload.JobID, user.Address, err)
			txID = ""
		} else {
			s.metrics.rewardsTotal.Inc()
		}
	}

	note := domain.Note{
		JobID:     payload.JobID,
		FID:       payload.FID,
		CastHash:  payload.CastHash,
		Tx:        mintURL,
		TxID:      txID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.InsertNote(ctx, note); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "note insert failed")
		return fmt.Errorf("insert note: %w", err)
	}

	s.logger.Printf("Minted note job_id=%s tx=%s tx_id=%s", payload.JobID, mintURL, txID)
	s.archiveEvidence(ctx, payload.JobID, domain.StageMintNotes, mintURL, "", note)
	s.dispatchCallback(ctx, payload, "note.minted", map[string]any{
		"job_id":       payload.JobID,
		"tx":           mintURL,
		"tx_id":        txID,
		"requested_at": payload.RequestedAt,
		"minted_at":    note.CreatedAt,
	})

	outcome = outcomeSucceeded
	span.SetStatus(codes.Ok, "minted")
	return nil
}

func (s *Server) failNote(ctx context.Context, payload queue.StagePayload, message string) {
	note := domain.Note{
		JobID:     payload.JobID,
		FID:       payload.FID,
		CastHash:  payload.CastHash,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.jobStore.InsertNote(ctx, note); err != nil {
		s.logger.Printf("failed note insert failed job_id=%s err=%v", payload.JobID, err)
	}

	s.archiveEvidence(ctx, payload.JobID, domain.StageMintNotes, "", message, note)
	s.dispatchCallback(ctx, payload, "note.failed", map[string]any{
		"job_id":       payload.JobID,
		"error":        message,
		"requested_at": payload.RequestedAt,
		"failed_at":    note.CreatedAt,
	})
}

// retriesExhausted reports whether this execution is the task's last
// scheduled attempt.
func (s *Server) retriesExhausted(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) archiveEvidence(ctx context.Context, jobID, stage, outcome, errText string, payload any) {
	if s.evidence == nil {
		return
	}
	if err := s.evidence.StoreEvidence(ctx, archive.Evidence{
		JobID:   jobID,
		Stage:   stage,
		Outcome: outcome,
		Error:   errText,
		Payload: payload,
	}); err != nil {
		s.metrics.evidenceDropped.Inc()
		s.logger.Printf("evidence write failed job_id=%s stage=%s err=%v", jobID, stage, err)
	}
}

func (s *Server) dispatchCallback(ctx context.Context, payload queue.StagePayload, event string, body map[string]any) {
	if payload.CallbackURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.CallbackURL, event, body); err != nil {
		s.metrics.callbackFailed.Inc()
		s.logger.Printf("callback delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func (s *Server) mintQuestID(label string) string {
	if strings.TrimSpace(label) != "" {
		return label
	}
	return s.questID
}

// castPostURL rebuilds the public post URL the minting webhook embeds in
// the attestation. Warpcast addresses casts by username and hash prefix.
func castPostURL(username, castHash string) string {
	hash := castHash
	if len(hash) > 10 {
		hash = hash[:10]
	}
	return fmt.Sprintf("https://warpcast.com/%s/%s", username, hash)
}
