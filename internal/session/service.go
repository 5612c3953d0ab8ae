package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/events"
	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/pipeline"
	"github.com/fyrsmithlabs/assessd/internal/round"
)

const instrumentationName = "github.com/fyrsmithlabs/assessd/internal/session"

// advanceTimeout bounds the automatic start of the next round after a pass.
const advanceTimeout = time.Minute

// Service drives assessment sessions end to end.
type Service interface {
	// CreateSession resolves the round sequence for a pipeline type and
	// creates a session in Created state.
	CreateSession(ctx context.Context, candidateID string, pipelineType pipeline.Type) (*Snapshot, error)

	// BeginCurrentRound starts the round at the session's current index.
	// Safe to call again after a start failure.
	BeginCurrentRound(ctx context.Context, sessionID string) (*RoundInfo, error)

	// RecordProgress merges partial work into the round's working data,
	// syncing best-effort for incremental kinds.
	RecordProgress(ctx context.Context, roundID string, partial json.RawMessage) (*gateway.SyncExchange, error)

	// Submit sends the round's work for evaluation. final=false is a
	// checkpoint for kinds that support it.
	Submit(ctx context.Context, roundID string, final bool) (*Snapshot, error)

	// RetryCurrentRound restarts a failed round whose policy allows it.
	RetryCurrentRound(ctx context.Context, sessionID string) (*RoundInfo, error)

	// Abandon terminates a session on an external signal.
	Abandon(ctx context.Context, sessionID string) error

	// Progress returns the session's aggregated state.
	Progress(ctx context.Context, sessionID string) (*Snapshot, error)

	// Close stops background work.
	Close() error
}

// ServiceConfig tunes orchestration behavior.
type ServiceConfig struct {
	// AutoAdvance begins the next round automatically when a round
	// passes and more rounds remain.
	AutoAdvance bool

	// OutcomeRetryInterval is the backoff between outcome-record retries.
	OutcomeRetryInterval time.Duration
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		AutoAdvance:          true,
		OutcomeRetryInterval: 5 * time.Second,
	}
}

// service implements the Service interface.
type service struct {
	config   *ServiceConfig
	appCfg   *config.Config
	gw       gateway.Client
	pub      events.Publisher
	recorder *Recorder
	logger   *logging.Logger

	// Telemetry
	tracer            trace.Tracer
	meter             metric.Meter
	sessionCounter    metric.Int64Counter
	roundCounter      metric.Int64Counter
	evaluationCounter metric.Int64Counter

	mu       sync.RWMutex
	sessions map[string]*session
	rounds   map[string]string // round ID -> session ID
	closed   bool
}

// NewService creates a session orchestrator.
func NewService(cfg *ServiceConfig, appCfg *config.Config, gw gateway.Client, pub events.Publisher, logger *logging.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultServiceConfig()
	}
	if appCfg == nil {
		return nil, errors.New("config is required")
	}
	if gw == nil {
		return nil, errors.New("gateway client is required")
	}
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &service{
		config:   cfg,
		appCfg:   appCfg,
		gw:       gw,
		pub:      pub,
		recorder: NewRecorder(gw, logger, cfg.OutcomeRetryInterval),
		logger:   logger.Named("session"),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		sessions: make(map[string]*session),
		rounds:   make(map[string]string),
	}

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	var err error

	s.sessionCounter, err = s.meter.Int64Counter(
		"assessd.sessions_total",
		metric.WithDescription("Total number of assessment sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create session counter", zap.Error(err))
	}

	s.roundCounter, err = s.meter.Int64Counter(
		"assessd.rounds_started_total",
		metric.WithDescription("Total number of rounds started"),
		metric.WithUnit("{round}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create round counter", zap.Error(err))
	}

	s.evaluationCounter, err = s.meter.Int64Counter(
		"assessd.rounds_evaluated_total",
		metric.WithDescription("Total number of round evaluations recorded"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create evaluation counter", zap.Error(err))
	}
}

func (s *service) CreateSession(ctx context.Context, candidateID string, pipelineType pipeline.Type) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "session.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("candidate_id", candidateID),
		attribute.String("pipeline_type", pipelineType.String()),
	)

	if candidateID == "" {
		return nil, errors.New("candidate id is required")
	}

	sequence, err := pipeline.SequenceFor(pipelineType)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	remoteID, err := s.gw.CreateSession(ctx, candidateID, pipelineType.String())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create remote session: %w", err)
	}
	if remoteID == "" {
		remoteID = uuid.New().String()
	}

	sess := &session{
		id:           remoteID,
		candidateID:  candidateID,
		pipelineType: pipelineType,
		sequence:     sequence,
		state:        StateCreated,
		createdAt:    time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("service is closed")
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	if s.sessionCounter != nil {
		s.sessionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("pipeline_type", pipelineType.String()),
		))
	}

	ctx = logging.WithSessionID(ctx, sess.id)
	s.logger.Info(ctx, "session created",
		zap.String("candidate_id", candidateID),
		zap.String("pipeline_type", pipelineType.String()),
		zap.Int("rounds", len(sequence)),
	)

	s.pub.SessionCreated(ctx, sess.id, candidateID, pipelineType.String())

	return s.snapshot(sess), nil
}

func (s *service) BeginCurrentRound(ctx context.Context, sessionID string) (*RoundInfo, error) {
	ctx, span := s.tracer.Start(ctx, "session.begin_round")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := s.lookup(sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	info, err := s.beginRound(logging.WithSessionID(ctx, sessionID), sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return info, nil
}

// beginRound builds (or reuses) the machine for the current index and starts
// it. The session lock is released before the remote start call.
func (s *service) beginRound(ctx context.Context, sess *session) (*RoundInfo, error) {
	sess.mu.Lock()
	if sess.state.Terminal() {
		sess.mu.Unlock()
		return nil, ErrSessionTerminal
	}
	kind := sess.sequence[sess.index]
	m := sess.current

	// Reuse a machine left in NotStarted by an earlier start failure,
	// otherwise one round being active already is a caller error.
	var staleRoundID string
	if m != nil && m.Kind() == kind && !m.State().Terminal() {
		if m.State() != round.StateNotStarted {
			sess.mu.Unlock()
			return nil, fmt.Errorf("%w: round %s already %s", round.ErrInvalidTransition, kind, m.State())
		}
	} else {
		if m != nil {
			staleRoundID = m.RoundID()
		}
		var err error
		sessID := sess.id
		m, err = round.NewMachine(sess.id, kind, s.appCfg.RoundFor(kind.String()), s.gw, s.logger,
			round.WithTerminalFunc(func(r round.Result) {
				s.onRoundEvaluated(sessID, r)
			}),
		)
		if err != nil {
			sess.mu.Unlock()
			return nil, err
		}
		sess.current = m
	}
	sess.mu.Unlock()

	// The replaced round can no longer be addressed; drop its index entry.
	if staleRoundID != "" {
		s.mu.Lock()
		delete(s.rounds, staleRoundID)
		s.mu.Unlock()
	}

	if err := m.Start(ctx); err != nil {
		// Retryable: the machine stays NotStarted and the session is
		// untouched.
		return nil, err
	}

	sess.mu.Lock()
	if sess.state == StateCreated {
		sess.state = StateInProgress
	}
	roundID := m.RoundID()
	attempt := m.Attempt()
	sess.mu.Unlock()

	s.mu.Lock()
	s.rounds[roundID] = sess.id
	s.mu.Unlock()

	if s.roundCounter != nil {
		s.roundCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", kind.String()),
		))
	}

	s.pub.RoundStarted(ctx, sess.id, roundID, kind.String(), attempt)

	md, _ := pipeline.MetadataFor(kind)
	return &RoundInfo{
		RoundID:          roundID,
		Kind:             kind,
		Title:            md.Title,
		Attempt:          attempt,
		RemainingSeconds: int64(m.Remaining() / time.Second),
		Payload:          m.Payload(),
	}, nil
}

func (s *service) RecordProgress(ctx context.Context, roundID string, partial json.RawMessage) (*gateway.SyncExchange, error) {
	ctx, span := s.tracer.Start(ctx, "session.record_progress")
	defer span.End()
	span.SetAttributes(attribute.String("round_id", roundID))

	sess, m, err := s.lookupRound(roundID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ctx = logging.WithSessionID(logging.WithRoundID(ctx, roundID), sess.id)
	return m.RecordProgress(ctx, partial)
}

func (s *service) Submit(ctx context.Context, roundID string, final bool) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "session.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("round_id", roundID),
		attribute.Bool("final", final),
	)

	sess, m, err := s.lookupRound(roundID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ctx = logging.WithSessionID(logging.WithRoundID(ctx, roundID), sess.id)

	if _, err := m.Submit(ctx, final); err != nil {
		// A rejected duplicate or post-terminal submit still reports
		// the session state rather than failing the caller.
		if errors.Is(err, round.ErrSubmitInFlight) || errors.Is(err, round.ErrInvalidTransition) {
			return s.snapshot(sess), nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.snapshot(sess), nil
}

// onRoundEvaluated is the machine terminal callback. It applies the gating
// decision table: advance on pass, complete on last pass, await retry or
// terminate early on fail.
func (s *service) onRoundEvaluated(sessionID string, result round.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
	defer cancel()
	ctx = logging.WithSessionID(ctx, sessionID)

	sess, err := s.lookup(sessionID)
	if err != nil {
		s.logger.Error(ctx, "evaluated round for unknown session", zap.Error(err))
		return
	}

	rc := s.appCfg.RoundFor(result.Kind.String())

	type action int
	const (
		actNone action = iota
		actAdvance
		actComplete
		actAwaitRetry
		actTerminate
	)

	sess.mu.Lock()
	if sess.state.Terminal() {
		// Abandoned mid-flight: discard the late result.
		sess.mu.Unlock()
		return
	}
	sess.upsertResult(result)

	act := actNone
	switch {
	case result.Passed && sess.index < len(sess.sequence)-1:
		sess.index++
		act = actAdvance
	case result.Passed:
		sess.state = StateCompleted
		act = actComplete
	default:
		attempt := 1
		if sess.current != nil {
			attempt = sess.current.Attempt()
		}
		if rc.Retryable && attempt < rc.MaxAttempts {
			act = actAwaitRetry
		} else {
			sess.state = StateCompleted
			sess.didNotAdvance = true
			act = actTerminate
		}
	}
	score := overallScore(sess.results)
	sess.mu.Unlock()

	if s.evaluationCounter != nil {
		s.evaluationCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", result.Kind.String()),
			attribute.Bool("passed", result.Passed),
		))
	}

	s.pub.RoundEvaluated(ctx, sessionID, result.Kind.String(), result.Score, result.Passed)

	s.logger.Info(ctx, "round evaluated",
		zap.String("kind", result.Kind.String()),
		zap.Float64("score", result.Score),
		zap.Bool("passed", result.Passed),
		zap.Bool("synthetic", result.Synthetic),
	)

	switch act {
	case actAdvance:
		if !s.config.AutoAdvance {
			return
		}
		if _, err := s.beginRound(ctx, sess); err != nil {
			// Retryable from the caller's side via BeginCurrentRound.
			s.logger.Error(ctx, "failed to auto-start next round", zap.Error(err))
		}
	case actComplete:
		s.finish(ctx, sess, OutcomeCompleted, score)
	case actTerminate:
		s.finish(ctx, sess, OutcomeDidNotAdvance, score)
	case actAwaitRetry:
		s.logger.Info(ctx, "round failed, retry available",
			zap.String("kind", result.Kind.String()))
	}
}

// finish records the outcome asynchronously and publishes completion.
func (s *service) finish(ctx context.Context, sess *session, status string, score float64) {
	s.recorder.Record(sess.id, status, score)
	s.pub.SessionCompleted(ctx, sess.id, status, score)
	s.logger.Info(ctx, "session finished",
		zap.String("status", status),
		zap.Float64("overall_score", score),
	)
}

func (s *service) RetryCurrentRound(ctx context.Context, sessionID string) (*RoundInfo, error) {
	ctx, span := s.tracer.Start(ctx, "session.retry_round")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := s.lookup(sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	sess.mu.Lock()
	if sess.state.Terminal() {
		sess.mu.Unlock()
		return nil, ErrSessionTerminal
	}
	m := sess.current
	if m == nil || !m.State().Terminal() {
		sess.mu.Unlock()
		return nil, ErrNoActiveRound
	}
	kind := m.Kind()
	rc := s.appCfg.RoundFor(kind.String())
	res := m.Result()
	if res == nil || res.Passed {
		sess.mu.Unlock()
		return nil, ErrRetryNotAllowed
	}
	if !rc.Retryable || m.Attempt() >= rc.MaxAttempts {
		sess.mu.Unlock()
		return nil, ErrRetryNotAllowed
	}
	staleRoundID := m.RoundID()
	if err := m.Reset(); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	sess.mu.Unlock()

	// Reset discards the failed attempt's round ID; the next begin issues a new one.
	if staleRoundID != "" {
		s.mu.Lock()
		delete(s.rounds, staleRoundID)
		s.mu.Unlock()
	}

	s.logger.Info(ctx, "retrying round",
		zap.String("kind", kind.String()),
		zap.Int("attempt", m.Attempt()),
	)
	return s.beginRound(ctx, sess)
}

func (s *service) Abandon(ctx context.Context, sessionID string) error {
	ctx, span := s.tracer.Start(ctx, "session.abandon")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	sess, err := s.lookup(sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	sess.mu.Lock()
	if sess.state.Terminal() {
		sess.mu.Unlock()
		return ErrSessionTerminal
	}
	sess.state = StateAbandoned
	m := sess.current
	score := overallScore(sess.results)
	sess.mu.Unlock()

	if m != nil {
		m.Abort()
	}

	s.recorder.Record(sessionID, OutcomeAbandoned, score)
	s.pub.SessionAbandoned(ctx, sessionID)
	s.logger.Info(ctx, "session abandoned", zap.Float64("overall_score", score))
	return nil
}

func (s *service) Progress(ctx context.Context, sessionID string) (*Snapshot, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(sess), nil
}

func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	// Stop countdowns so no expiry fires after shutdown.
	for _, sess := range sessions {
		sess.mu.Lock()
		m := sess.current
		sess.mu.Unlock()
		if m != nil {
			m.Abort()
		}
	}

	s.recorder.Close()
	return nil
}

func (s *service) lookup(sessionID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// lookupRound resolves a round ID to its session and current machine.
func (s *service) lookupRound(roundID string) (*session, *round.Machine, error) {
	s.mu.RLock()
	sessionID, ok := s.rounds[roundID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}
	sess.mu.Lock()
	m := sess.current
	sess.mu.Unlock()
	if m == nil || m.RoundID() != roundID {
		return nil, nil, fmt.Errorf("%w: %s", ErrRoundNotFound, roundID)
	}
	return sess, m, nil
}

func (s *service) snapshot(sess *session) *Snapshot {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	rounds := make([]RoundStatus, 0, len(sess.sequence))
	for i, kind := range sess.sequence {
		md, _ := pipeline.MetadataFor(kind)
		status := RoundStatus{Kind: kind, Title: md.Title, State: "not_started"}
		if res := sess.resultFor(kind); res != nil {
			score := res.Score
			passed := res.Passed
			status.Score = &score
			status.Passed = &passed
			status.State = "evaluated"
		}
		if i == sess.index && sess.current != nil && sess.current.Kind() == kind {
			status.State = sess.current.State().String()
			status.Attempt = sess.current.Attempt()
		}
		rounds = append(rounds, status)
	}

	var remaining int64
	if sess.current != nil && sess.current.State() == round.StateActive {
		remaining = int64(sess.current.Remaining() / time.Second)
	}

	return &Snapshot{
		SessionID:         sess.id,
		CandidateID:       sess.candidateID,
		PipelineType:      sess.pipelineType,
		State:             sess.state.String(),
		CurrentIndex:      sess.index,
		Rounds:            rounds,
		CompletionPercent: completionPercent(sess.results, len(sess.sequence)),
		OverallScore:      overallScore(sess.results),
		DidNotAdvance:     sess.didNotAdvance,
		RemainingSeconds:  remaining,
		CreatedAt:         sess.createdAt,
	}
}
