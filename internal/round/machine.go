package round

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/logging"
	"github.com/fyrsmithlabs/assessd/internal/timer"
)

var (
	// ErrInvalidTransition means the operation is not valid in the
	// round's current state.
	ErrInvalidTransition = errors.New("round: invalid state transition")

	// ErrSubmitInFlight means a submit is already underway; the second
	// call is rejected, not queued.
	ErrSubmitInFlight = errors.New("round: submit already in flight")
)

// expirySubmitTimeout bounds the forced submit issued on timer expiry.
const expirySubmitTimeout = 2 * time.Minute

// Machine drives a single round through its lifecycle. All events, whether
// user submits, timer expiry or remote completions, funnel through the same
// mutex so only the first transition out of Active ever wins.
type Machine struct {
	kind      Kind
	sessionID string
	cfg       config.RoundConfig
	handler   Handler
	traits    Traits
	logger    *logging.Logger

	onTerminal func(Result)

	mu            sync.Mutex
	state         State
	countdown     *timer.Countdown
	roundID       string
	payload       json.RawMessage
	working       WorkingData
	attempt       int
	result        *Result
	pendingExpiry bool
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithTerminalFunc registers a callback invoked exactly once per arm cycle
// when the round reaches Evaluated or Expired. Called without locks held.
func WithTerminalFunc(fn func(Result)) MachineOption {
	return func(m *Machine) { m.onTerminal = fn }
}

// WithTimerTick overrides the countdown sampling interval. Tests only.
func WithTimerTick(tick time.Duration) MachineOption {
	return func(m *Machine) { m.countdown = timer.New(timer.WithTick(tick)) }
}

// NewMachine builds a machine for one round of a session.
func NewMachine(sessionID string, kind Kind, cfg config.RoundConfig, gw gateway.Client, logger *logging.Logger, opts ...MachineOption) (*Machine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	handler, err := handlerFor(kind, gw, logger)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		kind:      kind,
		sessionID: sessionID,
		cfg:       cfg,
		handler:   handler,
		traits:    handler.Traits(),
		logger:    logger.Named("round"),
		state:     StateNotStarted,
		countdown: timer.New(),
		working:   WorkingData{Kind: kind},
		attempt:   1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start opens the round against the gateway and arms the countdown. Valid
// only from NotStarted; a start failure leaves the round in NotStarted so
// the caller can retry.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateNotStarted {
		m.mu.Unlock()
		return ErrInvalidTransition
	}
	m.mu.Unlock()

	resp, err := m.handler.Start(ctx, m.sessionID, m.kind)
	if err != nil {
		return err
	}

	duration := m.cfg.DefaultDuration.Duration()
	if resp.DurationSeconds > 0 {
		duration = time.Duration(resp.DurationSeconds) * time.Second
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateNotStarted {
		return ErrInvalidTransition
	}
	if err := m.countdown.Start(duration, m.onExpire); err != nil {
		return err
	}
	m.roundID = resp.RoundID
	m.payload = resp.Payload
	m.state = StateActive

	m.logger.Info(ctx, "round started",
		zap.String("session_id", m.sessionID),
		zap.String("round_id", m.roundID),
		zap.String("kind", m.kind.String()),
		zap.Duration("duration", duration),
		zap.Int("attempt", m.attempt),
	)
	return nil
}

// RecordProgress merges partial work into the round's working data. For
// incremental kinds it also syncs to the gateway best-effort; sync failures
// are logged, never surfaced, and never block.
func (m *Machine) RecordProgress(ctx context.Context, partial json.RawMessage) (*gateway.SyncExchange, error) {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if err := m.handler.Merge(&m.working, partial); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	data := m.working
	roundID := m.roundID
	m.mu.Unlock()

	if !m.traits.Incremental {
		return &gateway.SyncExchange{}, nil
	}
	exchange, err := m.handler.Sync(ctx, roundID, &data)
	if err != nil {
		m.logger.Warn(ctx, "progress sync failed",
			zap.String("round_id", roundID), zap.Error(err))
		return &gateway.SyncExchange{}, nil
	}
	return exchange, nil
}

// Submit sends accumulated work for evaluation. final=false is a checkpoint
// for kinds that support it and returns the round to Active. A second submit
// while one is in flight is rejected with ErrSubmitInFlight. An exhausted
// submit never strands the round: it lands in Expired with a synthetic
// score-0 result.
func (m *Machine) Submit(ctx context.Context, final bool) (*Result, error) {
	m.mu.Lock()
	switch m.state {
	case StateActive:
	case StateSubmitting:
		m.mu.Unlock()
		return nil, ErrSubmitInFlight
	default:
		result := m.result
		m.mu.Unlock()
		if result != nil {
			return result, ErrInvalidTransition
		}
		return nil, ErrInvalidTransition
	}
	if final {
		m.countdown.Cancel()
	}
	m.state = StateSubmitting
	data := m.working
	roundID := m.roundID
	m.mu.Unlock()

	eval, err := m.handler.Submit(ctx, roundID, &data, final)

	m.mu.Lock()
	if m.state != StateSubmitting {
		// Aborted while the call was in flight; discard the response.
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if err != nil {
		m.countdown.Cancel()
		result := m.terminateLocked(StateExpired, Result{
			Kind:        m.kind,
			Score:       0,
			Passed:      false,
			CompletedAt: time.Now(),
			Synthetic:   true,
		})
		m.mu.Unlock()
		m.logger.Error(ctx, "submit exhausted, recording synthetic result",
			zap.String("round_id", roundID), zap.Error(err))
		m.notify(result)
		return &result, nil
	}

	if !final && m.traits.Checkpoint {
		m.state = StateActive
		expired := m.pendingExpiry
		m.pendingExpiry = false
		m.mu.Unlock()
		if expired {
			go m.onExpire()
		}
		return nil, nil
	}

	// Reached with final=false only for kinds without checkpoint submits,
	// where any submit ends the round; the countdown is still armed then.
	m.countdown.Cancel()
	result := m.terminateLocked(StateEvaluated, Result{
		Kind:        m.kind,
		Score:       eval.Score,
		Passed:      eval.Score >= float64(m.cfg.PassThreshold),
		Detail:      eval.Detail,
		CompletedAt: time.Now(),
	})
	m.mu.Unlock()

	m.logger.Info(ctx, "round evaluated",
		zap.String("round_id", roundID),
		zap.String("kind", m.kind.String()),
		zap.Float64("score", result.Score),
		zap.Bool("passed", result.Passed),
	)
	m.notify(result)
	return &result, nil
}

// terminateLocked records the terminal state and result. Caller holds mu.
func (m *Machine) terminateLocked(state State, result Result) Result {
	m.state = state
	m.result = &result
	return result
}

func (m *Machine) notify(result Result) {
	if m.onTerminal != nil {
		m.onTerminal(result)
	}
}

// onExpire forces a final submit with whatever work exists. If a user
// submit is already in flight it wins; an expiry arriving during a
// checkpoint submit is deferred until the round returns to Active.
func (m *Machine) onExpire() {
	m.mu.Lock()
	switch m.state {
	case StateActive:
	case StateSubmitting:
		m.pendingExpiry = true
		m.mu.Unlock()
		return
	default:
		m.mu.Unlock()
		return
	}
	roundID := m.roundID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), expirySubmitTimeout)
	defer cancel()
	ctx = logging.WithRoundID(ctx, roundID)

	m.logger.Info(ctx, "round timer expired, forcing submit",
		zap.String("round_id", roundID), zap.String("kind", m.kind.String()))

	if _, err := m.Submit(ctx, true); err != nil {
		if errors.Is(err, ErrSubmitInFlight) || errors.Is(err, ErrInvalidTransition) {
			return
		}
		m.logger.Error(ctx, "forced submit failed",
			zap.String("round_id", roundID), zap.Error(err))
	}
}

// Abort disarms the countdown and closes the round without a result, for
// session abandonment. A late remote response is discarded; no terminal
// callback fires.
func (m *Machine) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.countdown.Cancel()
	if m.state.Terminal() {
		return
	}
	m.state = StateExpired
	m.pendingExpiry = false
}

// Reset returns a terminal round to NotStarted for a retry: working data is
// discarded, the attempt count goes up by one, prior results stay with
// whoever recorded them.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Terminal() {
		return ErrInvalidTransition
	}
	m.state = StateNotStarted
	m.roundID = ""
	m.payload = nil
	m.working = WorkingData{Kind: m.kind}
	m.result = nil
	m.pendingExpiry = false
	m.attempt++
	return nil
}

// Kind returns the round kind.
func (m *Machine) Kind() Kind { return m.kind }

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RoundID returns the gateway-issued round ID, empty before start.
func (m *Machine) RoundID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundID
}

// Payload returns the opaque round payload issued at start.
func (m *Machine) Payload() json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payload
}

// Attempt returns the current attempt number, starting at 1.
func (m *Machine) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Remaining returns time left on the countdown, clamped to zero.
func (m *Machine) Remaining() time.Duration {
	return m.countdown.Remaining()
}

// Result returns the terminal result, nil until the round ends.
func (m *Machine) Result() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}
