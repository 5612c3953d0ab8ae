// Package events publishes session and round lifecycle events to NATS.
//
// Events are published to subjects under a configurable prefix:
//
//   - {prefix}.{session_id}.created
//   - {prefix}.{session_id}.round.{kind}.started
//   - {prefix}.{session_id}.round.{kind}.evaluated
//   - {prefix}.{session_id}.completed
//   - {prefix}.{session_id}.abandoned
//
// Publishing is best effort: a failed publish is buffered and retried in the
// background, and the buffer drops oldest-first when full. Event delivery
// never blocks or fails a session operation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/logging"
)

// Publisher emits lifecycle events. Implementations never block the caller.
type Publisher interface {
	SessionCreated(ctx context.Context, sessionID, candidateID, pipelineType string)
	RoundStarted(ctx context.Context, sessionID, roundID, kind string, attempt int)
	RoundEvaluated(ctx context.Context, sessionID, kind string, score float64, passed bool)
	SessionCompleted(ctx context.Context, sessionID, status string, overallScore float64)
	SessionAbandoned(ctx context.Context, sessionID string)
	Close()
}

// Nop is a Publisher that discards everything. Used when events are disabled.
type Nop struct{}

func (Nop) SessionCreated(context.Context, string, string, string)    {}
func (Nop) RoundStarted(context.Context, string, string, string, int) {}
func (Nop) RoundEvaluated(context.Context, string, string, float64, bool) {
}
func (Nop) SessionCompleted(context.Context, string, string, float64) {}
func (Nop) SessionAbandoned(context.Context, string)                  {}
func (Nop) Close()                                                    {}

type pendingEvent struct {
	subject string
	data    []byte
}

// NATSPublisher publishes lifecycle events to a NATS connection, with a
// bounded background retry queue for failed publishes.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	logger *logging.Logger

	retryInterval time.Duration

	mu      sync.Mutex
	pending []pendingEvent
	maxPend int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewNATSPublisher creates a publisher and starts its retry loop.
func NewNATSPublisher(cfg *config.EventsConfig, nc *nats.Conn, logger *logging.Logger) *NATSPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &NATSPublisher{
		nc:            nc,
		prefix:        cfg.SubjectPrefix,
		logger:        logger.Named("events"),
		retryInterval: cfg.RetryInterval.Duration(),
		maxPend:       cfg.BufferSize,
		stopCh:        make(chan struct{}),
	}
	if p.retryInterval <= 0 {
		p.retryInterval = 5 * time.Second
	}
	if p.maxPend <= 0 {
		p.maxPend = 256
	}
	p.wg.Add(1)
	go p.retryLoop()
	return p
}

func (p *NATSPublisher) SessionCreated(ctx context.Context, sessionID, candidateID, pipelineType string) {
	p.publish(ctx, fmt.Sprintf("%s.%s.created", p.prefix, sessionID), map[string]interface{}{
		"session_id":    sessionID,
		"candidate_id":  candidateID,
		"pipeline_type": pipelineType,
		"timestamp":     time.Now(),
	})
}

func (p *NATSPublisher) RoundStarted(ctx context.Context, sessionID, roundID, kind string, attempt int) {
	p.publish(ctx, fmt.Sprintf("%s.%s.round.%s.started", p.prefix, sessionID, kind), map[string]interface{}{
		"session_id": sessionID,
		"round_id":   roundID,
		"kind":       kind,
		"attempt":    attempt,
		"timestamp":  time.Now(),
	})
}

func (p *NATSPublisher) RoundEvaluated(ctx context.Context, sessionID, kind string, score float64, passed bool) {
	p.publish(ctx, fmt.Sprintf("%s.%s.round.%s.evaluated", p.prefix, sessionID, kind), map[string]interface{}{
		"session_id": sessionID,
		"kind":       kind,
		"score":      score,
		"passed":     passed,
		"timestamp":  time.Now(),
	})
}

func (p *NATSPublisher) SessionCompleted(ctx context.Context, sessionID, status string, overallScore float64) {
	p.publish(ctx, fmt.Sprintf("%s.%s.completed", p.prefix, sessionID), map[string]interface{}{
		"session_id":    sessionID,
		"status":        status,
		"overall_score": overallScore,
		"timestamp":     time.Now(),
	})
}

func (p *NATSPublisher) SessionAbandoned(ctx context.Context, sessionID string) {
	p.publish(ctx, fmt.Sprintf("%s.%s.abandoned", p.prefix, sessionID), map[string]interface{}{
		"session_id": sessionID,
		"timestamp":  time.Now(),
	})
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error(ctx, "marshal event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "publish failed, buffering for retry",
			zap.String("subject", subject), zap.Error(err))
		p.enqueue(pendingEvent{subject: subject, data: data})
	}
}

func (p *NATSPublisher) enqueue(ev pendingEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.maxPend {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, ev)
}

// retryLoop periodically re-attempts buffered publishes.
func (p *NATSPublisher) retryLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.flush()
			return
		case <-ticker.C:
			p.flush()
		}
	}
}

func (p *NATSPublisher) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()

	var failed []pendingEvent
	for _, ev := range batch {
		if err := p.nc.Publish(ev.subject, ev.data); err != nil {
			failed = append(failed, ev)
		}
	}
	if len(failed) > 0 {
		p.mu.Lock()
		p.pending = append(failed, p.pending...)
		p.mu.Unlock()
	}
}

// Pending returns the number of buffered events awaiting retry.
func (p *NATSPublisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close stops the retry loop after one final flush attempt. The NATS
// connection itself is owned by the caller.
func (p *NATSPublisher) Close() {
	close(p.stopCh)
	p.wg.Wait()
}
