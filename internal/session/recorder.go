package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/logging"
)

// recordTimeout bounds a single outcome write attempt.
const recordTimeout = 30 * time.Second

// outcome is one pending session-outcome write.
type outcome struct {
	sessionID string
	status    string
	score     float64
	attempts  int
}

// Recorder writes session outcomes to the persistence collaborator
// asynchronously. A write failure is retried in the background; it never
// blocks a caller and never alters in-memory session state.
type Recorder struct {
	gw       gateway.Client
	logger   *logging.Logger
	interval time.Duration
	maxTries int

	queue  chan outcome
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRecorder starts a recorder with the given retry interval.
func NewRecorder(gw gateway.Client, logger *logging.Logger, interval time.Duration) *Recorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r := &Recorder{
		gw:       gw,
		logger:   logger.Named("recorder"),
		interval: interval,
		maxTries: 5,
		queue:    make(chan outcome, 64),
		stopCh:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Record enqueues an outcome write. Never blocks: if the queue is full the
// outcome is dropped with a log line.
func (r *Recorder) Record(sessionID, status string, score float64) {
	o := outcome{sessionID: sessionID, status: status, score: score}
	select {
	case r.queue <- o:
	default:
		r.logger.Error(context.Background(), "outcome queue full, dropping record",
			zap.String("session_id", sessionID), zap.String("status", status))
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			// Drain what is already queued, then stop.
			for {
				select {
				case o := <-r.queue:
					r.attempt(o)
				default:
					return
				}
			}
		case o := <-r.queue:
			r.attempt(o)
		}
	}
}

func (r *Recorder) attempt(o outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	ctx = logging.WithSessionID(ctx, o.sessionID)

	err := r.gw.RecordSessionOutcome(ctx, o.sessionID, o.status, o.score)
	if err == nil {
		r.logger.Debug(ctx, "recorded session outcome",
			zap.String("status", o.status), zap.Float64("overall_score", o.score))
		return
	}

	o.attempts++
	if o.attempts >= r.maxTries {
		r.logger.Error(ctx, "giving up on outcome record",
			zap.String("status", o.status), zap.Int("attempts", o.attempts), zap.Error(err))
		return
	}

	r.logger.Warn(ctx, "outcome record failed, will retry",
		zap.Int("attempt", o.attempts), zap.Error(err))

	// Requeue after the retry interval without holding up the loop.
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case <-r.stopCh:
		case <-time.After(r.interval):
			select {
			case r.queue <- o:
			default:
				r.logger.Error(context.Background(), "outcome queue full, dropping retry",
					zap.String("session_id", o.sessionID))
			}
		}
	}()
}

// Close stops the recorder after draining queued outcomes.
func (r *Recorder) Close() {
	close(r.stopCh)
	r.wg.Wait()
}
