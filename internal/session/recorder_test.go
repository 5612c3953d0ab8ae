package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/gateway"
)

// flakyGateway fails outcome writes a fixed number of times.
type flakyGateway struct {
	failures atomic.Int32
	calls    atomic.Int32
	done     chan recordedOutcome
}

func (f *flakyGateway) CreateSession(context.Context, string, string) (string, error) {
	return "", nil
}
func (f *flakyGateway) StartRound(context.Context, string, string) (*gateway.StartRoundResponse, error) {
	return nil, nil
}
func (f *flakyGateway) SubmitRound(context.Context, string, json.RawMessage) (*gateway.EvaluationResult, error) {
	return nil, nil
}
func (f *flakyGateway) CompleteRound(context.Context, string) (*gateway.EvaluationResult, error) {
	return nil, nil
}
func (f *flakyGateway) SyncProgress(context.Context, string, json.RawMessage) (*gateway.SyncExchange, error) {
	return nil, nil
}

func (f *flakyGateway) RecordSessionOutcome(ctx context.Context, sessionID, status string, score float64) error {
	f.calls.Add(1)
	if f.failures.Load() > 0 {
		f.failures.Add(-1)
		return errors.New("persistence unavailable")
	}
	f.done <- recordedOutcome{sessionID: sessionID, status: status, score: score}
	return nil
}

func TestRecorderRetriesUntilSuccess(t *testing.T) {
	gw := &flakyGateway{done: make(chan recordedOutcome, 1)}
	gw.failures.Store(2)

	r := NewRecorder(gw, nil, 10*time.Millisecond)
	defer r.Close()

	r.Record("sess-1", OutcomeCompleted, 81.5)

	select {
	case o := <-gw.done:
		assert.Equal(t, "sess-1", o.sessionID)
		assert.Equal(t, OutcomeCompleted, o.status)
		assert.Equal(t, 81.5, o.score)
	case <-time.After(2 * time.Second):
		t.Fatal("outcome never landed")
	}
	assert.Equal(t, int32(3), gw.calls.Load())
}

func TestRecorderGivesUpAfterMaxTries(t *testing.T) {
	gw := &flakyGateway{done: make(chan recordedOutcome, 1)}
	gw.failures.Store(100)

	r := NewRecorder(gw, nil, time.Millisecond)
	defer r.Close()

	r.Record("sess-1", OutcomeAbandoned, 0)

	require.Eventually(t, func() bool {
		return gw.calls.Load() >= 5
	}, 2*time.Second, time.Millisecond)

	// Bounded: attempts stop at the cap.
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, gw.calls.Load(), int32(5))
}

func TestRecorderNeverBlocksCaller(t *testing.T) {
	gw := &flakyGateway{done: make(chan recordedOutcome, 128)}

	r := NewRecorder(gw, nil, time.Millisecond)
	defer r.Close()

	start := time.Now()
	for i := 0; i < 200; i++ {
		r.Record("sess-1", OutcomeCompleted, 50)
	}
	assert.Less(t, time.Since(start), time.Second)
}
