package round

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/config"
	"github.com/fyrsmithlabs/assessd/internal/gateway"
)

// fakeGateway implements gateway.Client with overridable behaviors.
type fakeGateway struct {
	mu          sync.Mutex
	startCalls  int
	submitCalls int
	syncCalls   int
	lastSubmit  json.RawMessage

	startFn    func() (*gateway.StartRoundResponse, error)
	submitFn   func(workingData json.RawMessage) (*gateway.EvaluationResult, error)
	completeFn func() (*gateway.EvaluationResult, error)
}

func (f *fakeGateway) CreateSession(ctx context.Context, candidateID, pipelineType string) (string, error) {
	return "sess-fake", nil
}

func (f *fakeGateway) StartRound(ctx context.Context, sessionID, roundKind string) (*gateway.StartRoundResponse, error) {
	f.mu.Lock()
	f.startCalls++
	f.mu.Unlock()
	if f.startFn != nil {
		return f.startFn()
	}
	return &gateway.StartRoundResponse{RoundID: "rnd-fake", DurationSeconds: 1800}, nil
}

func (f *fakeGateway) SubmitRound(ctx context.Context, roundID string, workingData json.RawMessage) (*gateway.EvaluationResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.lastSubmit = workingData
	f.mu.Unlock()
	if f.submitFn != nil {
		return f.submitFn(workingData)
	}
	return &gateway.EvaluationResult{Score: 80}, nil
}

func (f *fakeGateway) CompleteRound(ctx context.Context, roundID string) (*gateway.EvaluationResult, error) {
	if f.completeFn != nil {
		return f.completeFn()
	}
	return &gateway.EvaluationResult{Score: 75}, nil
}

func (f *fakeGateway) SyncProgress(ctx context.Context, roundID string, workingData json.RawMessage) (*gateway.SyncExchange, error) {
	f.mu.Lock()
	f.syncCalls++
	f.mu.Unlock()
	return &gateway.SyncExchange{Reply: json.RawMessage(`"ok"`)}, nil
}

func (f *fakeGateway) RecordSessionOutcome(ctx context.Context, sessionID, status string, overallScore float64) error {
	return nil
}

func (f *fakeGateway) counts() (starts, submits, syncs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.submitCalls, f.syncCalls
}

func testRoundConfig() config.RoundConfig {
	return config.RoundConfig{
		DefaultDuration: config.Duration(time.Hour),
		PassThreshold:   60,
		MaxAttempts:     2,
		Retryable:       true,
	}
}

func newTestMachine(t *testing.T, kind Kind, gw gateway.Client, opts ...MachineOption) *Machine {
	t.Helper()
	opts = append(opts, WithTimerTick(5*time.Millisecond))
	m, err := NewMachine("sess-1", kind, testRoundConfig(), gw, nil, opts...)
	require.NoError(t, err)
	return m
}

func TestMachineStart(t *testing.T) {
	gw := &fakeGateway{
		startFn: func() (*gateway.StartRoundResponse, error) {
			return &gateway.StartRoundResponse{
				RoundID:         "rnd-1",
				DurationSeconds: 1800,
				Payload:         json.RawMessage(`{"questions":[]}`),
			}, nil
		},
	}
	m := newTestMachine(t, KindAptitude, gw)

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateActive, m.State())
	assert.Equal(t, "rnd-1", m.RoundID())
	assert.JSONEq(t, `{"questions":[]}`, string(m.Payload()))
	assert.Greater(t, m.Remaining(), 29*time.Minute)

	// Second start is rejected.
	assert.ErrorIs(t, m.Start(context.Background()), ErrInvalidTransition)
}

func TestMachineStartFailureIsRetryable(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	gw := &fakeGateway{
		startFn: func() (*gateway.StartRoundResponse, error) {
			if fail.Load() {
				return nil, gateway.ErrStartFailed
			}
			return &gateway.StartRoundResponse{RoundID: "rnd-1", DurationSeconds: 60}, nil
		},
	}
	m := newTestMachine(t, KindCoding, gw)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrStartFailed)
	assert.Equal(t, StateNotStarted, m.State())

	fail.Store(false)
	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateActive, m.State())
}

func TestMachineDefaultDurationFallback(t *testing.T) {
	gw := &fakeGateway{
		startFn: func() (*gateway.StartRoundResponse, error) {
			return &gateway.StartRoundResponse{RoundID: "rnd-1"}, nil
		},
	}
	m := newTestMachine(t, KindAptitude, gw)

	require.NoError(t, m.Start(context.Background()))
	assert.Greater(t, m.Remaining(), 59*time.Minute)
}

func TestMachineSubmitEvaluates(t *testing.T) {
	gw := &fakeGateway{
		submitFn: func(json.RawMessage) (*gateway.EvaluationResult, error) {
			return &gateway.EvaluationResult{Score: 72, Detail: json.RawMessage(`{"correct":18}`)}, nil
		},
	}
	var terminal []Result
	m := newTestMachine(t, KindAptitude, gw, WithTerminalFunc(func(r Result) {
		terminal = append(terminal, r)
	}))

	require.NoError(t, m.Start(context.Background()))
	result, err := m.Submit(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 72.0, result.Score)
	assert.True(t, result.Passed)
	assert.Equal(t, StateEvaluated, m.State())
	require.Len(t, terminal, 1)
	assert.Equal(t, KindAptitude, terminal[0].Kind)
}

func TestMachineSubmitBelowThresholdFails(t *testing.T) {
	gw := &fakeGateway{
		submitFn: func(json.RawMessage) (*gateway.EvaluationResult, error) {
			return &gateway.EvaluationResult{Score: 59.9}, nil
		},
	}
	m := newTestMachine(t, KindAptitude, gw)

	require.NoError(t, m.Start(context.Background()))
	result, err := m.Submit(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.Passed)
}

func TestMachineSubmitFailureRecordsSyntheticResult(t *testing.T) {
	gw := &fakeGateway{
		submitFn: func(json.RawMessage) (*gateway.EvaluationResult, error) {
			return nil, gateway.ErrSubmitFailed
		},
	}
	var terminal []Result
	m := newTestMachine(t, KindCoding, gw, WithTerminalFunc(func(r Result) {
		terminal = append(terminal, r)
	}))

	require.NoError(t, m.Start(context.Background()))
	result, err := m.Submit(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
	assert.False(t, result.Passed)
	assert.True(t, result.Synthetic)
	assert.Equal(t, StateExpired, m.State())
	require.Len(t, terminal, 1)
}

func TestMachineConcurrentSubmitRejected(t *testing.T) {
	release := make(chan struct{})
	gw := &fakeGateway{
		submitFn: func(json.RawMessage) (*gateway.EvaluationResult, error) {
			<-release
			return &gateway.EvaluationResult{Score: 80}, nil
		},
	}
	m := newTestMachine(t, KindAptitude, gw)
	require.NoError(t, m.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := m.Submit(context.Background(), true)
		assert.NoError(t, err)
	}()

	// Wait until the first submit holds the Submitting state.
	require.Eventually(t, func() bool {
		return m.State() == StateSubmitting
	}, time.Second, time.Millisecond)

	_, err := m.Submit(context.Background(), true)
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	<-done

	_, submits, _ := gw.counts()
	assert.Equal(t, 1, submits)
}

func TestMachineExpiryForcesSubmit(t *testing.T) {
	gw := &fakeGateway{
		startFn: func() (*gateway.StartRoundResponse, error) {
			return &gateway.StartRoundResponse{RoundID: "rnd-1", DurationSeconds: 0}, nil
		},
		submitFn: func(data json.RawMessage) (*gateway.EvaluationResult, error) {
			return &gateway.EvaluationResult{Score: 10}, nil
		},
	}

	terminalCh := make(chan Result, 1)
	m, err := NewMachine("sess-1", KindAptitude, config.RoundConfig{
		DefaultDuration: config.Duration(20 * time.Millisecond),
		PassThreshold:   60,
	}, gw, nil,
		WithTimerTick(5*time.Millisecond),
		WithTerminalFunc(func(r Result) { terminalCh <- r }),
	)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))

	select {
	case r := <-terminalCh:
		assert.False(t, r.Passed)
		assert.Equal(t, 10.0, r.Score)
	case <-time.After(2 * time.Second):
		t.Fatal("expiry never produced a terminal result")
	}
	assert.Equal(t, StateEvaluated, m.State())
}

func TestMachineExpirySubmitRaceSingleTerminal(t *testing.T) {
	for i := 0; i < 30; i++ {
		gw := &fakeGateway{
			startFn: func() (*gateway.StartRoundResponse, error) {
				return &gateway.StartRoundResponse{RoundID: "rnd-1"}, nil
			},
		}
		var terminal atomic.Int32
		m, err := NewMachine("sess-1", KindAptitude, config.RoundConfig{
			DefaultDuration: config.Duration(10 * time.Millisecond),
			PassThreshold:   60,
		}, gw, nil,
			WithTimerTick(time.Millisecond),
			WithTerminalFunc(func(Result) { terminal.Add(1) }),
		)
		require.NoError(t, err)
		require.NoError(t, m.Start(context.Background()))

		// Race a user submit against the expiring timer.
		time.Sleep(time.Duration(i%12) * time.Millisecond)
		_, _ = m.Submit(context.Background(), true)

		require.Eventually(t, func() bool {
			return m.State().Terminal()
		}, time.Second, time.Millisecond)

		// Give a losing expiry goroutine a moment to run its no-op.
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), terminal.Load(), "iteration %d", i)
	}
}

func TestMachineNonFinalSubmitWithoutCheckpointDisarmsTimer(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, KindAptitude, gw)
	require.NoError(t, m.Start(context.Background()))

	// Objective kinds take no checkpoints, so any submit ends the round
	// and must release the countdown with it.
	result, err := m.Submit(context.Background(), false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StateEvaluated, m.State())
	assert.Zero(t, m.Remaining())
}

func TestMachineUserSubmitCancelsTimer(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, KindAptitude, gw)
	require.NoError(t, m.Start(context.Background()))

	_, err := m.Submit(context.Background(), true)
	require.NoError(t, err)

	// No expiry fires afterwards.
	time.Sleep(30 * time.Millisecond)
	_, submits, _ := gw.counts()
	assert.Equal(t, 1, submits)
}

func TestMachineRecordProgressMergesAnswers(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, KindAptitude, gw)
	require.NoError(t, m.Start(context.Background()))

	_, err := m.RecordProgress(context.Background(), json.RawMessage(`{"answers":{"q1":"a"}}`))
	require.NoError(t, err)
	_, err = m.RecordProgress(context.Background(), json.RawMessage(`{"answers":{"q2":"c","q1":"b"}}`))
	require.NoError(t, err)

	_, err = m.Submit(context.Background(), true)
	require.NoError(t, err)

	var data WorkingData
	require.NoError(t, json.Unmarshal(gw.lastSubmit, &data))
	var sheet AnswerSheet
	require.NoError(t, json.Unmarshal(data.Payload, &sheet))
	assert.JSONEq(t, `"b"`, string(sheet.Answers["q1"]))
	assert.JSONEq(t, `"c"`, string(sheet.Answers["q2"]))

	// Objective rounds buffer locally, no gateway sync.
	_, _, syncs := gw.counts()
	assert.Zero(t, syncs)
}

func TestMachineRecordProgressSyncsIncrementalKinds(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, KindCoding, gw)
	require.NoError(t, m.Start(context.Background()))

	exchange, err := m.RecordProgress(context.Background(), json.RawMessage(`{"source":"select 1"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `"ok"`, string(exchange.Reply))

	_, _, syncs := gw.counts()
	assert.Equal(t, 1, syncs)
}

func TestMachineRecordProgressRejectedWhenNotActive(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, KindAptitude, gw)

	_, err := m.RecordProgress(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMachineChatCheckpointKeepsRoundActive(t *testing.T) {
	var completed atomic.Bool
	gw := &fakeGateway{
		submitFn: func(json.RawMessage) (*gateway.EvaluationResult, error) {
			return &gateway.EvaluationResult{Score: 50}, nil
		},
		completeFn: func() (*gateway.EvaluationResult, error) {
			completed.Store(true)
			return &gateway.EvaluationResult{Score: 85}, nil
		},
	}
	m := newTestMachine(t, KindTechnicalInterview, gw)
	require.NoError(t, m.Start(context.Background()))

	// Checkpoint submit returns to Active without a result.
	result, err := m.Submit(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StateActive, m.State())
	assert.False(t, completed.Load())

	// Final submit closes with the complete call; its score wins.
	result, err = m.Submit(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 85.0, result.Score)
	assert.True(t, result.Passed)
	assert.True(t, completed.Load())
}

func TestMachineResetForRetry(t *testing.T) {
	gw := &fakeGateway{
		submitFn: func(json.RawMessage) (*gateway.EvaluationResult, error) {
			return &gateway.EvaluationResult{Score: 40}, nil
		},
	}
	m := newTestMachine(t, KindAptitude, gw)

	// Reset before terminal is invalid.
	assert.ErrorIs(t, m.Reset(), ErrInvalidTransition)

	require.NoError(t, m.Start(context.Background()))
	_, err := m.RecordProgress(context.Background(), json.RawMessage(`{"answers":{"q1":"a"}}`))
	require.NoError(t, err)
	result, err := m.Submit(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, result.Passed)

	require.NoError(t, m.Reset())
	assert.Equal(t, StateNotStarted, m.State())
	assert.Equal(t, 2, m.Attempt())
	assert.Empty(t, m.RoundID())
	assert.Nil(t, m.Result())

	require.NoError(t, m.Start(context.Background()))
	_, err = m.Submit(context.Background(), true)
	require.NoError(t, err)

	// The retry submitted empty working data.
	var data WorkingData
	require.NoError(t, json.Unmarshal(gw.lastSubmit, &data))
	assert.Empty(t, data.Payload)
}

func TestMachineSubmitAfterTerminalReturnsResult(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMachine(t, KindAptitude, gw)
	require.NoError(t, m.Start(context.Background()))

	first, err := m.Submit(context.Background(), true)
	require.NoError(t, err)

	second, err := m.Submit(context.Background(), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	require.NotNil(t, second)
	assert.Equal(t, first.Score, second.Score)

	_, submits, _ := gw.counts()
	assert.Equal(t, 1, submits)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("system_design")
	require.NoError(t, err)
	assert.Equal(t, KindSystemDesign, k)

	_, err = ParseKind("juggling")
	assert.Error(t, err)
}
