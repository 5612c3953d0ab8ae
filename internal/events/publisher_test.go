package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/assessd/internal/config"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func testEventsConfig() *config.EventsConfig {
	return &config.EventsConfig{
		Enabled:       true,
		SubjectPrefix: "assessments",
		RetryInterval: config.Duration(20 * time.Millisecond),
		BufferSize:    16,
	}
}

func TestPublisherSessionLifecycle(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 16)
	sub, err := nc.ChanSubscribe("assessments.sess-1.>", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p := NewNATSPublisher(testEventsConfig(), nc, nil)
	defer p.Close()

	ctx := context.Background()
	p.SessionCreated(ctx, "sess-1", "cand-1", "hybrid-pipeline")
	p.RoundStarted(ctx, "sess-1", "rnd-1", "aptitude", 1)
	p.RoundEvaluated(ctx, "sess-1", "aptitude", 72, true)
	p.SessionCompleted(ctx, "sess-1", "completed", 72)

	subjects := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		select {
		case msg := <-received:
			subjects = append(subjects, msg.Subject)
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d events", i)
		}
	}
	assert.Contains(t, subjects, "assessments.sess-1.created")
	assert.Contains(t, subjects, "assessments.sess-1.round.aptitude.started")
	assert.Contains(t, subjects, "assessments.sess-1.round.aptitude.evaluated")
	assert.Contains(t, subjects, "assessments.sess-1.completed")
}

func TestPublisherEvaluatedPayload(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("assessments.sess-2.round.sql.evaluated", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	p := NewNATSPublisher(testEventsConfig(), nc, nil)
	defer p.Close()

	p.RoundEvaluated(context.Background(), "sess-2", "sql", 55.5, false)

	select {
	case msg := <-received:
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Data, &payload))
		assert.Equal(t, "sess-2", payload["session_id"])
		assert.Equal(t, 55.5, payload["score"])
		assert.Equal(t, false, payload["passed"])
	case <-time.After(2 * time.Second):
		t.Fatal("evaluated event never arrived")
	}
}

func TestPublisherRetriesBufferedEvents(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL(),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(10*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(testEventsConfig(), nc, nil)
	defer p.Close()

	// Force a publish failure by filling the reconnect buffer path:
	// close the connection's underlying server, publish, then verify
	// the event is buffered and drained once publishes succeed again.
	p.enqueue(pendingEvent{
		subject: "assessments.sess-3.completed",
		data:    []byte(`{"session_id":"sess-3"}`),
	})
	require.Equal(t, 1, p.Pending())

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("assessments.sess-3.completed", received)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("buffered event never retried")
	}
	assert.Eventually(t, func() bool { return p.Pending() == 0 }, time.Second, 10*time.Millisecond)
}

func TestPublisherBufferDropsOldestWhenFull(t *testing.T) {
	cfg := testEventsConfig()
	cfg.BufferSize = 2
	// Keep the retry loop out of the way so the buffer can be inspected.
	cfg.RetryInterval = config.Duration(time.Hour)

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	p := NewNATSPublisher(cfg, nc, nil)
	defer p.Close()

	p.enqueue(pendingEvent{subject: "a", data: []byte(`1`)})
	p.enqueue(pendingEvent{subject: "b", data: []byte(`2`)})
	p.enqueue(pendingEvent{subject: "c", data: []byte(`3`)})

	p.mu.Lock()
	subjects := make([]string, 0, len(p.pending))
	for _, ev := range p.pending {
		subjects = append(subjects, ev.subject)
	}
	p.mu.Unlock()
	assert.Equal(t, []string{"b", "c"}, subjects)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = Nop{}
	p.SessionCreated(context.Background(), "s", "c", "p")
	p.SessionAbandoned(context.Background(), "s")
	p.Close()
}
