package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicproof/internal/platform/kafka/producer"
	id "civicproof/pkg/domain"
	"civicproof/pkg/requestcontext"
)

type capturePublisher struct {
	mu       sync.Mutex
	messages []producer.Message
	err      error
}

func (c *capturePublisher) Publish(_ context.Context, msg producer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (b *blockingSink) Deliver(ctx context.Context, e Event) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, e)
	return nil
}

func (b *blockingSink) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.got)
}

func requestCtx() context.Context {
	ctx := requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC))
	ctx = requestcontext.WithRequestID(ctx, "req-42")
	return requestcontext.WithIdentity(ctx, id.UserID("officer-1"), "government")
}

func TestKafkaSinkKeysByReport(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewKafkaSink(pub, "civicproof.reports")

	event := enrich(requestCtx(), Event{
		Action:   ActionAnchorConfirmed,
		ReportID: "a9c1",
		Category: "roads",
		Location: "Jakarta",
		Status:   "anchored",
		TxRef:    "0xabc",
	})
	require.NoError(t, sink.Deliver(context.Background(), event))

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "civicproof.reports", msg.Topic)
	assert.Equal(t, []byte("a9c1"), msg.Key)
	assert.Equal(t, "anchor_confirmed", msg.Headers["action"])
	assert.Equal(t, "2026-03-01T08:30:00Z", msg.Headers["emitted_at"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "officer-1", decoded.ActorID)
	assert.Equal(t, "req-42", decoded.RequestID)
	assert.Equal(t, "0xabc", decoded.TxRef)
}

func TestLogEmitterEnrichesFromContext(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogEmitter(slog.New(slog.NewJSONHandler(&buf, nil)))

	e.Emit(requestCtx(), Event{Action: ActionReportGenerated, ReportID: "r1"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "audit event", line["msg"])
	assert.Equal(t, "report_generated", line["action"])
	assert.Equal(t, "officer-1", line["actor_id"])
	assert.Equal(t, "req-42", line["request_id"])
}

func TestAsyncEmitterDeliversInOrder(t *testing.T) {
	pub := &capturePublisher{}
	a := NewAsyncEmitter(NewKafkaSink(pub, "t"), 8, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	for _, action := range []Action{ActionAnchorClaimed, ActionAnchorSubmitted, ActionAnchorConfirmed} {
		a.Emit(requestCtx(), Event{Action: action, ReportID: "r1"})
	}
	require.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-a.Done()

	var actions []string
	for _, m := range pub.messages {
		actions = append(actions, m.Headers["action"])
	}
	assert.Equal(t, []string{"anchor_claimed", "anchor_submitted", "anchor_confirmed"}, actions)
}

func TestAsyncEmitterDropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	a := NewAsyncEmitter(sink, 1, slog.Default())

	// Nothing is running, so the first event fills the queue and the rest are dropped
	// without blocking the caller.
	done := make(chan struct{})
	go func() {
		for range 5 {
			a.Emit(context.Background(), Event{Action: ActionAnchorFailed, ReportID: "r1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}

	close(sink.release)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-a.Done()

	assert.Equal(t, 1, sink.count())
}

func TestAsyncEmitterSurvivesSinkErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	a := NewAsyncEmitter(NewKafkaSink(pub, "t"), 4, slog.Default())
	a.Emit(context.Background(), Event{Action: ActionAnchorFailed, ReportID: "r1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	select {
	case <-a.Done():
	default:
		t.Fatal("Run returned without closing Done")
	}
	assert.Zero(t, pub.count())
}

func TestMultiFansOut(t *testing.T) {
	var buf bytes.Buffer
	pub := &capturePublisher{}
	async := NewAsyncEmitter(NewKafkaSink(pub, "t"), 4, slog.Default())
	m := Multi{NewLogEmitter(slog.New(slog.NewTextHandler(&buf, nil))), async, Nop{}}

	m.Emit(requestCtx(), Event{Action: ActionAnchorReleased, ReportID: "r2"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	async.Run(ctx)

	assert.Contains(t, buf.String(), "anchor_released")
	require.Equal(t, 1, pub.count())
	assert.Equal(t, "2026-03-01T08:30:00Z", pub.messages[0].Headers["emitted_at"])
}
