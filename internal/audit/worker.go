package audit

import (
	"context"
	"log/slog"
	"time"
)

const deliverTimeout = 10 * time.Second

// AsyncEmitter queues events for a Sink and delivers them from a background worker, so
// broker latency never sits on the anchoring path. When the queue is full the event is
// dropped and logged; the structured log remains the complete record.
type AsyncEmitter struct {
	sink   Sink
	inbox  chan Event
	logger *slog.Logger
	done   chan struct{}
}

func NewAsyncEmitter(sink Sink, buffer int, logger *slog.Logger) *AsyncEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncEmitter{
		sink:   sink,
		inbox:  make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (a *AsyncEmitter) Emit(ctx context.Context, event Event) {
	event = enrich(ctx, event)
	select {
	case a.inbox <- event:
	default:
		a.logger.WarnContext(ctx, "audit queue full, dropping event",
			"action", event.Action,
			"report_id", event.ReportID,
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains what is left.
func (a *AsyncEmitter) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case event := <-a.inbox:
			a.deliver(ctx, event)
		}
	}
}

// Done is closed once Run has returned.
func (a *AsyncEmitter) Done() <-chan struct{} {
	return a.done
}

func (a *AsyncEmitter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	for {
		select {
		case event := <-a.inbox:
			a.deliver(ctx, event)
		default:
			return
		}
	}
}

func (a *AsyncEmitter) deliver(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()
	if err := a.sink.Deliver(ctx, event); err != nil {
		a.logger.WarnContext(ctx, "audit event delivery failed",
			"action", event.Action,
			"report_id", event.ReportID,
			"error", err,
		)
	}
}
