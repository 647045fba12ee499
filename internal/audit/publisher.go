package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"civicproof/internal/platform/kafka/producer"
	"civicproof/pkg/requestcontext"
)

// Emitter accepts events. Implementations must not block the caller on slow sinks.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Sink delivers an event somewhere durable.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// enrich fills request-scoped fields the caller left empty.
func enrich(ctx context.Context, event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx).UTC()
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ActorID == "" {
		event.ActorID = requestcontext.UserID(ctx).String()
	}
	return event
}

// LogEmitter writes every event to the structured log synchronously.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) {
	event = enrich(ctx, event)
	e.logger.InfoContext(ctx, "audit event",
		"action", event.Action,
		"report_id", event.ReportID,
		"category", event.Category,
		"location", event.Location,
		"actor_id", event.ActorID,
		"request_id", event.RequestID,
		"status", event.Status,
		"tx_ref", event.TxRef,
		"reason", event.Reason,
	)
}

// Publisher is the message-broker side used by KafkaSink.
type Publisher interface {
	Publish(ctx context.Context, msg producer.Message) error
}

// KafkaSink publishes events to a topic keyed by report ID, so one report's events stay
// ordered within a partition.
type KafkaSink struct {
	publisher Publisher
	topic     string
}

func NewKafkaSink(publisher Publisher, topic string) *KafkaSink {
	return &KafkaSink{publisher: publisher, topic: topic}
}

func (k *KafkaSink) Deliver(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return k.publisher.Publish(ctx, producer.Message{
		Topic: k.topic,
		Key:   []byte(event.ReportID),
		Value: value,
		Headers: map[string]string{
			"action":     string(event.Action),
			"emitted_at": event.Timestamp.Format(time.RFC3339Nano),
		},
	})
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, event Event) {
	event = enrich(ctx, event)
	for _, e := range m {
		e.Emit(ctx, event)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
