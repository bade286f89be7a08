// Package tracking composes attribution-enriched analytics events and
// forwards them to an external sink.
package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"consentd/internal/platform/kafka/producer"
)

// Sink is the external analytics boundary. Its internals (batching,
// delivery) are out of scope here; this service only calls it.
type Sink interface {
	TrackEvent(ctx context.Context, name string, props map[string]any) error
	TrackConversion(ctx context.Context, conversionType, destination string, props map[string]any) error
	TrackPageView(ctx context.Context, path, title string) error
}

// envelope is the wire form published to the analytics topic.
type envelope struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Name      string         `json:"name,omitempty"`
	Timestamp string         `json:"ts"`
	Props     map[string]any `json:"props,omitempty"`
}

// KafkaSink publishes analytics events to a Kafka topic. Delivery is async;
// failed deliveries are logged by the producer, never surfaced to the
// caller's UI path.
type KafkaSink struct {
	producer *producer.Producer
	topic    string
}

// NewKafkaSink constructs a sink over an existing producer.
func NewKafkaSink(p *producer.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic}
}

func (s *KafkaSink) TrackEvent(_ context.Context, name string, props map[string]any) error {
	return s.publish(envelope{Type: "event", Name: name, Props: props})
}

func (s *KafkaSink) TrackConversion(_ context.Context, conversionType, destination string, props map[string]any) error {
	merged := make(map[string]any, len(props)+1)
	for k, v := range props {
		merged[k] = v
	}
	merged["destination"] = destination
	return s.publish(envelope{Type: "conversion", Name: conversionType, Props: merged})
}

func (s *KafkaSink) TrackPageView(_ context.Context, path, title string) error {
	return s.publish(envelope{Type: "pageview", Props: map[string]any{
		"path":  path,
		"title": title,
	}})
}

func (s *KafkaSink) publish(e envelope) error {
	e.EventID = uuid.New().String()
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode analytics event: %w", err)
	}
	return s.producer.ProduceAsync(&producer.Message{
		Topic: s.topic,
		Key:   []byte(e.EventID),
		Value: value,
	})
}

// LogSink writes events to the structured log. The fallback when Kafka is
// not configured, and useful in development.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) TrackEvent(ctx context.Context, name string, props map[string]any) error {
	s.logger.InfoContext(ctx, "analytics event", "name", name, "props", props)
	return nil
}

func (s *LogSink) TrackConversion(ctx context.Context, conversionType, destination string, props map[string]any) error {
	s.logger.InfoContext(ctx, "analytics conversion",
		"type", conversionType,
		"destination", destination,
		"props", props,
	)
	return nil
}

func (s *LogSink) TrackPageView(ctx context.Context, path, title string) error {
	s.logger.InfoContext(ctx, "analytics pageview", "path", path, "title", title)
	return nil
}

// RecordedEvent is one call captured by MemorySink.
type RecordedEvent struct {
	Kind        string // "event", "conversion", "pageview"
	Name        string
	Destination string
	Props       map[string]any
}

// MemorySink records sink calls for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []RecordedEvent

	// Err, when set, is returned from every call.
	Err error
}

// NewMemorySink constructs an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) TrackEvent(_ context.Context, name string, props map[string]any) error {
	return s.record(RecordedEvent{Kind: "event", Name: name, Props: props})
}

func (s *MemorySink) TrackConversion(_ context.Context, conversionType, destination string, props map[string]any) error {
	return s.record(RecordedEvent{Kind: "conversion", Name: conversionType, Destination: destination, Props: props})
}

func (s *MemorySink) TrackPageView(_ context.Context, path, title string) error {
	return s.record(RecordedEvent{Kind: "pageview", Props: map[string]any{"path": path, "title": title}})
}

func (s *MemorySink) record(e RecordedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, e)
	return nil
}

// Events returns a snapshot of recorded calls.
func (s *MemorySink) Events() []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordedEvent, len(s.events))
	copy(out, s.events)
	return out
}
