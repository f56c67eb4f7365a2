// Package audit mirrors question/answer exchanges to a Kafka topic for
// offline review. The mirror is best effort: a broker outage never blocks
// or fails the reply path.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/BrickRelay/BrickRelay/internal/relay"
)

// Recorder publishes exchange envelopes to Kafka, keyed by thread so a
// thread's history lands on one partition in order.
type Recorder struct {
	writer *kafka.Writer
}

// NewRecorder creates a Kafka-backed exchange recorder.
func NewRecorder(brokers []string, topic string) *Recorder {
	return &Recorder{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					slog.Warn("audit publish failed", "count", len(messages), "error", err)
				}
			},
		},
	}
}

// Record serializes the exchange and hands it to the async writer.
func (r *Recorder) Record(ctx context.Context, ex relay.Exchange) {
	payload, err := json.Marshal(ex)
	if err != nil {
		slog.Warn("audit marshal failed", "event_id", ex.EventID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(ex.ThreadID),
		Value: payload,
	}); err != nil {
		slog.Warn("audit publish failed", "event_id", ex.EventID, "error", err)
	}
}

// Close flushes buffered messages and releases the writer.
func (r *Recorder) Close() error {
	return r.writer.Close()
}
