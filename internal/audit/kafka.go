package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes audit events as JSON to a Kafka topic, keyed by trace id.
type KafkaPublisher struct {
	w            messageWriter
	topic        string
	writeTimeout time.Duration
	maxRetries   int
	backoff      time.Duration
}

// NewKafkaPublisher creates a synchronous writer for topic.
func NewKafkaPublisher(brokers []string, topic string, auth KafkaAuth) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka audit: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka audit: topic is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	transport, err := newTransport(auth, 8*time.Second)
	if err != nil {
		return nil, fmt.Errorf("kafka audit: %w", err)
	}
	if transport != nil {
		w.Transport = transport
	}
	return newKafkaPublisher(w, topic), nil
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		w:            w,
		topic:        topic,
		writeTimeout: 10 * time.Second,
		maxRetries:   3,
		backoff:      500 * time.Millisecond,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.TraceID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("action")},
			{Key: "operation", Value: []byte(ev.Operation)},
		},
		Time: ev.Timestamp,
	}

	var writeErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * p.backoff):
			}
		}
		writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		writeErr = p.w.WriteMessages(writeCtx, msg)
		cancel()
		if writeErr == nil {
			return nil
		}
		if errors.Is(writeErr, kafka.NotLeaderForPartition) || errors.Is(writeErr, kafka.LeaderNotAvailable) {
			slog.Debug("audit produce retry", "topic", p.topic, "attempt", attempt+1, "error", writeErr)
			continue
		}
		break
	}
	return fmt.Errorf("kafka audit produce to %s: %w", p.topic, writeErr)
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
