package audit

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/actiongate/actiongate/internal/timeline"
)

type fakeWriter struct {
	errs   []error
	msgs   []kafka.Message
	calls  int
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func sampleEvent() Event {
	return Event{
		TraceID:    "tr-1",
		TeamID:     "T1",
		UserID:     "U1",
		ChannelID:  "D1",
		Operation:  "send_email",
		Success:    true,
		DurationMS: 42,
		Timestamp:  time.Unix(1_700_000_000, 0),
	}
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	fw := &fakeWriter{}
	p := newKafkaPublisher(fw, "actiongate.actions")

	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "tr-1" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var got Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Operation != "send_email" || !got.Success || got.DurationMS != 42 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestKafkaPublisherRetriesLeaderErrors(t *testing.T) {
	fw := &fakeWriter{errs: []error{kafka.LeaderNotAvailable, nil}}
	p := newKafkaPublisher(fw, "topic")
	p.backoff = time.Millisecond

	if err := p.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if fw.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", fw.calls)
	}
}

func TestKafkaPublisherGivesUpOnOtherErrors(t *testing.T) {
	boom := errors.New("broker gone")
	fw := &fakeWriter{errs: []error{boom, nil}}
	p := newKafkaPublisher(fw, "topic")
	p.backoff = time.Millisecond

	err := p.Publish(context.Background(), sampleEvent())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
	if fw.calls != 1 {
		t.Fatalf("expected no retry, got %d calls", fw.calls)
	}
	_ = p.Close()
	if !fw.closed {
		t.Fatalf("writer not closed")
	}
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "t", KafkaAuth{}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, "", KafkaAuth{}); err == nil {
		t.Fatalf("expected error without topic")
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, Event) error { return f.err }
func (f failing) Close() error                         { return nil }

func TestMultiTriesEverySink(t *testing.T) {
	svc, err := timeline.NewTimelineService(filepath.Join(t.TempDir(), "a.db"), nil)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	defer svc.Close()

	boom := errors.New("kafka down")
	m := Multi{failing{boom}, TimelineSink{Store: svc}, Nop{}}
	if err := m.Publish(context.Background(), sampleEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}

	rows, err := svc.ListAudit(context.Background(), timeline.AuditFilter{TraceID: "tr-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].Duration != 42*time.Millisecond {
		t.Fatalf("timeline sink not written after earlier failure: %+v", rows)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
