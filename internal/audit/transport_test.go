package audit

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go/sasl/plain"
)

func TestNewTransport(t *testing.T) {
	tr, err := newTransport(KafkaAuth{}, time.Second)
	if err != nil || tr != nil {
		t.Fatalf("expected default transport, got %v %v", tr, err)
	}

	tr, err = newTransport(KafkaAuth{TLS: true}, time.Second)
	if err != nil || tr == nil || tr.TLS == nil || tr.SASL != nil {
		t.Fatalf("expected tls-only transport, got %+v %v", tr, err)
	}

	tr, err = newTransport(KafkaAuth{Mechanism: "plain", Username: "u", Password: "p"}, time.Second)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	if m, ok := tr.SASL.(plain.Mechanism); !ok || m.Username != "u" {
		t.Fatalf("unexpected mechanism %#v", tr.SASL)
	}

	for _, mech := range []string{MechanismSCRAM256, MechanismSCRAM512} {
		tr, err = newTransport(KafkaAuth{Mechanism: mech, Username: "u", Password: "p", TLS: true}, time.Second)
		if err != nil || tr.SASL == nil || tr.SASL.Name() != mech {
			t.Fatalf("%s: got %+v %v", mech, tr, err)
		}
	}
}

func TestNewTransportRejectsBadAuth(t *testing.T) {
	if _, err := newTransport(KafkaAuth{Mechanism: "GSSAPI"}, time.Second); err == nil {
		t.Fatal("expected unsupported mechanism error")
	}
	if _, err := newTransport(KafkaAuth{Mechanism: MechanismPlain}, time.Second); err == nil {
		t.Fatal("expected missing username error")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, "t", KafkaAuth{Mechanism: "bogus"}); err == nil {
		t.Fatal("expected publisher to surface auth error")
	}
}
