package audit

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// SASL mechanisms accepted by KafkaAuth.
const (
	MechanismNone     = ""
	MechanismPlain    = "PLAIN"
	MechanismSCRAM256 = "SCRAM-SHA-256"
	MechanismSCRAM512 = "SCRAM-SHA-512"
)

// KafkaAuth holds broker credentials for the audit stream.
type KafkaAuth struct {
	Mechanism string
	Username  string
	Password  string
	TLS       bool
}

func saslMechanism(a KafkaAuth) (sasl.Mechanism, error) {
	switch strings.ToUpper(strings.TrimSpace(a.Mechanism)) {
	case MechanismNone:
		return nil, nil
	case MechanismPlain:
		return plain.Mechanism{Username: a.Username, Password: a.Password}, nil
	case MechanismSCRAM256:
		return scram.Mechanism(scram.SHA256, a.Username, a.Password)
	case MechanismSCRAM512:
		return scram.Mechanism(scram.SHA512, a.Username, a.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism: %s", a.Mechanism)
	}
}

// newTransport returns nil when neither TLS nor SASL is configured so the
// writer keeps kafka-go's default transport.
func newTransport(a KafkaAuth, timeout time.Duration) (*kafka.Transport, error) {
	mech, err := saslMechanism(a)
	if err != nil {
		return nil, err
	}
	if mech == nil && !a.TLS {
		return nil, nil
	}
	if mech != nil && strings.TrimSpace(a.Username) == "" {
		return nil, fmt.Errorf("sasl %s requires a username", a.Mechanism)
	}
	t := &kafka.Transport{
		DialTimeout: timeout,
		SASL:        mech,
	}
	if a.TLS {
		t.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return t, nil
}
