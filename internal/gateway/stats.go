package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

type counters struct {
	received         atomic.Int64
	duplicates       atomic.Int64
	dropped          atomic.Int64
	redirected       atomic.Int64
	proposals        atomic.Int64
	confirmations    atomic.Int64
	dispatched       atomic.Int64
	dispatchFailures atomic.Int64
	degraded         atomic.Int64

	mu        sync.Mutex
	lastError string
	lastAt    time.Time
}

func (c *counters) degrade(err error) {
	c.degraded.Add(1)
	if err != nil {
		c.setLastError(err.Error())
	}
}

func (c *counters) fail(err error) {
	if err != nil {
		c.setLastError(err.Error())
	}
}

func (c *counters) setLastError(s string) {
	c.mu.Lock()
	c.lastError = s
	c.lastAt = time.Now()
	c.mu.Unlock()
}

// Stats is a point-in-time snapshot of gateway counters.
type Stats struct {
	Received             int64     `json:"received"`
	Duplicates           int64     `json:"duplicates"`
	Dropped              int64     `json:"dropped"`
	Redirected           int64     `json:"redirected"`
	Proposals            int64     `json:"proposals"`
	Confirmations        int64     `json:"confirmations"`
	Dispatched           int64     `json:"dispatched"`
	DispatchFailures     int64     `json:"dispatch_failures"`
	Degraded             int64     `json:"degraded"`
	PendingConfirmations int       `json:"pending_confirmations"`
	DedupEntries         int       `json:"dedup_entries"`
	LastError            string    `json:"last_error,omitempty"`
	LastErrorAt          time.Time `json:"last_error_at,omitempty"`
}

func (g *Gateway) Stats() Stats {
	s := Stats{
		Received:             g.stats.received.Load(),
		Duplicates:           g.stats.duplicates.Load(),
		Dropped:              g.stats.dropped.Load(),
		Redirected:           g.stats.redirected.Load(),
		Proposals:            g.stats.proposals.Load(),
		Confirmations:        g.stats.confirmations.Load(),
		Dispatched:           g.stats.dispatched.Load(),
		DispatchFailures:     g.stats.dispatchFailures.Load(),
		Degraded:             g.stats.degraded.Load(),
		PendingConfirmations: g.confirmations.Len(),
		DedupEntries:         g.dedup.Len(),
	}
	g.stats.mu.Lock()
	s.LastError = g.stats.lastError
	s.LastErrorAt = g.stats.lastAt
	g.stats.mu.Unlock()
	return s
}
