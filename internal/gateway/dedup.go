package gateway

import (
	"sync"

	"github.com/actiongate/actiongate/internal/bus"
)

// Deduplicator remembers recently seen events in insertion order.
// When the set grows past capacity the oldest evictBatch entries are dropped in one pass.
type Deduplicator struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	order      []string
	capacity   int
	evictBatch int
}

func NewDeduplicator(capacity, evictBatch int) *Deduplicator {
	if capacity <= 0 {
		capacity = 1000
	}
	if evictBatch <= 0 || evictBatch > capacity {
		evictBatch = capacity / 2
	}
	if evictBatch == 0 {
		evictBatch = 1
	}
	return &Deduplicator{
		seen:       make(map[string]struct{}, capacity+1),
		order:      make([]string, 0, capacity+1),
		capacity:   capacity,
		evictBatch: evictBatch,
	}
}

// Fingerprint identifies a platform event independent of delivery attempt.
func Fingerprint(ev *bus.InboundEvent) string {
	return ev.TS + "|" + ev.UserID + "|" + ev.ChannelID + "|" + ev.Type
}

// ShouldProcess marks ev as seen and reports whether this is the first sighting.
// Events are marked before any downstream work so a concurrent duplicate loses.
func (d *Deduplicator) ShouldProcess(ev *bus.InboundEvent) bool {
	keys := []string{Fingerprint(ev)}
	if ev.EventID != "" {
		keys = append(keys, "id:"+ev.EventID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		if _, ok := d.seen[k]; ok {
			return false
		}
	}
	for _, k := range keys {
		d.seen[k] = struct{}{}
		d.order = append(d.order, k)
	}
	if len(d.order) > d.capacity {
		d.evict()
	}
	return true
}

func (d *Deduplicator) evict() {
	n := d.evictBatch
	if n > len(d.order) {
		n = len(d.order)
	}
	for _, k := range d.order[:n] {
		delete(d.seen, k)
	}
	rest := make([]string, len(d.order)-n, d.capacity+1)
	copy(rest, d.order[n:])
	d.order = rest
}

// Len returns the number of remembered keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}
