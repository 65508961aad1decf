package events

import (
	"context"
	"sync"
)

// Board keeps the latest event of every variant. Runners write to it
// concurrently while the status server reads it.
type Board struct {
	mu     sync.RWMutex
	latest map[string]Event
	order  []string
}

func NewBoard() *Board {
	return &Board{latest: make(map[string]Event)}
}

func (b *Board) Publish(_ context.Context, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.latest[ev.Variant]; !ok {
		b.order = append(b.order, ev.Variant)
	}
	b.latest[ev.Variant] = ev
}

// Snapshot returns the latest event of each variant, in order of first
// appearance.
func (b *Board) Snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.latest[name])
	}
	return out
}

// Get returns the latest event of one variant.
func (b *Board) Get(variant string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.latest[variant]
	return ev, ok
}
