// Package events publishes variant state transitions while a run is in
// progress: to an in-memory board served over HTTP, and optionally to a
// remote socket.io dashboard.
package events

import (
	"context"
	"time"

	"github.com/vk/testprojbuilds/internal/model"
)

// Event is one state transition of one variant, or its final result.
type Event struct {
	RunID   string      `json:"run_id"`
	Variant string      `json:"variant"`
	State   string      `json:"state"`
	Phase   model.Phase `json:"phase,omitempty"`
	// Final is set on the last event of a variant; Success is meaningful
	// only then.
	Final   bool      `json:"final"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Publisher receives events. Publishing never fails the run, so there is no
// error to return; implementations log their own problems.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// Multi fans every event out to each publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) {
	for _, p := range m {
		p.Publish(ctx, ev)
	}
}

type stamped struct {
	runID string
	next  Publisher
	now   func() time.Time
}

// WithRunID stamps the run id, and the time when unset, on every event.
func WithRunID(runID string, next Publisher) Publisher {
	return &stamped{runID: runID, next: next, now: time.Now}
}

func (s *stamped) Publish(ctx context.Context, ev Event) {
	ev.RunID = s.runID
	if ev.Time.IsZero() {
		ev.Time = s.now().UTC()
	}
	s.next.Publish(ctx, ev)
}
