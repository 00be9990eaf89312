// Package event turns editor observations into tracking calls. Sources
// produce events; the Dispatcher throttles them and feeds the tracker.
package event

import (
	"context"
	"time"

	"github.com/fakeyudi/pulse/internal/pulse"
)

// Kind names an editor observation.
type Kind string

const (
	EditorChanged    Kind = "editor-changed"
	TextChanged      Kind = "text-changed"
	SelectionChanged Kind = "selection-changed"
	DebugStarted     Kind = "debug-started"
	DebugEnded       Kind = "debug-ended"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case EditorChanged, TextChanged, SelectionChanged, DebugStarted, DebugEnded:
		return true
	}
	return false
}

// Event is one observation. Snapshot may be nil for debug transitions that
// happen without an open editor.
type Event struct {
	Kind     Kind            `json:"kind"`
	Snapshot *pulse.Snapshot `json:"snapshot,omitempty"`
	Time     time.Time       `json:"-"`
}

// Source emits events on out until ctx is done or its input ends.
type Source interface {
	Run(ctx context.Context, out chan<- Event) error
}

func send(ctx context.Context, out chan<- Event, ev Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
