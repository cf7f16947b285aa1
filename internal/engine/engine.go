// ABOUTME: Engine interface for the external multi-agent consultation graph
// ABOUTME: Defines the per-thread config, stream results and paused-state view

package engine

import (
	"context"
	"errors"
)

// ErrThreadNotFound is returned when the engine has no state for a thread
var ErrThreadNotFound = errors.New("thread not found")

// Config addresses one engine thread.
type Config struct {
	ThreadID string
}

// Result is one item of a turn's snapshot stream. Exactly one of Snapshot
// or Err is set. The producer closes the channel after the last snapshot or
// after delivering an error.
type Result struct {
	Snapshot *Snapshot
	Err      error
}

// State is the engine's view of a thread between turns.
type State struct {
	Values *Snapshot
	Next   []string // nodes the graph will run next; empty when finished
}

// Engine runs consultation turns on the graph.
type Engine interface {
	// Stream runs the graph on the thread and delivers a full state
	// snapshot after every step. A nil input resumes a paused thread.
	Stream(ctx context.Context, cfg Config, input map[string]any) (<-chan Result, error)

	// State returns the thread's current values and pending nodes.
	State(ctx context.Context, cfg Config) (*State, error)

	// UpdateState merges values into the thread's state.
	UpdateState(ctx context.Context, cfg Config, values map[string]any) error
}
