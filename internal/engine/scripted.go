// ABOUTME: In-memory engine driven by a script function
// ABOUTME: Backs tests and the echo mode used for local development without a graph server

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is what a script decides for one turn: the state updates to apply
// in order, each producing one snapshot, and the nodes pending afterwards.
// A non-nil Err is delivered after the updates.
type Step struct {
	Updates []map[string]any
	Next    []string
	Err     error
}

// Script computes the next turn from the thread's state after the turn's
// input (or reply) has been merged.
type Script func(threadID string, state map[string]any) Step

// ScriptedEngine keeps thread state in memory and lets a Script play the graph.
type ScriptedEngine struct {
	mu      sync.Mutex
	script  Script
	threads map[string]*scriptedThread

	// Delay is slept before each snapshot is delivered
	Delay time.Duration
}

type scriptedThread struct {
	values map[string]any
	next   []string
}

// NewScriptedEngine creates an engine that runs script on every turn
func NewScriptedEngine(script Script) *ScriptedEngine {
	return &ScriptedEngine{
		script:  script,
		threads: make(map[string]*scriptedThread),
	}
}

// Stream merges input into the thread, runs the script and streams a
// snapshot per update. A nil input resumes an existing thread.
func (e *ScriptedEngine) Stream(ctx context.Context, cfg Config, input map[string]any) (<-chan Result, error) {
	e.mu.Lock()
	th, ok := e.threads[cfg.ThreadID]
	if !ok {
		if input == nil {
			e.mu.Unlock()
			return nil, ErrThreadNotFound
		}
		th = &scriptedThread{values: make(map[string]any)}
		e.threads[cfg.ThreadID] = th
	}
	mergeValues(th.values, input)
	step := e.script(cfg.ThreadID, cloneValues(th.values))
	e.mu.Unlock()

	results := make(chan Result)
	go func() {
		defer close(results)

		send := func(r Result) bool {
			select {
			case results <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		// the input itself is the first visible state, as with a real graph
		if input != nil {
			if !e.emit(ctx, cfg.ThreadID, nil, send) {
				return
			}
		}

		for _, update := range step.Updates {
			if !e.emit(ctx, cfg.ThreadID, update, send) {
				return
			}
		}

		e.mu.Lock()
		th.next = append([]string(nil), step.Next...)
		e.mu.Unlock()

		if step.Err != nil {
			send(Result{Err: step.Err})
		}
	}()

	return results, nil
}

// emit applies update and sends the resulting snapshot; false stops the turn
func (e *ScriptedEngine) emit(ctx context.Context, threadID string, update map[string]any, send func(Result) bool) bool {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return false
		}
	}

	e.mu.Lock()
	th := e.threads[threadID]
	mergeValues(th.values, update)
	values := cloneValues(th.values)
	e.mu.Unlock()

	snap, err := SnapshotFromValues(values)
	if err != nil {
		send(Result{Err: err})
		return false
	}
	return send(Result{Snapshot: snap})
}

// State returns the thread's values and pending nodes
func (e *ScriptedEngine) State(ctx context.Context, cfg Config) (*State, error) {
	e.mu.Lock()
	th, ok := e.threads[cfg.ThreadID]
	if !ok {
		e.mu.Unlock()
		return nil, ErrThreadNotFound
	}
	values := cloneValues(th.values)
	next := append([]string(nil), th.next...)
	e.mu.Unlock()

	snap, err := SnapshotFromValues(values)
	if err != nil {
		return nil, err
	}
	return &State{Values: snap, Next: next}, nil
}

// UpdateState merges values into the thread
func (e *ScriptedEngine) UpdateState(ctx context.Context, cfg Config, values map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	th, ok := e.threads[cfg.ThreadID]
	if !ok {
		return ErrThreadNotFound
	}
	mergeValues(th.values, values)
	return nil
}

// mergeValues appends to message lists and replaces every other key.
// Messages without an id get one, as the graph's message reducer does.
func mergeValues(dst, update map[string]any) {
	for k, v := range update {
		if !IsMessageKey(k) {
			dst[k] = v
			continue
		}
		incoming, _ := v.([]any)
		for _, m := range incoming {
			if mm, ok := m.(map[string]any); ok {
				if id, _ := mm["id"].(string); id == "" {
					cp := make(map[string]any, len(mm)+1)
					for mk, mv := range mm {
						cp[mk] = mv
					}
					cp["id"] = uuid.New().String()
					m = cp
				}
			}
			existing, _ := dst[k].([]any)
			dst[k] = append(existing, m)
		}
		if _, ok := dst[k]; !ok {
			dst[k] = []any{}
		}
	}
}

func cloneValues(v map[string]any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// AIMessage builds an AI chat message with optional tool calls.
func AIMessage(text string, calls ...ToolCall) map[string]any {
	m := map[string]any{"type": MessageAI, "content": text}
	if len(calls) > 0 {
		list := make([]any, 0, len(calls))
		for _, c := range calls {
			list = append(list, map[string]any{"id": c.ID, "name": c.Name, "args": c.Args})
		}
		m["tool_calls"] = list
	}
	return m
}

// EchoScript is a two-step consultation for local development: it asks one
// follow-up question through the GP ask node and then concludes.
func EchoScript(threadID string, state map[string]any) Step {
	snap, err := SnapshotFromValues(state)
	if err != nil {
		return Step{Err: err}
	}

	msgs := snap.Messages(KeyMessages)
	if len(msgs) == 0 {
		return Step{}
	}
	last := msgs[len(msgs)-1]

	if last.Type == MessageHuman && len(msgs) == 1 {
		callID := "call_" + uuid.New().String()[:8]
		question := fmt.Sprintf("You said %q. How long have you had these symptoms?", last.Text())
		return Step{
			Updates: []map[string]any{
				{KeyCurrentAgent: "GP"},
				{KeyMessages: []any{AIMessage("", ToolCall{
					ID:   callID,
					Name: "ask_user",
					Args: map[string]any{"question": question},
				})}},
			},
			Next: []string{"GP_AskUser"},
		}
	}

	reply := strings.TrimSpace(last.Text())
	return Step{
		Updates: []map[string]any{
			{KeyMessages: []any{AIMessage(fmt.Sprintf("**Summary**\n\nNoted: %s. Rest, stay hydrated and see a doctor if it gets worse.", reply))}},
		},
	}
}

// NewEchoEngine returns a ScriptedEngine running EchoScript
func NewEchoEngine() *ScriptedEngine {
	return NewScriptedEngine(EchoScript)
}
