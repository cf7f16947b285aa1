// ABOUTME: Paused-thread handling: detects ask-user nodes and injects the patient's reply
// ABOUTME: Finds the unanswered tool call so the reply lands as its tool result

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/consult-gateway/internal/engine"
)

// ErrNotAwaitingReply is returned when a thread has no pending ask-user node
var ErrNotAwaitingReply = errors.New("thread is not awaiting a reply")

// askNodes maps each ask-user node to the message list its agent talks on.
var askNodes = map[string]string{
	"GP_AskUser":      engine.KeyMessages,
	"Ophthal_AskUser": engine.KeySpecialistMessages,
	"Pedia_AskUser":   engine.KeySpecialistMessages,
	"Ortho_AskUser":   engine.KeySpecialistMessages,
	"Dermat_AskUser":  engine.KeySpecialistMessages,
	"ENT_AskUser":     engine.KeySpecialistMessages,
	"Gynec_AskUser":   engine.KeySpecialistMessages,
	"Psych_AskUser":   engine.KeySpecialistMessages,
	"IntMed_AskUser":  engine.KeySpecialistMessages,
	"Patho_AskUser":   engine.KeyPathoMessages,
	"Radio_AskUser":   engine.KeyRadioMessages,
}

// IsAskNode reports whether the graph pauses for the patient at node.
func IsAskNode(node string) bool {
	_, ok := askNodes[node]
	return ok
}

// firstAskNode returns the first ask-user node in next.
func firstAskNode(next []string) (string, bool) {
	for _, n := range next {
		if IsAskNode(n) {
			return n, true
		}
	}
	return "", false
}

// Ask describes a thread paused for the patient.
type Ask struct {
	Node         string
	Key          string // message list the reply is appended to
	ToolCallID   string // empty when the agent asked in plain text
	Question     string
	CurrentAgent string

	// Snapshot is the state the patient has already seen.
	Snapshot *engine.Snapshot
}

// resolveAsk builds the Ask for a paused state, or false if nothing is pending.
func resolveAsk(state *engine.State, agent string) (*Ask, bool) {
	node, ok := firstAskNode(state.Next)
	if !ok {
		return nil, false
	}

	snap := state.Values
	if snap != nil && snap.CurrentAgent != "" {
		agent = snap.CurrentAgent
	}

	ask := &Ask{
		Node:         node,
		Key:          askNodes[node],
		CurrentAgent: agent,
		Snapshot:     snap,
	}

	// the node's own list first, then any list with an open call
	keys := append([]string{ask.Key}, engine.MessageKeys...)
	for _, key := range keys {
		if call, found := pendingToolCall(snap.Messages(key)); found {
			ask.Key = key
			ask.ToolCallID = call.ID
			if q, _ := call.Args["question"].(string); strings.TrimSpace(q) != "" {
				ask.Question = q
			}
			break
		}
	}

	if ask.Question == "" {
		ask.Question = lastAIText(snap.Messages(ask.Key))
	}
	if ask.Question == "" {
		ask.Question = snap.LastAIText()
	}
	return ask, true
}

// pendingToolCall returns the latest tool call that has no tool result.
func pendingToolCall(msgs []engine.Message) (engine.ToolCall, bool) {
	answered := make(map[string]struct{})
	for _, m := range msgs {
		if m.IsTool() && m.ToolCallID != "" {
			answered[m.ToolCallID] = struct{}{}
		}
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsAI() {
			continue
		}
		calls := msgs[i].ToolCalls
		for j := len(calls) - 1; j >= 0; j-- {
			if calls[j].ID == "" {
				continue
			}
			if _, done := answered[calls[j].ID]; !done {
				return calls[j], true
			}
		}
	}
	return engine.ToolCall{}, false
}

func lastAIText(msgs []engine.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].IsAI() && strings.TrimSpace(msgs[i].Text()) != "" {
			return msgs[i].Text()
		}
	}
	return ""
}

// PendingAsk reads the thread state and returns what the engine is waiting
// on. It returns ErrNotAwaitingReply when no ask-user node is pending.
func (b *Bridge) PendingAsk(ctx context.Context, cfg engine.Config) (*Ask, error) {
	state, err := b.engine.State(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("reading thread state: %w", err)
	}

	ask, ok := resolveAsk(state, b.initialAgent)
	if !ok {
		return nil, ErrNotAwaitingReply
	}
	return ask, nil
}

// InjectReply adds the patient's reply to the paused thread: as the result
// of the pending tool call when there is one, otherwise as a human message.
func (b *Bridge) InjectReply(ctx context.Context, cfg engine.Config, ask *Ask, reply string) error {
	msg := engine.HumanMessage(reply)
	if ask.ToolCallID != "" {
		msg = engine.ToolMessage(reply, ask.ToolCallID)
	}

	if err := b.engine.UpdateState(ctx, cfg, map[string]any{ask.Key: []any{msg}}); err != nil {
		return fmt.Errorf("injecting reply: %w", err)
	}

	b.logger.Debug("reply injected",
		"thread_id", cfg.ThreadID,
		"node", ask.Node,
		"key", ask.Key,
		"tool_call_id", ask.ToolCallID,
	)
	return nil
}
