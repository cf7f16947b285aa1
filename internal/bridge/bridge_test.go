// ABOUTME: Tests for the stream bridge against scripted engines
// ABOUTME: Covers event ordering, tool dedupe, speakers, terminal resolution, errors and resume

package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/consult-gateway/internal/engine"
)

// collect reads events until the channel closes.
func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for bridge events")
			return nil
		}
	}
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func countType(events []Event, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// stepsScript plays steps in order, one per turn.
func stepsScript(steps ...engine.Step) engine.Script {
	turn := 0
	return func(threadID string, state map[string]any) engine.Step {
		if turn >= len(steps) {
			return engine.Step{}
		}
		s := steps[turn]
		turn++
		return s
	}
}

func startTurn(threadID string) Turn {
	return Turn{
		Config: engine.Config{ThreadID: threadID},
		Input:  engine.InitialInput("I have a headache", 1, "GP"),
	}
}

func TestRun_EchoAskThenResumeToFinal(t *testing.T) {
	eng := engine.NewEchoEngine()
	b := New(eng, Options{})
	ctx := context.Background()
	cfg := engine.Config{ThreadID: "th-echo"}

	events := collect(t, b.Run(ctx, startTurn("th-echo")))
	require.NotEmpty(t, events)

	assert.Equal(t, EventThread, events[0].Type)
	assert.Equal(t, ThreadData{ThreadID: "th-echo"}, events[0].Data)

	last := events[len(events)-1]
	require.Equal(t, EventAskUser, last.Type)
	ask := last.Data.(AskUserData)
	assert.Contains(t, ask.Question, "How long")
	assert.Equal(t, "GP", ask.CurrentAgent)
	assert.Equal(t, "GP", ask.Speaker)
	assert.Equal(t, 0, countType(events, EventFinal))
	assert.Equal(t, 1, countType(events, EventTool))

	pending, err := b.PendingAsk(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "GP_AskUser", pending.Node)
	assert.Equal(t, engine.KeyMessages, pending.Key)
	assert.NotEmpty(t, pending.ToolCallID)

	require.NoError(t, b.InjectReply(ctx, cfg, pending, "two days"))

	events = collect(t, b.Run(ctx, Turn{Config: cfg, Prior: pending.Snapshot}))
	assert.Equal(t, []string{EventThread, EventMessage, EventFinal}, eventTypes(events))

	final := events[len(events)-1].Data.(FinalData)
	assert.Contains(t, final.Message, "two days")
	assert.Equal(t, "GP", final.CurrentAgent)
	assert.Empty(t, final.HTML)

	_, err = b.PendingAsk(ctx, cfg)
	assert.ErrorIs(t, err, ErrNotAwaitingReply)
}

func TestRun_ToolCallsEmittedOnce(t *testing.T) {
	call := func(id string) engine.ToolCall {
		return engine.ToolCall{ID: id, Name: "lookup", Args: map[string]any{"q": id}}
	}
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyMessages: []any{engine.AIMessage("", call("t1"))}},
			{engine.KeyMessages: []any{engine.AIMessage("", call("t2"))}},
			{engine.KeyMessages: []any{engine.AIMessage("", call("t1"))}},
			{engine.KeyMessages: []any{engine.AIMessage("", call("t3"))}},
		},
	}))
	b := New(eng, Options{})

	events := collect(t, b.Run(context.Background(), startTurn("th-tools")))

	var ids []string
	for _, ev := range events {
		if ev.Type == EventTool {
			data := ev.Data.(ToolData)
			ids = append(ids, data.ID)
			assert.Equal(t, "th-tools", data.ThreadID)
			assert.Equal(t, "lookup", data.Name)
		}
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids)
	assert.Equal(t, EventFinal, events[len(events)-1].Type)
}

func TestRun_MessageSpeakersAndAgentBackfill(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyMessages: []any{engine.AIMessage("Let me check with a specialist.")}},
			{engine.KeyCurrentAgent: "ENT"},
			{engine.KeySpecialistMessages: []any{engine.AIMessage("Any ear pain?")}},
			{engine.KeyPathoMessages: []any{engine.AIMessage("CBC ordered.")}},
			{engine.KeyRadioMessages: []any{engine.AIMessage("No imaging needed.")}},
		},
	}))
	b := New(eng, Options{})

	events := collect(t, b.Run(context.Background(), startTurn("th-speakers")))

	var msgs []MessageData
	for _, ev := range events {
		if ev.Type == EventMessage {
			msgs = append(msgs, ev.Data.(MessageData))
		}
	}
	require.Len(t, msgs, 4)

	assert.Equal(t, "Let me check with a specialist.", msgs[0].Content)
	assert.Equal(t, "GP", msgs[0].Speaker)
	assert.Equal(t, "GP", msgs[0].CurrentAgent)

	assert.Equal(t, "ENT", msgs[1].Speaker)
	assert.Equal(t, "ENT", msgs[1].CurrentAgent)

	assert.Equal(t, SpeakerPathology, msgs[2].Speaker)
	assert.Equal(t, "ENT", msgs[2].CurrentAgent)

	assert.Equal(t, SpeakerRadiology, msgs[3].Speaker)

	final := events[len(events)-1]
	require.Equal(t, EventFinal, final.Type)
	assert.Equal(t, "Let me check with a specialist.", final.Data.(FinalData).Message, "messages list wins over specialist_messages")
	assert.Equal(t, "ENT", final.Data.(FinalData).CurrentAgent)
}

func TestRun_ExactlyOneTerminalEvent(t *testing.T) {
	tests := []struct {
		name     string
		next     []string
		terminal string
	}{
		{"ask node pending", []string{"Patho_AskUser"}, EventAskUser},
		{"ask node among others", []string{"Summarize", "Dermat_AskUser"}, EventAskUser},
		{"non-ask node pending", []string{"Summarize"}, EventFinal},
		{"finished", nil, EventFinal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := engine.NewScriptedEngine(stepsScript(engine.Step{
				Updates: []map[string]any{
					{engine.KeyMessages: []any{engine.AIMessage("Thinking about it.")}},
				},
				Next: tt.next,
			}))
			b := New(eng, Options{})

			events := collect(t, b.Run(context.Background(), startTurn("th-term")))

			other := EventFinal
			if tt.terminal == EventFinal {
				other = EventAskUser
			}
			assert.Equal(t, 1, countType(events, tt.terminal))
			assert.Equal(t, 0, countType(events, other))
			assert.Equal(t, tt.terminal, events[len(events)-1].Type)
		})
	}
}

func TestRun_PathologyAskUsesFixedSpeaker(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyPathoMessages: []any{engine.AIMessage("", engine.ToolCall{
				ID:   "call-p",
				Name: "ask_user",
				Args: map[string]any{"question": "Are you fasting?"},
			})}},
		},
		Next: []string{"Patho_AskUser"},
	}))
	b := New(eng, Options{})

	events := collect(t, b.Run(context.Background(), startTurn("th-patho")))

	last := events[len(events)-1]
	require.Equal(t, EventAskUser, last.Type)
	ask := last.Data.(AskUserData)
	assert.Equal(t, "Are you fasting?", ask.Question)
	assert.Equal(t, SpeakerPathology, ask.Speaker)
}

func TestRun_EngineErrorMidTurn(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyMessages: []any{engine.AIMessage("Starting triage.")}},
		},
		Err: errors.New("graph node crashed"),
	}))
	b := New(eng, Options{})

	events := collect(t, b.Run(context.Background(), startTurn("th-err")))

	assert.Equal(t, []string{EventThread, EventMessage, EventError}, eventTypes(events))
	data := events[2].Data.(ErrorData)
	assert.Equal(t, "th-err", data.ThreadID)
	assert.Contains(t, data.Error, "graph node crashed")
}

func TestRun_StreamStartFails(t *testing.T) {
	b := New(engine.NewEchoEngine(), Options{})

	events := collect(t, b.Run(context.Background(), Turn{Config: engine.Config{ThreadID: "missing"}}))

	assert.Equal(t, []string{EventThread, EventError}, eventTypes(events))
	assert.Contains(t, events[1].Data.(ErrorData).Error, engine.ErrThreadNotFound.Error())
}

type stateFailingEngine struct {
	*engine.ScriptedEngine
}

func (e stateFailingEngine) State(ctx context.Context, cfg engine.Config) (*engine.State, error) {
	return nil, errors.New("state unavailable")
}

func TestRun_StateQueryFails(t *testing.T) {
	eng := stateFailingEngine{engine.NewScriptedEngine(stepsScript(engine.Step{}))}
	b := New(eng, Options{})

	events := collect(t, b.Run(context.Background(), startTurn("th-state")))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Data.(ErrorData).Error, "state unavailable")
	assert.Equal(t, 0, countType(events, EventFinal))
	assert.Equal(t, 0, countType(events, EventAskUser))
}

func TestRun_TurnTimeout(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyMessages: []any{engine.AIMessage("slow")}},
		},
	}))
	eng.Delay = 500 * time.Millisecond
	b := New(eng, Options{TurnTimeout: 30 * time.Millisecond})

	events := collect(t, b.Run(context.Background(), startTurn("th-slow")))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Type)
	assert.Equal(t, "engine turn timed out", last.Data.(ErrorData).Error)
}

func TestRun_CanceledContextStopsQuietly(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyMessages: []any{engine.AIMessage("one")}},
			{engine.KeyMessages: []any{engine.AIMessage("two")}},
		},
	}))
	eng.Delay = 50 * time.Millisecond
	b := New(eng, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Run(ctx, startTurn("th-cancel"))

	first := <-ch
	assert.Equal(t, EventThread, first.Type)
	cancel()

	for _, ev := range collect(t, ch) {
		assert.False(t, ev.Terminal(), "no terminal event after cancel, got %s", ev.Type)
	}
}

func TestRun_RendersMarkdown(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyMessages: []any{engine.AIMessage("**Summary**\n\n- rest")}},
		},
	}))
	b := New(eng, Options{Renderer: NewMarkdownRenderer()})

	events := collect(t, b.Run(context.Background(), startTurn("th-md")))

	var msg MessageData
	for _, ev := range events {
		if ev.Type == EventMessage {
			msg = ev.Data.(MessageData)
		}
	}
	assert.Contains(t, msg.HTML, "<strong>Summary</strong>")
	assert.Contains(t, msg.HTML, "<li>rest</li>")

	final := events[len(events)-1].Data.(FinalData)
	assert.Contains(t, final.HTML, "<strong>Summary</strong>")
}

func TestInjectReply_PlainTextAsk(t *testing.T) {
	eng := engine.NewScriptedEngine(stepsScript(engine.Step{
		Updates: []map[string]any{
			{engine.KeyCurrentAgent: "ENT"},
			{engine.KeySpecialistMessages: []any{engine.AIMessage("How old are you?")}},
		},
		Next: []string{"ENT_AskUser"},
	}))
	b := New(eng, Options{})
	ctx := context.Background()
	cfg := engine.Config{ThreadID: "th-plain"}

	collect(t, b.Run(ctx, startTurn("th-plain")))

	ask, err := b.PendingAsk(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, engine.KeySpecialistMessages, ask.Key)
	assert.Empty(t, ask.ToolCallID)
	assert.Equal(t, "How old are you?", ask.Question)
	assert.Equal(t, "ENT", ask.CurrentAgent)

	require.NoError(t, b.InjectReply(ctx, cfg, ask, "42"))

	state, err := eng.State(ctx, cfg)
	require.NoError(t, err)
	msgs := state.Values.Messages(engine.KeySpecialistMessages)
	lastMsg := msgs[len(msgs)-1]
	assert.Equal(t, engine.MessageHuman, lastMsg.Type)
	assert.Equal(t, "42", lastMsg.Text())
}

func TestInjectReply_AnswersPendingToolCall(t *testing.T) {
	b := New(engine.NewEchoEngine(), Options{})
	ctx := context.Background()
	cfg := engine.Config{ThreadID: "th-tool-reply"}

	collect(t, b.Run(ctx, startTurn("th-tool-reply")))

	ask, err := b.PendingAsk(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, b.InjectReply(ctx, cfg, ask, "since Monday"))

	state, err := b.engine.State(ctx, cfg)
	require.NoError(t, err)
	msgs := state.Values.Messages(engine.KeyMessages)
	lastMsg := msgs[len(msgs)-1]
	assert.True(t, lastMsg.IsTool())
	assert.Equal(t, ask.ToolCallID, lastMsg.ToolCallID)
	assert.Equal(t, "since Monday", lastMsg.Text())
}

func TestPendingToolCall(t *testing.T) {
	msgs := []engine.Message{
		{Type: engine.MessageAI, ToolCalls: []engine.ToolCall{{ID: "a", Name: "ask_user"}}},
		{Type: engine.MessageTool, ToolCallID: "a"},
		{Type: engine.MessageAI, ToolCalls: []engine.ToolCall{{ID: "b", Name: "ask_user"}}},
	}

	call, ok := pendingToolCall(msgs)
	require.True(t, ok)
	assert.Equal(t, "b", call.ID)

	_, ok = pendingToolCall(msgs[:2])
	assert.False(t, ok)
}

func TestIsAskNode(t *testing.T) {
	for node := range askNodes {
		assert.True(t, IsAskNode(node), node)
		assert.True(t, strings.HasSuffix(node, "_AskUser"))
	}
	assert.False(t, IsAskNode("GP"))
	assert.False(t, IsAskNode(""))
}
