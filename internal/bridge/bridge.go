// ABOUTME: Stream bridge converting engine state snapshots into client events
// ABOUTME: Emits thread, tool and message events per turn and resolves the turn to ask_user, final or error

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/consult-gateway/internal/engine"
)

// DefaultInitialAgent tags messages until the engine reports an agent
const DefaultInitialAgent = "GP"

// Fixed speakers for the diagnostic specialists' lists.
const (
	SpeakerPathology = "Patho"
	SpeakerRadiology = "Radio"
)

// Options configures a Bridge.
type Options struct {
	InitialAgent string
	TurnTimeout  time.Duration // zero means no limit
	Renderer     Renderer      // nil disables html fields
	Logger       *slog.Logger
}

// Bridge runs engine turns and translates them for clients.
type Bridge struct {
	engine       engine.Engine
	initialAgent string
	turnTimeout  time.Duration
	renderer     Renderer
	logger       *slog.Logger
}

// New creates a Bridge over eng.
func New(eng engine.Engine, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	agent := opts.InitialAgent
	if agent == "" {
		agent = DefaultInitialAgent
	}
	return &Bridge{
		engine:       eng,
		initialAgent: agent,
		turnTimeout:  opts.TurnTimeout,
		renderer:     opts.Renderer,
		logger:       logger.With("component", "bridge"),
	}
}

// Turn is one engine run on a thread.
type Turn struct {
	Config engine.Config

	// Input starts a thread; nil resumes a paused one.
	Input map[string]any

	// Prior is state the client has already seen. Its messages and tool
	// calls are not emitted again.
	Prior *engine.Snapshot
}

// Run executes the turn and returns its events. The first event is always
// thread; the last is ask_user, final or error unless ctx is canceled. The
// channel is closed when the turn ends.
func (b *Bridge) Run(ctx context.Context, t Turn) <-chan Event {
	events := make(chan Event)

	go func() {
		defer close(events)

		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		threadID := t.Config.ThreadID
		if !send(Event{Type: EventThread, Data: ThreadData{ThreadID: threadID}}) {
			return
		}

		turnCtx := ctx
		if b.turnTimeout > 0 {
			var cancel context.CancelFunc
			turnCtx, cancel = context.WithTimeout(ctx, b.turnTimeout)
			defer cancel()
		}

		tr := newTranslator(threadID, b.initialAgent, b.renderer, b.logger)
		tr.seed(t.Prior)

		if err := b.stream(turnCtx, t, tr, send); err != nil {
			b.fail(ctx, threadID, err, send)
			return
		}

		ev, err := b.resolve(turnCtx, t.Config, tr)
		if err != nil {
			b.fail(ctx, threadID, err, send)
			return
		}
		if ctx.Err() != nil {
			return
		}
		send(ev)
	}()

	return events
}

// stream relays the engine's snapshots through the translator.
func (b *Bridge) stream(ctx context.Context, t Turn, tr *translator, send func(Event) bool) error {
	results, err := b.engine.Stream(ctx, t.Config, t.Input)
	if err != nil {
		return fmt.Errorf("starting engine stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				// producers close early on cancellation
				return ctx.Err()
			}
			if res.Err != nil {
				return res.Err
			}
			for _, ev := range tr.translate(res.Snapshot) {
				if !send(ev) {
					return ctx.Err()
				}
			}
		}
	}
}

// resolve reads the paused or finished state and builds the terminal event.
func (b *Bridge) resolve(ctx context.Context, cfg engine.Config, tr *translator) (Event, error) {
	state, err := b.engine.State(ctx, cfg)
	if err != nil {
		return Event{}, fmt.Errorf("reading thread state: %w", err)
	}

	agent := tr.agent
	if state.Values != nil && state.Values.CurrentAgent != "" {
		agent = state.Values.CurrentAgent
	}

	if ask, ok := resolveAsk(state, agent); ok {
		return Event{Type: EventAskUser, Data: AskUserData{
			ThreadID:     cfg.ThreadID,
			Question:     ask.Question,
			CurrentAgent: ask.CurrentAgent,
			Speaker:      speakerFor(ask.Key, ask.CurrentAgent),
		}}, nil
	}

	text := state.Values.LastAIText()
	return Event{Type: EventFinal, Data: FinalData{
		ThreadID:     cfg.ThreadID,
		Message:      text,
		CurrentAgent: agent,
		HTML:         tr.render(text),
	}}, nil
}

// fail sends the error event for a turn unless the client has gone away.
func (b *Bridge) fail(ctx context.Context, threadID string, err error, send func(Event) bool) {
	if ctx.Err() != nil {
		b.logger.Debug("turn abandoned", "thread_id", threadID, "error", err)
		return
	}

	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "engine turn timed out"
	}
	b.logger.Warn("turn failed", "thread_id", threadID, "error", err)
	send(Event{Type: EventError, Data: ErrorData{ThreadID: threadID, Error: msg}})
}

// speakerFor names who a message on key speaks as.
func speakerFor(key, agent string) string {
	switch key {
	case engine.KeyPathoMessages:
		return SpeakerPathology
	case engine.KeyRadioMessages:
		return SpeakerRadiology
	default:
		return agent
	}
}

// translator holds one turn's dedupe state.
type translator struct {
	threadID  string
	agent     string
	seenTools map[string]struct{}
	emitted   map[string]struct{}
	renderer  Renderer
	logger    *slog.Logger
}

func newTranslator(threadID, agent string, renderer Renderer, logger *slog.Logger) *translator {
	return &translator{
		threadID:  threadID,
		agent:     agent,
		seenTools: make(map[string]struct{}),
		emitted:   make(map[string]struct{}),
		renderer:  renderer,
		logger:    logger,
	}
}

// seed marks everything in prior as already delivered.
func (tr *translator) seed(prior *engine.Snapshot) {
	if prior == nil {
		return
	}
	if prior.CurrentAgent != "" {
		tr.agent = prior.CurrentAgent
	}
	for _, key := range engine.MessageKeys {
		for i, m := range prior.Messages(key) {
			tr.emitted[messageIdentity(key, i, m)] = struct{}{}
			for j, c := range m.ToolCalls {
				tr.seenTools[toolIdentity(key, i, j, c)] = struct{}{}
			}
		}
	}
}

// translate returns the new tool and message events in a snapshot.
func (tr *translator) translate(snap *engine.Snapshot) []Event {
	if snap == nil {
		return nil
	}
	if snap.CurrentAgent != "" {
		tr.agent = snap.CurrentAgent
	}

	var events []Event
	for _, key := range engine.MessageKeys {
		for i, m := range snap.Messages(key) {
			if !m.IsAI() {
				continue
			}
			for j, c := range m.ToolCalls {
				id := toolIdentity(key, i, j, c)
				if _, seen := tr.seenTools[id]; seen {
					continue
				}
				tr.seenTools[id] = struct{}{}
				events = append(events, Event{Type: EventTool, Data: ToolData{
					ThreadID:     tr.threadID,
					ID:           c.ID,
					Name:         c.Name,
					Args:         c.Args,
					CurrentAgent: tr.agent,
				}})
			}
		}
	}

	for _, key := range engine.MessageKeys {
		for i, m := range snap.Messages(key) {
			if !m.IsAI() {
				continue
			}
			text := m.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			id := messageIdentity(key, i, m)
			if _, done := tr.emitted[id]; done {
				continue
			}
			tr.emitted[id] = struct{}{}
			events = append(events, Event{Type: EventMessage, Data: MessageData{
				ThreadID:     tr.threadID,
				Speaker:      speakerFor(key, tr.agent),
				Content:      text,
				CurrentAgent: tr.agent,
				HTML:         tr.render(text),
			}})
		}
	}
	return events
}

func (tr *translator) render(text string) string {
	if tr.renderer == nil || text == "" {
		return ""
	}
	html, err := tr.renderer.Render(text)
	if err != nil {
		tr.logger.Warn("rendering markdown failed", "thread_id", tr.threadID, "error", err)
		return ""
	}
	return html
}

func messageIdentity(key string, index int, m engine.Message) string {
	if m.ID != "" {
		return "id:" + m.ID
	}
	return fmt.Sprintf("%s#%d", key, index)
}

func toolIdentity(key string, msgIndex, callIndex int, c engine.ToolCall) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("%s#%d#%d", key, msgIndex, callIndex)
}
