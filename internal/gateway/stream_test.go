// ABOUTME: End-to-end tests for the start and resume SSE endpoints
// ABOUTME: Covers event order, ledger recording, status transitions and resume error mapping

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/consult-gateway/internal/engine"
	"github.com/2389/consult-gateway/internal/store"
	"github.com/2389/consult-gateway/internal/threads"
)

type sseEvent struct {
	Event string
	Data  map[string]any
}

// parseSSE splits an event-stream body into events.
func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.Data))
			}
		}
		events = append(events, ev)
	}
	return events
}

func startStream(t *testing.T, h http.Handler, token, message string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{"message": {message}, "token": {token}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graph/start/stream?"+q.Encode(), nil))
	return rec
}

func resumeStream(t *testing.T, h http.Handler, token, threadID, reply string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{"thread_id": {threadID}, "user_reply": {reply}, "token": {token}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graph/resume/stream?"+q.Encode(), nil))
	return rec
}

// countingEngine records how often the engine is touched.
type countingEngine struct {
	engine.Engine
	calls atomic.Int32
}

func (c *countingEngine) Stream(ctx context.Context, cfg engine.Config, input map[string]any) (<-chan engine.Result, error) {
	c.calls.Add(1)
	return c.Engine.Stream(ctx, cfg, input)
}

func (c *countingEngine) State(ctx context.Context, cfg engine.Config) (*engine.State, error) {
	c.calls.Add(1)
	return c.Engine.State(ctx, cfg)
}

func (c *countingEngine) UpdateState(ctx context.Context, cfg engine.Config, values map[string]any) error {
	c.calls.Add(1)
	return c.Engine.UpdateState(ctx, cfg, values)
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.Event
	}
	return names
}

func TestStartStream_EndToEnd(t *testing.T) {
	gw, s := newTestGateway(t, engine.NewEchoEngine())
	h := gw.Handler()
	token, patientID := registerAndLogin(t, h, "erin@example.com")

	rec := startStream(t, h, token, "I have a sore throat")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "thread", events[0].Event)
	threadID, _ := events[0].Data["thread_id"].(string)
	require.NotEmpty(t, threadID)

	last := events[len(events)-1]
	assert.Equal(t, "ask_user", last.Event)
	assert.Contains(t, last.Data["question"], "sore throat")
	assert.Equal(t, "GP", last.Data["current_agent"])
	for _, ev := range events {
		assert.Equal(t, threadID, ev.Data["thread_id"], "every event carries the thread id")
	}

	c, err := s.GetConsultationByThread(t.Context(), threadID)
	require.NoError(t, err)
	assert.Equal(t, patientID, c.PatientID)
	assert.Equal(t, store.ConsultationActive, c.Status)

	ledger, err := s.ListConsultationEvents(t.Context(), c.ID, 100)
	require.NoError(t, err)
	require.Len(t, ledger, len(events))
	for i, e := range ledger {
		assert.Equal(t, events[i].Event, e.Type)
	}

	th, err := gw.threads.Lookup(t.Context(), threadID)
	require.NoError(t, err)
	assert.True(t, th.OwnedBy(patientID))
	assert.False(t, th.Completed)
}

func TestResumeStream_EndToEnd(t *testing.T) {
	gw, s := newTestGateway(t, engine.NewEchoEngine())
	h := gw.Handler()
	token, _ := registerAndLogin(t, h, "frank@example.com")

	events := parseSSE(t, startStream(t, h, token, "My knee hurts").Body.String())
	threadID := events[0].Data["thread_id"].(string)

	rec := resumeStream(t, h, token, threadID, "about a week")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	events = parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"thread", "message", "final"}, eventNames(events))
	assert.Contains(t, events[2].Data["message"], "about a week")
	assert.Equal(t, "GP", events[1].Data["speaker"])

	c, err := s.GetConsultationByThread(t.Context(), threadID)
	require.NoError(t, err)
	assert.Equal(t, store.ConsultationCompleted, c.Status)

	th, err := gw.threads.Lookup(t.Context(), threadID)
	require.NoError(t, err)
	assert.True(t, th.Completed)

	ledger, err := s.ListConsultationEvents(t.Context(), c.ID, 100)
	require.NoError(t, err)
	var types []string
	for _, e := range ledger {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, store.EventReply)

	rec = resumeStream(t, h, token, threadID, "again")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Thread already completed", detailOf(t, rec))
}

func TestStartStream_RendersMarkdownWhenEnabled(t *testing.T) {
	gw, _ := newTestGateway(t, engine.NewEchoEngine())
	gw.config.Stream.RenderMarkdown = true
	rebuilt, err := NewWithDeps(gw.config, Deps{Store: gw.store, Engine: gw.engine, Threads: gw.threads}, testLogger())
	require.NoError(t, err)
	h := rebuilt.Handler()
	token, _ := registerAndLogin(t, h, "md@example.com")

	events := parseSSE(t, startStream(t, h, token, "rash").Body.String())
	threadID := events[0].Data["thread_id"].(string)

	events = parseSSE(t, resumeStream(t, h, token, threadID, "since Friday").Body.String())
	final := events[len(events)-1]
	require.Equal(t, "final", final.Event)
	assert.Contains(t, final.Data["html"], "<strong>Summary</strong>")
}

func TestStartStream_Unauthorized(t *testing.T) {
	eng := &countingEngine{Engine: engine.NewEchoEngine()}
	gw, _ := newTestGateway(t, eng)
	h := gw.Handler()

	for _, token := range []string{"", "not-a-jwt"} {
		rec := startStream(t, h, token, "hello")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Could not validate credentials", detailOf(t, rec))
	}
	assert.Zero(t, eng.calls.Load())
}

func TestStartStream_MissingMessage(t *testing.T) {
	gw, _ := newTestGateway(t, engine.NewEchoEngine())
	h := gw.Handler()
	token, _ := registerAndLogin(t, h, "gina@example.com")

	rec := startStream(t, h, token, "   ")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResumeStream_InvalidTokenTouchesNoEngine(t *testing.T) {
	eng := &countingEngine{Engine: engine.NewEchoEngine()}
	gw, _ := newTestGateway(t, eng)
	h := gw.Handler()
	token, _ := registerAndLogin(t, h, "hank@example.com")

	events := parseSSE(t, startStream(t, h, token, "cough").Body.String())
	threadID := events[0].Data["thread_id"].(string)
	before := eng.calls.Load()

	rec := resumeStream(t, h, "tampered"+token, threadID, "two days")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, before, eng.calls.Load())
}

func TestResumeStream_ForeignThread(t *testing.T) {
	gw, _ := newTestGateway(t, engine.NewEchoEngine())
	h := gw.Handler()
	ownerToken, _ := registerAndLogin(t, h, "owner@example.com")
	otherToken, _ := registerAndLogin(t, h, "other@example.com")

	events := parseSSE(t, startStream(t, h, ownerToken, "fever").Body.String())
	threadID := events[0].Data["thread_id"].(string)

	rec := resumeStream(t, h, otherToken, threadID, "hijack")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Thread not found", detailOf(t, rec))

	// the owner can still resume
	rec = resumeStream(t, h, ownerToken, threadID, "three days")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResumeStream_UnknownThread(t *testing.T) {
	gw, _ := newTestGateway(t, engine.NewEchoEngine())
	h := gw.Handler()
	token, _ := registerAndLogin(t, h, "ivy@example.com")

	rec := resumeStream(t, h, token, "no-such-thread", "hello")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Thread not found", detailOf(t, rec))
}

func TestResumeStream_MissingParams(t *testing.T) {
	gw, _ := newTestGateway(t, engine.NewEchoEngine())
	h := gw.Handler()
	token, _ := registerAndLogin(t, h, "jack@example.com")

	assert.Equal(t, http.StatusBadRequest, resumeStream(t, h, token, "", "reply").Code)
	assert.Equal(t, http.StatusBadRequest, resumeStream(t, h, token, "thread", "").Code)
}

func TestStream_EngineFailureMidTurn(t *testing.T) {
	eng := engine.NewScriptedEngine(func(threadID string, state map[string]any) engine.Step {
		return engine.Step{
			Updates: []map[string]any{
				{engine.KeyMessages: []any{engine.AIMessage("Looking into it.")}},
			},
			Err: errors.New("specialist node crashed"),
		}
	})
	gw, s := newTestGateway(t, eng)
	h := gw.Handler()
	token, _ := registerAndLogin(t, h, "kate@example.com")

	rec := startStream(t, h, token, "dizzy")
	require.Equal(t, http.StatusOK, rec.Code)

	events := parseSSE(t, rec.Body.String())
	assert.Equal(t, []string{"thread", "message", "error"}, eventNames(events))
	assert.Contains(t, events[2].Data["error"], "specialist node crashed")

	threadID := events[0].Data["thread_id"].(string)
	c, err := s.GetConsultationByThread(t.Context(), threadID)
	require.NoError(t, err)
	assert.Equal(t, store.ConsultationTriage, c.Status)

	// the thread is neither paused nor completed
	rec = resumeStream(t, h, token, threadID, "still dizzy")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Thread is not awaiting a reply", detailOf(t, rec))
}

// unavailableRegistry refuses new threads.
type unavailableRegistry struct {
	threads.Registry
}

func (unavailableRegistry) Register(ctx context.Context, t *threads.Thread) error {
	return errors.New("registry unavailable")
}

func TestStartStream_RegistryFailureLeavesNoConsultation(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	eng := &countingEngine{Engine: engine.NewEchoEngine()}
	gw, err := NewWithDeps(testConfig(t), Deps{
		Store:   s,
		Engine:  eng,
		Threads: unavailableRegistry{Registry: threads.NewMemoryRegistry(time.Hour, 10)},
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	h := gw.Handler()
	token, patientID := registerAndLogin(t, h, "lena@example.com")

	rec := startStream(t, h, token, "headache")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, eng.calls.Load())

	list, err := s.ListConsultations(t.Context(), patientID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
