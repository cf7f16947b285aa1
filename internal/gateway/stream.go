// ABOUTME: SSE endpoints that start a consultation thread or resume a paused one
// ABOUTME: Authenticates from the token query parameter and relays bridge events to the client

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/consult-gateway/internal/auth"
	"github.com/2389/consult-gateway/internal/bridge"
	"github.com/2389/consult-gateway/internal/engine"
	"github.com/2389/consult-gateway/internal/store"
	"github.com/2389/consult-gateway/internal/threads"
)

// ReplyData is the ledger payload for a patient's reply.
type ReplyData struct {
	ThreadID  string `json:"thread_id"`
	UserReply string `json:"user_reply"`
}

// authenticateStream validates the stream caller or writes 401.
func (g *Gateway) authenticateStream(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, bool) {
	ac, err := auth.Authenticate(r.Context(), g.tokens, g.store, auth.TokenFromRequest(r))
	if err != nil {
		auth.WriteUnauthorized(w)
		return nil, false
	}
	return ac, true
}

// handleStartStream handles GET /graph/start/stream.
func (g *Gateway) handleStartStream(w http.ResponseWriter, r *http.Request) {
	ac, ok := g.authenticateStream(w, r)
	if !ok {
		return
	}

	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	// Check streaming support before creating anything (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendInternalError(w, "streaming not supported", errors.New("response writer cannot flush"))
		return
	}

	ctx := r.Context()
	threadID := uuid.New().String()

	consultation := &store.Consultation{PatientID: ac.PatientID, ThreadID: threadID}
	if err := g.store.CreateConsultation(ctx, consultation); err != nil {
		g.sendInternalError(w, "failed to create consultation", err)
		return
	}

	th := &threads.Thread{
		ID:             threadID,
		PatientID:      ac.PatientID,
		ConsultationID: consultation.ID,
	}
	if err := g.threads.Register(ctx, th); err != nil {
		// nobody could resume it, so the consultation goes too
		if delErr := g.store.DeleteConsultation(context.WithoutCancel(ctx), consultation.ID); delErr != nil {
			g.logger.Error("failed to remove unregistered consultation",
				"error", delErr,
				"consultation_id", consultation.ID,
			)
		}
		g.sendInternalError(w, "failed to register thread", err)
		return
	}

	g.logger.Info("consultation started",
		"thread_id", threadID,
		"patient_id", ac.PatientID,
		"consultation_id", consultation.ID,
	)

	input := engine.InitialInput(message, ac.PatientID, g.config.Engine.InitialAgent)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := g.bridge.Run(ctx, bridge.Turn{Config: th.EngineConfig(), Input: input})
	g.streamEvents(ctx, w, flusher, th, events)
}

// handleResumeStream handles GET /graph/resume/stream.
func (g *Gateway) handleResumeStream(w http.ResponseWriter, r *http.Request) {
	ac, ok := g.authenticateStream(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	threadID := strings.TrimSpace(q.Get("thread_id"))
	reply := q.Get("user_reply")
	if threadID == "" || strings.TrimSpace(reply) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "thread_id and user_reply are required")
		return
	}

	ctx := r.Context()

	th, err := g.threads.Lookup(ctx, threadID)
	if errors.Is(err, threads.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "Thread not found")
		return
	}
	if err != nil {
		g.sendInternalError(w, "failed to look up thread", err)
		return
	}
	// a foreign thread is indistinguishable from a missing one
	if !th.OwnedBy(ac.PatientID) {
		g.logger.Warn("resume of foreign thread refused", "thread_id", threadID, "patient_id", ac.PatientID)
		g.sendJSONError(w, http.StatusNotFound, "Thread not found")
		return
	}
	if th.Completed {
		g.sendJSONError(w, http.StatusConflict, "Thread already completed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendInternalError(w, "streaming not supported", errors.New("response writer cannot flush"))
		return
	}

	ask, err := g.bridge.PendingAsk(ctx, th.EngineConfig())
	if err != nil {
		g.sendResumeError(w, err)
		return
	}
	if err := g.bridge.InjectReply(ctx, th.EngineConfig(), ask, reply); err != nil {
		g.sendResumeError(w, err)
		return
	}

	if payload, err := json.Marshal(ReplyData{ThreadID: threadID, UserReply: reply}); err == nil {
		g.recordEvent(ctx, th, store.EventReply, payload)
	}

	g.logger.Info("consultation resumed", "thread_id", threadID, "patient_id", ac.PatientID, "node", ask.Node)

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := g.bridge.Run(ctx, bridge.Turn{Config: th.EngineConfig(), Prior: ask.Snapshot})
	g.streamEvents(ctx, w, flusher, th, events)
}

// sendResumeError maps engine and bridge errors raised before streaming starts.
func (g *Gateway) sendResumeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, bridge.ErrNotAwaitingReply):
		g.sendJSONError(w, http.StatusConflict, "Thread is not awaiting a reply")
	case errors.Is(err, engine.ErrThreadNotFound):
		g.sendJSONError(w, http.StatusNotFound, "Thread not found")
	default:
		g.sendInternalError(w, "failed to resume thread", err)
	}
}

// streamEvents writes bridge events as SSE until the turn ends or the client leaves.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, th *threads.Thread, events <-chan bridge.Event) {
	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("client disconnected", "thread_id", th.ID)
			return

		case ev, ok := <-events:
			if !ok {
				return
			}

			data, err := json.Marshal(ev.Data)
			if err != nil {
				g.logger.Error("failed to marshal SSE data", "error", err, "type", ev.Type)
				continue
			}

			g.recordEvent(ctx, th, ev.Type, data)
			if err := g.writeSSEEvent(w, ev.Type, data); err != nil {
				g.logger.Debug("failed to write SSE event", "error", err, "thread_id", th.ID)
				return
			}
			flusher.Flush()

			g.applyTerminal(ctx, th, ev)
		}
	}
}
