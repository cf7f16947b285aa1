// ABOUTME: Consultation ledger recording and status transitions driven by stream events
// ABOUTME: Every event a patient sees or sends is appended; terminal events move the consultation

package gateway

import (
	"context"

	"github.com/2389/consult-gateway/internal/bridge"
	"github.com/2389/consult-gateway/internal/store"
	"github.com/2389/consult-gateway/internal/threads"
)

// recordEvent appends an event to the thread's consultation ledger.
// Ledger failures are logged and never interrupt the stream.
//
// The write outlives the request so an event delivered just before a
// disconnect is still recorded.
func (g *Gateway) recordEvent(ctx context.Context, th *threads.Thread, eventType string, payload []byte) {
	event := &store.ConsultationEvent{
		ConsultationID: th.ConsultationID,
		ThreadID:       th.ID,
		Type:           eventType,
		Payload:        string(payload),
	}
	if err := g.store.SaveConsultationEvent(context.WithoutCancel(ctx), event); err != nil {
		g.logger.Error("failed to record consultation event",
			"error", err,
			"thread_id", th.ID,
			"consultation_id", th.ConsultationID,
			"type", eventType,
		)
	}
}

// applyTerminal moves the consultation along after an ask_user or final event.
func (g *Gateway) applyTerminal(ctx context.Context, th *threads.Thread, ev bridge.Event) {
	ctx = context.WithoutCancel(ctx)

	var status store.ConsultationStatus
	switch ev.Type {
	case bridge.EventAskUser:
		status = store.ConsultationActive
	case bridge.EventFinal:
		status = store.ConsultationCompleted
	default:
		return
	}

	if err := g.store.UpdateConsultationStatus(ctx, th.ConsultationID, status); err != nil {
		g.logger.Error("failed to update consultation status",
			"error", err,
			"consultation_id", th.ConsultationID,
			"status", status,
		)
	}

	if ev.Type == bridge.EventFinal {
		if err := g.threads.MarkCompleted(ctx, th.ID); err != nil {
			g.logger.Error("failed to mark thread completed", "error", err, "thread_id", th.ID)
		}
	}
}
