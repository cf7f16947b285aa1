// ABOUTME: Consultation event ledger for stream history and audit trail
// ABOUTME: Records every event sent to or received from a patient, in order

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger event types, mirroring the SSE event names plus the patient's replies.
const (
	EventThread  = "thread"
	EventTool    = "tool"
	EventMessage = "message"
	EventAskUser = "ask_user"
	EventFinal   = "final"
	EventError   = "error"
	EventReply   = "reply"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 500
)

// ClampEventLimit bounds a requested page size to 1-500, defaulting to 100
func ClampEventLimit(limit int) int {
	if limit <= 0 {
		return defaultEventLimit
	}
	if limit > maxEventLimit {
		return maxEventLimit
	}
	return limit
}

// SaveConsultationEvent appends an event to the ledger.
// ID, payload and timestamp are filled in when empty.
func (s *SQLStore) SaveConsultationEvent(ctx context.Context, e *ConsultationEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	if !json.Valid([]byte(e.Payload)) {
		return fmt.Errorf("event payload is not valid JSON")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO consultation_events (event_id, consultation_id, thread_id, type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.ConsultationID, e.ThreadID, e.Type, e.Payload, formatTime(e.CreatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting consultation event: %w", err)
	}

	s.logger.Debug("saved consultation event",
		"event_id", e.ID,
		"consultation_id", e.ConsultationID,
		"type", e.Type,
	)
	return nil
}

// ListConsultationEvents returns ledger events for a consultation, oldest first
func (s *SQLStore) ListConsultationEvents(ctx context.Context, consultationID int64, limit int) ([]*ConsultationEvent, error) {
	rows, err := s.query(ctx, `
		SELECT event_id, consultation_id, thread_id, type, payload, created_at
		FROM consultation_events
		WHERE consultation_id = ?
		ORDER BY created_at ASC, event_id ASC
		LIMIT ?
	`, consultationID, ClampEventLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying consultation events: %w", err)
	}
	defer rows.Close()

	var events []*ConsultationEvent
	for rows.Next() {
		var e ConsultationEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &e.ConsultationID, &e.ThreadID, &e.Type, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning consultation event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, &e)
	}
	return events, rows.Err()
}
