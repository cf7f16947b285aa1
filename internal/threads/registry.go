// ABOUTME: Registry of live consultation threads and the patients that own them
// ABOUTME: Maps a thread id to its engine config, owner and completion flag for the thread's TTL

package threads

import (
	"context"
	"errors"
	"time"

	"github.com/2389/consult-gateway/internal/engine"
)

// ErrNotFound is returned when a thread is unknown or has expired
var ErrNotFound = errors.New("thread not found")

// Thread is the gateway's record of one engine thread.
type Thread struct {
	ID             string    `json:"thread_id"`
	PatientID      int64     `json:"patient_id"`
	ConsultationID int64     `json:"consultation_id"`
	CreatedAt      time.Time `json:"created_at"`
	Completed      bool      `json:"completed"`
}

// EngineConfig returns the config the engine is called with for this thread.
func (t *Thread) EngineConfig() engine.Config {
	return engine.Config{ThreadID: t.ID}
}

// OwnedBy reports whether the thread was started by the patient.
func (t *Thread) OwnedBy(patientID int64) bool {
	return t.PatientID == patientID
}

// Registry stores threads for a bounded lifetime.
type Registry interface {
	Register(ctx context.Context, t *Thread) error
	Lookup(ctx context.Context, id string) (*Thread, error)
	MarkCompleted(ctx context.Context, id string) error
	Close() error
}
