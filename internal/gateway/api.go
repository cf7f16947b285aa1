// ABOUTME: Shared HTTP plumbing for the consultation API: JSON replies, errors and SSE frames
// ABOUTME: Errors are JSON objects with a detail field; streams use text/event-stream

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/2389/consult-gateway/internal/store"
)

// maxBodyBytes bounds JSON and form request bodies.
const maxBodyBytes = 1 << 20

// PatientResponse is the public view of a patient.
type PatientResponse struct {
	PatientID int64  `json:"patient_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Age       *int   `json:"age"`
	Gender    string `json:"gender,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ConsultationResponse is the JSON view of a consultation.
type ConsultationResponse struct {
	ConsultationID int64  `json:"consultation_id"`
	ThreadID       string `json:"thread_id"`
	Status         string `json:"status"`
	StartedAt      string `json:"started_at"`
	UpdatedAt      string `json:"updated_at"`
}

// LabResultResponse is the JSON view of a lab result.
type LabResultResponse struct {
	ResultID int64  `json:"result_id"`
	Findings string `json:"findings"`
}

// LabOrderResponse is the JSON view of a lab order with its results.
type LabOrderResponse struct {
	OrderID  int64               `json:"order_id"`
	TestName string              `json:"test_name"`
	Status   string              `json:"status"`
	Results  []LabResultResponse `json:"results"`
}

// ReportResponse is the JSON view of a medical report.
type ReportResponse struct {
	ReportID  int64  `json:"report_id"`
	Diagnosis string `json:"diagnosis"`
	Treatment string `json:"treatment,omitempty"`
}

// ConsultationDetailResponse is the response for GET /consultations/{id}.
type ConsultationDetailResponse struct {
	ConsultationResponse
	LabOrders []LabOrderResponse `json:"lab_orders"`
	Reports   []ReportResponse   `json:"reports"`
}

// EventResponse is one ledger entry.
type EventResponse struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

// EventsResponse is the response for GET /consultations/{id}/events.
type EventsResponse struct {
	ConsultationID int64           `json:"consultation_id"`
	Events         []EventResponse `json:"events"`
}

// DoctorResponse is one entry of the doctor reference list.
type DoctorResponse struct {
	DoctorID  int64  `json:"doctor_id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toPatientResponse(p *store.Patient) PatientResponse {
	return PatientResponse{
		PatientID: p.ID,
		Email:     p.Email,
		Name:      p.Name,
		Age:       p.Age,
		Gender:    p.Gender,
		CreatedAt: formatTimestamp(p.CreatedAt),
	}
}

func toConsultationResponse(c *store.Consultation) ConsultationResponse {
	return ConsultationResponse{
		ConsultationID: c.ID,
		ThreadID:       c.ThreadID,
		Status:         string(c.Status),
		StartedAt:      formatTimestamp(c.StartedAt),
		UpdatedAt:      formatTimestamp(c.UpdatedAt),
	}
}

// writeJSON writes v with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, detail string) {
	g.writeJSON(w, status, map[string]string{"detail": detail})
}

// sendInternalError logs err and answers 500 without leaking it.
func (g *Gateway) sendInternalError(w http.ResponseWriter, msg string, err error) {
	g.logger.Error(msg, "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// setSSEHeaders prepares a response for server-sent events.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType string, data []byte) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data []byte) error {
	_, err := fmt.Fprint(w, formatSSEEvent(event, data))
	return err
}
