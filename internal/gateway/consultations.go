// ABOUTME: Read-only views over a patient's consultations, their records and the event ledger
// ABOUTME: Also serves the public doctor reference list

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/2389/consult-gateway/internal/auth"
	"github.com/2389/consult-gateway/internal/store"
)

// handleListDoctors handles GET /doctors.
func (g *Gateway) handleListDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := g.store.ListDoctors(r.Context())
	if err != nil {
		g.sendInternalError(w, "failed to list doctors", err)
		return
	}

	resp := make([]DoctorResponse, 0, len(doctors))
	for _, d := range doctors {
		resp = append(resp, DoctorResponse{DoctorID: d.ID, Name: d.Name, Specialty: d.Specialty})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleListConsultations handles GET /consultations.
func (g *Gateway) handleListConsultations(w http.ResponseWriter, r *http.Request) {
	ac := auth.MustFromContext(r.Context())

	consultations, err := g.store.ListConsultations(r.Context(), ac.PatientID)
	if err != nil {
		g.sendInternalError(w, "failed to list consultations", err)
		return
	}

	resp := make([]ConsultationResponse, 0, len(consultations))
	for _, c := range consultations {
		resp = append(resp, toConsultationResponse(c))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// ownedConsultation loads the {id} consultation if the caller owns it,
// writing the error response otherwise.
func (g *Gateway) ownedConsultation(w http.ResponseWriter, r *http.Request) (*store.Consultation, bool) {
	ac := auth.MustFromContext(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "invalid consultation id")
		return nil, false
	}

	c, err := g.store.GetConsultation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && c.PatientID != ac.PatientID) {
		g.sendJSONError(w, http.StatusNotFound, "Consultation not found")
		return nil, false
	}
	if err != nil {
		g.sendInternalError(w, "failed to load consultation", err)
		return nil, false
	}
	return c, true
}

// handleGetConsultation handles GET /consultations/{id}.
func (g *Gateway) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	c, ok := g.ownedConsultation(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	orders, err := g.store.ListLabOrders(ctx, c.ID)
	if err != nil {
		g.sendInternalError(w, "failed to list lab orders", err)
		return
	}

	resp := ConsultationDetailResponse{
		ConsultationResponse: toConsultationResponse(c),
		LabOrders:            make([]LabOrderResponse, 0, len(orders)),
		Reports:              []ReportResponse{},
	}

	for _, o := range orders {
		results, err := g.store.ListLabResults(ctx, o.ID)
		if err != nil {
			g.sendInternalError(w, "failed to list lab results", err)
			return
		}
		order := LabOrderResponse{
			OrderID:  o.ID,
			TestName: o.TestName,
			Status:   string(o.Status),
			Results:  make([]LabResultResponse, 0, len(results)),
		}
		for _, res := range results {
			order.Results = append(order.Results, LabResultResponse{ResultID: res.ID, Findings: res.Findings})
		}
		resp.LabOrders = append(resp.LabOrders, order)
	}

	reports, err := g.store.ListMedicalReports(ctx, c.ID)
	if err != nil {
		g.sendInternalError(w, "failed to list reports", err)
		return
	}
	for _, rep := range reports {
		resp.Reports = append(resp.Reports, ReportResponse{
			ReportID:  rep.ID,
			Diagnosis: rep.Diagnosis,
			Treatment: rep.Treatment,
		})
	}

	g.writeJSON(w, http.StatusOK, resp)
}

// handleListEvents handles GET /consultations/{id}/events.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	c, ok := g.ownedConsultation(w, r)
	if !ok {
		return
	}

	events, err := g.store.ListConsultationEvents(r.Context(), c.ID, store.ClampEventLimit(limit))
	if err != nil {
		g.sendInternalError(w, "failed to list consultation events", err)
		return
	}

	resp := EventsResponse{ConsultationID: c.ID, Events: make([]EventResponse, 0, len(events))}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResponse{
			EventID:   e.ID,
			Type:      e.Type,
			Payload:   json.RawMessage(e.Payload),
			CreatedAt: formatTimestamp(e.CreatedAt),
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}
