// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	nextID        int64
	patients      map[int64]*Patient
	emailIndex    map[string]int64 // lowercased email -> patient ID
	doctors       []*Doctor
	consultations map[int64]*Consultation
	threadIndex   map[string]int64 // thread ID -> consultation ID
	events        map[int64][]*ConsultationEvent
	labOrders     map[int64]*LabOrder
	labResults    map[int64]*LabResult
	reports       map[int64]*MedicalReport

	// PingErr is returned by Ping when set
	PingErr error
}

// NewMockStore creates a new MockStore with the default doctors seeded.
func NewMockStore() *MockStore {
	m := &MockStore{
		patients:      make(map[int64]*Patient),
		emailIndex:    make(map[string]int64),
		consultations: make(map[int64]*Consultation),
		threadIndex:   make(map[string]int64),
		events:        make(map[int64][]*ConsultationEvent),
		labOrders:     make(map[int64]*LabOrder),
		labResults:    make(map[int64]*LabResult),
		reports:       make(map[int64]*MedicalReport),
	}
	_ = m.SeedDoctors(context.Background())
	return m
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreatePatient stores a new patient.
func (m *MockStore) CreatePatient(ctx context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.Email = NormalizeEmail(p.Email)
	if _, exists := m.emailIndex[p.Email]; exists {
		return ErrDuplicateEmail
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.ID = m.id()

	// Make a copy to avoid external modification
	c := *p
	m.patients[c.ID] = &c
	m.emailIndex[c.Email] = c.ID
	return nil
}

// GetPatient retrieves a patient by ID.
func (m *MockStore) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// GetPatientByEmail retrieves a patient by email.
func (m *MockStore) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emailIndex[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.patients[id]
	return &result, nil
}

// SeedDoctors inserts DefaultDoctors that are not yet present.
func (m *MockStore) SeedDoctors(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	known := make(map[string]bool, len(m.doctors))
	for _, d := range m.doctors {
		known[d.Name] = true
	}
	for i, d := range DefaultDoctors {
		if known[d.Name] {
			continue
		}
		m.doctors = append(m.doctors, &Doctor{ID: int64(i + 1), Name: d.Name, Specialty: d.Specialty})
	}
	return nil
}

// ListDoctors returns all doctors.
func (m *MockStore) ListDoctors(ctx context.Context) ([]*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		c := *d
		out = append(out, &c)
	}
	return out, nil
}

// CreateConsultation stores a new consultation.
func (m *MockStore) CreateConsultation(ctx context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.patients[c.PatientID]; !ok {
		return ErrNotFound
	}
	if _, exists := m.threadIndex[c.ThreadID]; exists {
		return fmt.Errorf("thread %s already has a consultation", c.ThreadID)
	}
	if c.Status == "" {
		c.Status = ConsultationTriage
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid consultation status %q", c.Status)
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.StartedAt
	}
	c.ID = m.id()

	cp := *c
	m.consultations[cp.ID] = &cp
	m.threadIndex[cp.ThreadID] = cp.ID
	return nil
}

// GetConsultation retrieves a consultation by ID.
func (m *MockStore) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.consultations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// GetConsultationByThread retrieves a consultation by engine thread ID.
func (m *MockStore) GetConsultationByThread(ctx context.Context, threadID string) (*Consultation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.threadIndex[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.consultations[id]
	return &result, nil
}

// ListConsultations returns a patient's consultations, newest first.
func (m *MockStore) ListConsultations(ctx context.Context, patientID int64) ([]*Consultation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Consultation
	for _, c := range m.consultations {
		if c.PatientID == patientID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// UpdateConsultationStatus sets a consultation's status.
func (m *MockStore) UpdateConsultationStatus(ctx context.Context, id int64, status ConsultationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !status.Valid() {
		return fmt.Errorf("invalid consultation status %q", status)
	}
	c, ok := m.consultations[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteConsultation removes a consultation and everything hanging off it.
func (m *MockStore) DeleteConsultation(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.consultations[id]
	if !ok {
		return ErrNotFound
	}

	for orderID, o := range m.labOrders {
		if o.ConsultationID != id {
			continue
		}
		for resultID, r := range m.labResults {
			if r.OrderID == orderID {
				delete(m.labResults, resultID)
			}
		}
		delete(m.labOrders, orderID)
	}
	for reportID, r := range m.reports {
		if r.ConsultationID == id {
			delete(m.reports, reportID)
		}
	}
	delete(m.events, id)
	delete(m.threadIndex, c.ThreadID)
	delete(m.consultations, id)
	return nil
}

// SaveConsultationEvent appends an event to the in-memory ledger.
func (m *MockStore) SaveConsultationEvent(ctx context.Context, e *ConsultationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.consultations[e.ConsultationID]; !ok {
		return ErrNotFound
	}
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

	cp := *e
	m.events[e.ConsultationID] = append(m.events[e.ConsultationID], &cp)
	return nil
}

// ListConsultationEvents returns ledger events in insertion order.
func (m *MockStore) ListConsultationEvents(ctx context.Context, consultationID int64, limit int) ([]*ConsultationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[consultationID]
	limit = ClampEventLimit(limit)
	if len(events) > limit {
		events = events[:limit]
	}

	out := make([]*ConsultationEvent, 0, len(events))
	for _, e := range events {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// CreateLabOrder stores a lab order.
func (m *MockStore) CreateLabOrder(ctx context.Context, o *LabOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.consultations[o.ConsultationID]; !ok {
		return ErrNotFound
	}
	if o.Status == "" {
		o.Status = LabOrderPending
	}
	o.ID = m.id()
	cp := *o
	m.labOrders[cp.ID] = &cp
	return nil
}

// ListLabOrders returns the lab orders for a consultation.
func (m *MockStore) ListLabOrders(ctx context.Context, consultationID int64) ([]*LabOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*LabOrder
	for _, o := range m.labOrders {
		if o.ConsultationID == consultationID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateLabResult stores a lab result.
func (m *MockStore) CreateLabResult(ctx context.Context, r *LabResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.labOrders[r.OrderID]; !ok {
		return ErrNotFound
	}
	r.ID = m.id()
	cp := *r
	m.labResults[cp.ID] = &cp
	return nil
}

// ListLabResults returns the results for a lab order.
func (m *MockStore) ListLabResults(ctx context.Context, orderID int64) ([]*LabResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*LabResult
	for _, r := range m.labResults {
		if r.OrderID == orderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateMedicalReport stores a medical report.
func (m *MockStore) CreateMedicalReport(ctx context.Context, r *MedicalReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.consultations[r.ConsultationID]; !ok {
		return ErrNotFound
	}
	r.ID = m.id()
	cp := *r
	m.reports[cp.ID] = &cp
	return nil
}

// ListMedicalReports returns the reports for a consultation.
func (m *MockStore) ListMedicalReports(ctx context.Context, consultationID int64) ([]*MedicalReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*MedicalReport
	for _, r := range m.reports {
		if r.ConsultationID == consultationID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLStore)(nil)
)
