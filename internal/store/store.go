// ABOUTME: Store interfaces and data types for consult-gateway persistence
// ABOUTME: Defines Patient, Doctor, Consultation, lab and report records and their store contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when registering an email that is already taken
var ErrDuplicateEmail = errors.New("email already registered")

// Patient is both the login identity and the medical profile of a user.
type Patient struct {
	ID           int64
	Email        string
	PasswordHash string // bcrypt hash, never the raw password
	Name         string
	Age          *int
	Gender       string
	CreatedAt    time.Time
}

// Doctor is a static virtual specialist identity.
type Doctor struct {
	ID        int64
	Name      string
	Specialty string
}

// ConsultationStatus is the lifecycle state of a consultation
type ConsultationStatus string

const (
	ConsultationTriage    ConsultationStatus = "Triage"
	ConsultationActive    ConsultationStatus = "Active"
	ConsultationCompleted ConsultationStatus = "Completed"
)

// Valid reports whether s is a known consultation status.
func (s ConsultationStatus) Valid() bool {
	switch s {
	case ConsultationTriage, ConsultationActive, ConsultationCompleted:
		return true
	}
	return false
}

// Consultation is one patient conversation with the graph engine.
type Consultation struct {
	ID        int64
	PatientID int64
	ThreadID  string
	Status    ConsultationStatus
	StartedAt time.Time
	UpdatedAt time.Time
}

// LabOrderStatus is the state of a requested diagnostic test
type LabOrderStatus string

const (
	LabOrderPending   LabOrderStatus = "Pending"
	LabOrderCompleted LabOrderStatus = "Completed"
	LabOrderCancelled LabOrderStatus = "Cancelled"
)

// LabOrder is a diagnostic test requested during a consultation.
type LabOrder struct {
	ID             int64
	ConsultationID int64
	TestName       string
	Status         LabOrderStatus
}

// LabResult holds the findings for a lab order.
type LabResult struct {
	ID       int64
	OrderID  int64
	Findings string
}

// MedicalReport is the diagnosis and treatment produced for a consultation.
type MedicalReport struct {
	ID             int64
	ConsultationID int64
	Diagnosis      string
	Treatment      string
}

// ConsultationEvent is one entry in the append-only consultation ledger.
type ConsultationEvent struct {
	ID             string
	ConsultationID int64
	ThreadID       string
	Type           string // thread, tool, message, ask_user, final, error, reply
	Payload        string // JSON object
	CreatedAt      time.Time
}

// PatientStore persists patient identities.
type PatientStore interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	GetPatientByEmail(ctx context.Context, email string) (*Patient, error)
}

// DoctorStore exposes the doctor reference table.
type DoctorStore interface {
	SeedDoctors(ctx context.Context) error
	ListDoctors(ctx context.Context) ([]*Doctor, error)
}

// ConsultationStore persists consultations and their ledger.
type ConsultationStore interface {
	CreateConsultation(ctx context.Context, c *Consultation) error
	GetConsultation(ctx context.Context, id int64) (*Consultation, error)
	GetConsultationByThread(ctx context.Context, threadID string) (*Consultation, error)
	ListConsultations(ctx context.Context, patientID int64) ([]*Consultation, error)
	UpdateConsultationStatus(ctx context.Context, id int64, status ConsultationStatus) error
	DeleteConsultation(ctx context.Context, id int64) error

	SaveConsultationEvent(ctx context.Context, e *ConsultationEvent) error
	ListConsultationEvents(ctx context.Context, consultationID int64, limit int) ([]*ConsultationEvent, error)
}

// RecordStore persists lab orders, lab results and medical reports.
type RecordStore interface {
	CreateLabOrder(ctx context.Context, o *LabOrder) error
	ListLabOrders(ctx context.Context, consultationID int64) ([]*LabOrder, error)
	CreateLabResult(ctx context.Context, r *LabResult) error
	ListLabResults(ctx context.Context, orderID int64) ([]*LabResult, error)
	CreateMedicalReport(ctx context.Context, r *MedicalReport) error
	ListMedicalReports(ctx context.Context, consultationID int64) ([]*MedicalReport, error)
}

// Store is the full persistence surface used by the gateway.
type Store interface {
	PatientStore
	DoctorStore
	ConsultationStore
	RecordStore

	// Ping checks the database is reachable
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
