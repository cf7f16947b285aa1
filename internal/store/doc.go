// Package store provides persistent storage for the gateway on SQLite or PostgreSQL.
//
// # Architecture
//
// The store package uses an interface-driven architecture with small
// specialized interfaces composed into Store:
//
//   - PatientStore: Patient registration and lookup by ID or email
//   - DoctorStore: The seeded roster of virtual specialists
//   - ConsultationStore: Consultations and their event ledger
//   - RecordStore: Lab orders, lab results and medical reports
//
// SQLStore implements every interface on top of database/sql. Queries are
// written once with ? placeholders and rebound for PostgreSQL.
//
// # Data Models
//
//   - Patient: Login identity and medical profile; emails are lowercased and unique
//   - Doctor: Static specialist identity, seeded on startup
//   - Consultation: One engine thread owned by one patient (Triage, Active, Completed)
//   - ConsultationEvent: Append-only record of every streamed event and patient reply
//   - LabOrder, LabResult, MedicalReport: Clinical records hanging off a consultation
//
// # Backends
//
// SQLite uses modernc.org/sqlite with WAL mode and foreign keys enabled:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// PostgreSQL uses github.com/lib/pq. Unique and foreign key violations are
// mapped to ErrDuplicateEmail and ErrNotFound on both backends.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
