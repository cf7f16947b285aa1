// ABOUTME: Tests for the SQLite store implementation
// ABOUTME: Covers patient registration, consultations, records and schema setup

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore(:memory:) failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewSQLiteStore_ReopenKeepsDoctorsUnique(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	first.Close()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	doctors, err := store.ListDoctors(context.Background())
	if err != nil {
		t.Fatalf("ListDoctors failed: %v", err)
	}
	if len(doctors) != len(DefaultDoctors) {
		t.Errorf("got %d doctors after reopen, want %d", len(doctors), len(DefaultDoctors))
	}
}

func TestCreateAndGetPatient(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	age := 34
	p := &Patient{
		Email:        "Alice@Example.COM",
		PasswordHash: "$2a$10$hash",
		Name:         "Alice",
		Age:          &age,
		Gender:       "female",
	}

	if err := store.CreatePatient(ctx, p); err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}
	if p.ID == 0 {
		t.Fatal("expected patient ID to be assigned")
	}
	if p.Email != "alice@example.com" {
		t.Errorf("email not normalized: got %q", p.Email)
	}

	got, err := store.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if got.Name != "Alice" {
		t.Errorf("Name mismatch: got %q, want %q", got.Name, "Alice")
	}
	if got.Age == nil || *got.Age != 34 {
		t.Errorf("Age mismatch: got %v, want 34", got.Age)
	}
	if got.Gender != "female" {
		t.Errorf("Gender mismatch: got %q", got.Gender)
	}
	if got.PasswordHash != "$2a$10$hash" {
		t.Errorf("PasswordHash mismatch: got %q", got.PasswordHash)
	}

	byEmail, err := store.GetPatientByEmail(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetPatientByEmail failed: %v", err)
	}
	if byEmail.ID != p.ID {
		t.Errorf("GetPatientByEmail returned ID %d, want %d", byEmail.ID, p.ID)
	}
}

func TestCreatePatient_OptionalFieldsNull(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	p := &Patient{Email: "bob@example.com", PasswordHash: "x", Name: "Bob"}
	if err := store.CreatePatient(ctx, p); err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}

	got, err := store.GetPatient(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if got.Age != nil {
		t.Errorf("expected nil age, got %d", *got.Age)
	}
	if got.Gender != "" {
		t.Errorf("expected empty gender, got %q", got.Gender)
	}
}

func TestCreatePatient_DuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreatePatient(ctx, &Patient{Email: "dup@example.com", PasswordHash: "x", Name: "A"}); err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}

	err := store.CreatePatient(ctx, &Patient{Email: "DUP@example.com", PasswordHash: "y", Name: "B"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetPatient(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, err = store.GetPatientByEmail(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListDoctors_Seeded(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	doctors, err := store.ListDoctors(context.Background())
	if err != nil {
		t.Fatalf("ListDoctors failed: %v", err)
	}
	if len(doctors) != 11 {
		t.Fatalf("got %d doctors, want 11", len(doctors))
	}
	if doctors[0].Specialty != "General Practice" {
		t.Errorf("first doctor specialty = %q, want General Practice", doctors[0].Specialty)
	}
}

func TestConsultationLifecycle(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	p := createTestPatient(t, store, "carol@example.com")

	c := &Consultation{PatientID: p.ID, ThreadID: "thread-abc"}
	if err := store.CreateConsultation(ctx, c); err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}
	if c.Status != ConsultationTriage {
		t.Errorf("default status = %q, want Triage", c.Status)
	}

	byThread, err := store.GetConsultationByThread(ctx, "thread-abc")
	if err != nil {
		t.Fatalf("GetConsultationByThread failed: %v", err)
	}
	if byThread.ID != c.ID || byThread.PatientID != p.ID {
		t.Errorf("GetConsultationByThread returned %+v", byThread)
	}

	if err := store.UpdateConsultationStatus(ctx, c.ID, ConsultationActive); err != nil {
		t.Fatalf("UpdateConsultationStatus failed: %v", err)
	}
	got, err := store.GetConsultation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConsultation failed: %v", err)
	}
	if got.Status != ConsultationActive {
		t.Errorf("status = %q, want Active", got.Status)
	}
	if got.UpdatedAt.Before(got.StartedAt) {
		t.Error("updated_at should not precede started_at")
	}

	if err := store.UpdateConsultationStatus(ctx, c.ID, "Paused"); err == nil {
		t.Error("expected error for invalid status")
	}
	if err := store.UpdateConsultationStatus(ctx, 9999, ConsultationCompleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing consultation, got %v", err)
	}
}

func TestCreateConsultation_UnknownPatient(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	err := store.CreateConsultation(context.Background(), &Consultation{PatientID: 42, ThreadID: "t"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateConsultation_DuplicateThread(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	p := createTestPatient(t, store, "dave@example.com")

	if err := store.CreateConsultation(ctx, &Consultation{PatientID: p.ID, ThreadID: "same"}); err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}
	if err := store.CreateConsultation(ctx, &Consultation{PatientID: p.ID, ThreadID: "same"}); err == nil {
		t.Error("expected error for duplicate thread ID")
	}
}

func TestListConsultations_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	p := createTestPatient(t, store, "erin@example.com")
	other := createTestPatient(t, store, "frank@example.com")

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"t1", "t2", "t3"} {
		c := &Consultation{PatientID: p.ID, ThreadID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateConsultation(ctx, c); err != nil {
			t.Fatalf("CreateConsultation(%s) failed: %v", id, err)
		}
	}
	if err := store.CreateConsultation(ctx, &Consultation{PatientID: other.ID, ThreadID: "t-other"}); err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}

	list, err := store.ListConsultations(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListConsultations failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("got %d consultations, want 3", len(list))
	}
	if list[0].ThreadID != "t3" || list[2].ThreadID != "t1" {
		t.Errorf("wrong order: %s, %s, %s", list[0].ThreadID, list[1].ThreadID, list[2].ThreadID)
	}
}

func TestLabOrdersResultsAndReports(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	p := createTestPatient(t, store, "gina@example.com")
	c := &Consultation{PatientID: p.ID, ThreadID: "lab-thread"}
	if err := store.CreateConsultation(ctx, c); err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}

	order := &LabOrder{ConsultationID: c.ID, TestName: "Complete Blood Count"}
	if err := store.CreateLabOrder(ctx, order); err != nil {
		t.Fatalf("CreateLabOrder failed: %v", err)
	}
	if order.Status != LabOrderPending {
		t.Errorf("default lab order status = %q, want Pending", order.Status)
	}
	if err := store.CreateLabOrder(ctx, &LabOrder{ConsultationID: c.ID, TestName: "x", Status: "Lost"}); err == nil {
		t.Error("expected error for invalid lab order status")
	}

	if err := store.CreateLabResult(ctx, &LabResult{OrderID: order.ID, Findings: "Normal"}); err != nil {
		t.Fatalf("CreateLabResult failed: %v", err)
	}
	if err := store.CreateLabResult(ctx, &LabResult{OrderID: 999, Findings: "orphan"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing order, got %v", err)
	}

	report := &MedicalReport{ConsultationID: c.ID, Diagnosis: "Viral fever", Treatment: "Rest and fluids"}
	if err := store.CreateMedicalReport(ctx, report); err != nil {
		t.Fatalf("CreateMedicalReport failed: %v", err)
	}

	orders, err := store.ListLabOrders(ctx, c.ID)
	if err != nil || len(orders) != 1 {
		t.Fatalf("ListLabOrders = %v, %v", orders, err)
	}
	results, err := store.ListLabResults(ctx, order.ID)
	if err != nil || len(results) != 1 || results[0].Findings != "Normal" {
		t.Fatalf("ListLabResults = %v, %v", results, err)
	}
	reports, err := store.ListMedicalReports(ctx, c.ID)
	if err != nil || len(reports) != 1 || reports[0].Diagnosis != "Viral fever" {
		t.Fatalf("ListMedicalReports = %v, %v", reports, err)
	}
}

// newTestStore creates a file-backed SQLite store in a temp directory
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

func createTestPatient(t *testing.T, s Store, email string) *Patient {
	t.Helper()

	p := &Patient{Email: email, PasswordHash: "hash", Name: "Test Patient"}
	if err := s.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("CreatePatient(%s) failed: %v", email, err)
	}
	return p
}

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("/data/consult.db")
	want := "/data/consult.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if got != want {
		t.Errorf("sqliteDSN(file) = %q, want %q", got, want)
	}

	got = sqliteDSN(":memory:")
	want = ":memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if got != want {
		t.Errorf("sqliteDSN(:memory:) = %q, want %q", got, want)
	}
}

// holdConn checks out one pool connection for the rest of the test so
// store calls are served by a second one.
func holdConn(t *testing.T, s *SQLStore) *sql.Conn {
	t.Helper()

	conn, err := s.db.Conn(context.Background())
	if err != nil {
		t.Fatalf("checking out connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	var fk int
	if err := conn.QueryRowContext(context.Background(), "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("reading foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d on held connection, want 1", fk)
	}
	return conn
}

func countRows(t *testing.T, conn *sql.Conn, table string) int {
	t.Helper()

	var n int
	if err := conn.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestForeignKeys_EnforcedOnEveryConnection(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	held := holdConn(t, store)

	// the store's own statements now run on another connection
	var fk int
	if err := store.queryRow(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		t.Fatalf("foreign_keys on second connection = %d, %v", fk, err)
	}

	if err := store.CreateLabOrder(ctx, &LabOrder{ConsultationID: 424242, TestName: "CBC"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan CreateLabOrder error = %v, want ErrNotFound", err)
	}
	if err := store.CreateLabResult(ctx, &LabResult{OrderID: 424242, Findings: "n/a"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan CreateLabResult error = %v, want ErrNotFound", err)
	}
	if err := store.CreateMedicalReport(ctx, &MedicalReport{ConsultationID: 424242, Diagnosis: "n/a"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan CreateMedicalReport error = %v, want ErrNotFound", err)
	}
	if err := store.SaveConsultationEvent(ctx, &ConsultationEvent{ConsultationID: 424242, ThreadID: "t", Type: EventThread}); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan SaveConsultationEvent error = %v, want ErrNotFound", err)
	}
	if err := store.CreateConsultation(ctx, &Consultation{PatientID: 424242, ThreadID: "orphan"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan CreateConsultation error = %v, want ErrNotFound", err)
	}

	for _, table := range []string{"consultations", "lab_orders", "lab_results", "medical_reports", "consultation_events"} {
		if n := countRows(t, held, table); n != 0 {
			t.Errorf("%s has %d orphan rows", table, n)
		}
	}
}

// seedConsultationTree creates a consultation with one of every child record.
func seedConsultationTree(t *testing.T, s *SQLStore, patientID int64, threadID string) *Consultation {
	t.Helper()
	ctx := context.Background()

	c := &Consultation{PatientID: patientID, ThreadID: threadID}
	if err := s.CreateConsultation(ctx, c); err != nil {
		t.Fatalf("CreateConsultation failed: %v", err)
	}
	order := &LabOrder{ConsultationID: c.ID, TestName: "Complete Blood Count"}
	if err := s.CreateLabOrder(ctx, order); err != nil {
		t.Fatalf("CreateLabOrder failed: %v", err)
	}
	if err := s.CreateLabResult(ctx, &LabResult{OrderID: order.ID, Findings: "Normal"}); err != nil {
		t.Fatalf("CreateLabResult failed: %v", err)
	}
	if err := s.CreateMedicalReport(ctx, &MedicalReport{ConsultationID: c.ID, Diagnosis: "Cold", Treatment: "Rest"}); err != nil {
		t.Fatalf("CreateMedicalReport failed: %v", err)
	}
	if err := s.SaveConsultationEvent(ctx, &ConsultationEvent{ConsultationID: c.ID, ThreadID: threadID, Type: EventThread}); err != nil {
		t.Fatalf("SaveConsultationEvent failed: %v", err)
	}
	return c
}

func TestDeletePatient_Cascades(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	held := holdConn(t, store)

	p := createTestPatient(t, store, "cascade@example.com")
	seedConsultationTree(t, store, p.ID, "thread-cascade")

	if _, err := store.exec(ctx, "DELETE FROM patients WHERE patient_id = ?", p.ID); err != nil {
		t.Fatalf("deleting patient: %v", err)
	}

	for _, table := range []string{"consultations", "lab_orders", "lab_results", "medical_reports", "consultation_events"} {
		if n := countRows(t, held, table); n != 0 {
			t.Errorf("%s still has %d rows after patient delete", table, n)
		}
	}
}

func TestDeleteConsultation(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()
	ctx := context.Background()

	held := holdConn(t, store)

	p := createTestPatient(t, store, "rollback@example.com")
	gone := seedConsultationTree(t, store, p.ID, "thread-gone")
	kept := seedConsultationTree(t, store, p.ID, "thread-kept")

	if err := store.DeleteConsultation(ctx, gone.ID); err != nil {
		t.Fatalf("DeleteConsultation failed: %v", err)
	}
	if _, err := store.GetConsultation(ctx, gone.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConsultation after delete error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetConsultation(ctx, kept.ID); err != nil {
		t.Errorf("sibling consultation lost: %v", err)
	}

	for _, table := range []string{"consultations", "lab_orders", "lab_results", "medical_reports", "consultation_events"} {
		if n := countRows(t, held, table); n != 1 {
			t.Errorf("%s has %d rows, want only the sibling's", table, n)
		}
	}

	if err := store.DeleteConsultation(ctx, gone.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteConsultation error = %v, want ErrNotFound", err)
	}
}
