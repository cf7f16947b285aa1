// ABOUTME: Patient and doctor persistence for the SQL store
// ABOUTME: Emails are stored lowercased and are unique across patients

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultDoctors is the roster of virtual specialists seeded on startup.
var DefaultDoctors = []Doctor{
	{Name: "AI-General Practitioner", Specialty: "General Practice"},
	{Name: "AI-Ophthalmologist", Specialty: "Ophthalmology"},
	{Name: "AI-Pediatrician", Specialty: "Pediatrics"},
	{Name: "AI-Orthopedist", Specialty: "Orthopedics"},
	{Name: "AI-Dermatologist", Specialty: "Dermatology"},
	{Name: "AI-ENT Specialist", Specialty: "Otorhinolaryngology"},
	{Name: "AI-Gynecologist", Specialty: "Gynecology"},
	{Name: "AI-Psychiatrist", Specialty: "Psychiatry"},
	{Name: "AI-Internal Medicine Specialist", Specialty: "Internal Medicine"},
	{Name: "AI-Pathologist", Specialty: "Pathology"},
	{Name: "AI-Radiologist", Specialty: "Radiology"},
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreatePatient inserts a new patient and fills in its ID.
// Returns ErrDuplicateEmail if the email is already registered.
func (s *SQLStore) CreatePatient(ctx context.Context, p *Patient) error {
	p.Email = NormalizeEmail(p.Email)
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO patients (email, password_hash, name, age, gender, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING patient_id
	`

	err := s.queryRow(ctx, query,
		p.Email,
		p.PasswordHash,
		p.Name,
		nullInt(p.Age),
		nullString(p.Gender),
		formatTime(p.CreatedAt),
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting patient: %w", err)
	}

	s.logger.Debug("created patient", "patient_id", p.ID)
	return nil
}

// GetPatient retrieves a patient by ID
func (s *SQLStore) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.scanPatient(s.queryRow(ctx, `
		SELECT patient_id, email, password_hash, name, age, gender, created_at
		FROM patients WHERE patient_id = ?
	`, id))
}

// GetPatientByEmail retrieves a patient by email, case-insensitively
func (s *SQLStore) GetPatientByEmail(ctx context.Context, email string) (*Patient, error) {
	return s.scanPatient(s.queryRow(ctx, `
		SELECT patient_id, email, password_hash, name, age, gender, created_at
		FROM patients WHERE email = ?
	`, NormalizeEmail(email)))
}

func (s *SQLStore) scanPatient(row *sql.Row) (*Patient, error) {
	var p Patient
	var age sql.NullInt64
	var gender sql.NullString
	var createdAt string

	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Name, &age, &gender, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying patient: %w", err)
	}

	if age.Valid {
		a := int(age.Int64)
		p.Age = &a
	}
	p.Gender = gender.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// SeedDoctors inserts the default doctor roster, skipping names already present
func (s *SQLStore) SeedDoctors(ctx context.Context) error {
	for _, d := range DefaultDoctors {
		_, err := s.exec(ctx, `
			INSERT INTO doctors (name, specialty) VALUES (?, ?)
			ON CONFLICT (name) DO NOTHING
		`, d.Name, d.Specialty)
		if err != nil {
			return fmt.Errorf("seeding doctor %q: %w", d.Name, err)
		}
	}
	return nil
}

// ListDoctors returns all doctors ordered by ID
func (s *SQLStore) ListDoctors(ctx context.Context) ([]*Doctor, error) {
	rows, err := s.query(ctx, `SELECT doctor_id, name, specialty FROM doctors ORDER BY doctor_id`)
	if err != nil {
		return nil, fmt.Errorf("querying doctors: %w", err)
	}
	defer rows.Close()

	var doctors []*Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty); err != nil {
			return nil, fmt.Errorf("scanning doctor: %w", err)
		}
		doctors = append(doctors, &d)
	}
	return doctors, rows.Err()
}
