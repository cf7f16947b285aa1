// ABOUTME: Consultation persistence for the SQL store
// ABOUTME: Each consultation maps one engine thread to the patient that started it

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateConsultation inserts a consultation and fills in its ID.
// A missing patient yields ErrNotFound.
func (s *SQLStore) CreateConsultation(ctx context.Context, c *Consultation) error {
	now := time.Now().UTC()
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.StartedAt
	}
	if c.Status == "" {
		c.Status = ConsultationTriage
	}
	if !c.Status.Valid() {
		return fmt.Errorf("invalid consultation status %q", c.Status)
	}

	query := `
		INSERT INTO consultations (patient_id, thread_id, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING consultation_id
	`

	err := s.queryRow(ctx, query,
		c.PatientID,
		c.ThreadID,
		string(c.Status),
		formatTime(c.StartedAt),
		formatTime(c.UpdatedAt),
	).Scan(&c.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("thread %s already has a consultation: %w", c.ThreadID, err)
		}
		return fmt.Errorf("inserting consultation: %w", err)
	}

	s.logger.Debug("created consultation",
		"consultation_id", c.ID,
		"patient_id", c.PatientID,
		"thread_id", c.ThreadID,
	)
	return nil
}

const consultationColumns = `consultation_id, patient_id, thread_id, status, started_at, updated_at`

// GetConsultation retrieves a consultation by ID
func (s *SQLStore) GetConsultation(ctx context.Context, id int64) (*Consultation, error) {
	row := s.queryRow(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE consultation_id = ?`, id)
	return scanConsultation(row)
}

// GetConsultationByThread retrieves the consultation bound to an engine thread
func (s *SQLStore) GetConsultationByThread(ctx context.Context, threadID string) (*Consultation, error) {
	row := s.queryRow(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE thread_id = ?`, threadID)
	return scanConsultation(row)
}

// ListConsultations returns a patient's consultations, newest first
func (s *SQLStore) ListConsultations(ctx context.Context, patientID int64) ([]*Consultation, error) {
	rows, err := s.query(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE patient_id = ?
		ORDER BY started_at DESC, consultation_id DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("querying consultations: %w", err)
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConsultationStatus sets the status and bumps updated_at
func (s *SQLStore) UpdateConsultationStatus(ctx context.Context, id int64, status ConsultationStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid consultation status %q", status)
	}

	result, err := s.exec(ctx, `
		UPDATE consultations SET status = ?, updated_at = ? WHERE consultation_id = ?
	`, string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating consultation: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteConsultation removes a consultation. Its ledger, lab orders,
// results and reports go with it through ON DELETE CASCADE.
func (s *SQLStore) DeleteConsultation(ctx context.Context, id int64) error {
	result, err := s.exec(ctx, `DELETE FROM consultations WHERE consultation_id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting consultation: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsultation(row rowScanner) (*Consultation, error) {
	var c Consultation
	var status, startedAt, updatedAt string

	err := row.Scan(&c.ID, &c.PatientID, &c.ThreadID, &status, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning consultation: %w", err)
	}

	c.Status = ConsultationStatus(status)
	c.StartedAt = parseTime(startedAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}
