// ABOUTME: SQL dialect definitions for the SQLite and PostgreSQL backends
// ABOUTME: Holds per-dialect schema text and placeholder rebinding for shared queries

package store

import (
	"errors"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// dialect captures the differences between the supported databases.
// Queries are written once with ? placeholders and rebound per dialect.
type dialect struct {
	name   string
	driver string
	schema string
}

// timeLayout is fixed-width so timestamps stored as text sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var sqliteDialect = dialect{
	name:   "sqlite",
	driver: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS patients (
			patient_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			age           INTEGER,
			gender        TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS doctors (
			doctor_id INTEGER PRIMARY KEY AUTOINCREMENT,
			name      TEXT NOT NULL UNIQUE,
			specialty TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consultations (
			consultation_id INTEGER PRIMARY KEY AUTOINCREMENT,
			patient_id      INTEGER NOT NULL REFERENCES patients(patient_id) ON DELETE CASCADE,
			thread_id       TEXT NOT NULL UNIQUE,
			status          TEXT NOT NULL DEFAULT 'Triage',
			started_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			CHECK (status IN ('Triage', 'Active', 'Completed'))
		);

		CREATE INDEX IF NOT EXISTS idx_consultations_patient ON consultations(patient_id);

		CREATE TABLE IF NOT EXISTS lab_orders (
			order_id        INTEGER PRIMARY KEY AUTOINCREMENT,
			consultation_id INTEGER NOT NULL REFERENCES consultations(consultation_id) ON DELETE CASCADE,
			test_name       TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'Pending'
		);

		CREATE INDEX IF NOT EXISTS idx_lab_orders_consultation ON lab_orders(consultation_id);

		CREATE TABLE IF NOT EXISTS lab_results (
			result_id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id  INTEGER NOT NULL REFERENCES lab_orders(order_id) ON DELETE CASCADE,
			findings  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS medical_reports (
			report_id       INTEGER PRIMARY KEY AUTOINCREMENT,
			consultation_id INTEGER NOT NULL REFERENCES consultations(consultation_id) ON DELETE CASCADE,
			diagnosis       TEXT NOT NULL,
			treatment       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consultation_events (
			event_id        TEXT PRIMARY KEY,
			consultation_id INTEGER NOT NULL REFERENCES consultations(consultation_id) ON DELETE CASCADE,
			thread_id       TEXT NOT NULL,
			type            TEXT NOT NULL,
			payload         TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			CHECK (type IN ('thread', 'tool', 'message', 'ask_user', 'final', 'error', 'reply'))
		);

		CREATE INDEX IF NOT EXISTS idx_consultation_events_consultation
			ON consultation_events(consultation_id, created_at);
	`,
}

var postgresDialect = dialect{
	name:   "postgres",
	driver: "postgres",
	schema: `
		CREATE TABLE IF NOT EXISTS patients (
			patient_id    BIGSERIAL PRIMARY KEY,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name          TEXT NOT NULL,
			age           INTEGER,
			gender        TEXT,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS doctors (
			doctor_id BIGSERIAL PRIMARY KEY,
			name      TEXT NOT NULL UNIQUE,
			specialty TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consultations (
			consultation_id BIGSERIAL PRIMARY KEY,
			patient_id      BIGINT NOT NULL REFERENCES patients(patient_id) ON DELETE CASCADE,
			thread_id       TEXT NOT NULL UNIQUE,
			status          TEXT NOT NULL DEFAULT 'Triage',
			started_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL,

			CHECK (status IN ('Triage', 'Active', 'Completed'))
		);

		CREATE INDEX IF NOT EXISTS idx_consultations_patient ON consultations(patient_id);

		CREATE TABLE IF NOT EXISTS lab_orders (
			order_id        BIGSERIAL PRIMARY KEY,
			consultation_id BIGINT NOT NULL REFERENCES consultations(consultation_id) ON DELETE CASCADE,
			test_name       TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'Pending'
		);

		CREATE INDEX IF NOT EXISTS idx_lab_orders_consultation ON lab_orders(consultation_id);

		CREATE TABLE IF NOT EXISTS lab_results (
			result_id BIGSERIAL PRIMARY KEY,
			order_id  BIGINT NOT NULL REFERENCES lab_orders(order_id) ON DELETE CASCADE,
			findings  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS medical_reports (
			report_id       BIGSERIAL PRIMARY KEY,
			consultation_id BIGINT NOT NULL REFERENCES consultations(consultation_id) ON DELETE CASCADE,
			diagnosis       TEXT NOT NULL,
			treatment       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consultation_events (
			event_id        TEXT PRIMARY KEY,
			consultation_id BIGINT NOT NULL REFERENCES consultations(consultation_id) ON DELETE CASCADE,
			thread_id       TEXT NOT NULL,
			type            TEXT NOT NULL,
			payload         TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			CHECK (type IN ('thread', 'tool', 'message', 'ask_user', 'final', 'error', 'reply'))
		);

		CREATE INDEX IF NOT EXISTS idx_consultation_events_consultation
			ON consultation_events(consultation_id, created_at);
	`,
}

// rebind rewrites ? placeholders into the dialect's native form.
func (d dialect) rebind(query string) string {
	if d.name != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation checks for a unique constraint failure on either backend
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks for a missing parent row on either backend
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
