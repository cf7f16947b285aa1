// ABOUTME: Lab order, lab result and medical report persistence
// ABOUTME: Records hang off a consultation and cascade when it is deleted

package store

import (
	"context"
	"fmt"
)

// CreateLabOrder inserts a lab order. Status defaults to Pending.
func (s *SQLStore) CreateLabOrder(ctx context.Context, o *LabOrder) error {
	if o.Status == "" {
		o.Status = LabOrderPending
	}
	switch o.Status {
	case LabOrderPending, LabOrderCompleted, LabOrderCancelled:
	default:
		return fmt.Errorf("invalid lab order status %q", o.Status)
	}

	err := s.queryRow(ctx, `
		INSERT INTO lab_orders (consultation_id, test_name, status) VALUES (?, ?, ?)
		RETURNING order_id
	`, o.ConsultationID, o.TestName, string(o.Status)).Scan(&o.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting lab order: %w", err)
	}
	return nil
}

// ListLabOrders returns the lab orders for a consultation
func (s *SQLStore) ListLabOrders(ctx context.Context, consultationID int64) ([]*LabOrder, error) {
	rows, err := s.query(ctx, `
		SELECT order_id, consultation_id, test_name, status
		FROM lab_orders WHERE consultation_id = ? ORDER BY order_id
	`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("querying lab orders: %w", err)
	}
	defer rows.Close()

	var out []*LabOrder
	for rows.Next() {
		var o LabOrder
		var status string
		if err := rows.Scan(&o.ID, &o.ConsultationID, &o.TestName, &status); err != nil {
			return nil, fmt.Errorf("scanning lab order: %w", err)
		}
		o.Status = LabOrderStatus(status)
		out = append(out, &o)
	}
	return out, rows.Err()
}

// CreateLabResult inserts findings for a lab order
func (s *SQLStore) CreateLabResult(ctx context.Context, r *LabResult) error {
	err := s.queryRow(ctx, `
		INSERT INTO lab_results (order_id, findings) VALUES (?, ?)
		RETURNING result_id
	`, r.OrderID, r.Findings).Scan(&r.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting lab result: %w", err)
	}
	return nil
}

// ListLabResults returns the results recorded for a lab order
func (s *SQLStore) ListLabResults(ctx context.Context, orderID int64) ([]*LabResult, error) {
	rows, err := s.query(ctx, `
		SELECT result_id, order_id, findings FROM lab_results WHERE order_id = ? ORDER BY result_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("querying lab results: %w", err)
	}
	defer rows.Close()

	var out []*LabResult
	for rows.Next() {
		var r LabResult
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Findings); err != nil {
			return nil, fmt.Errorf("scanning lab result: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CreateMedicalReport inserts a report for a consultation
func (s *SQLStore) CreateMedicalReport(ctx context.Context, r *MedicalReport) error {
	err := s.queryRow(ctx, `
		INSERT INTO medical_reports (consultation_id, diagnosis, treatment) VALUES (?, ?, ?)
		RETURNING report_id
	`, r.ConsultationID, r.Diagnosis, r.Treatment).Scan(&r.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting medical report: %w", err)
	}
	return nil
}

// ListMedicalReports returns the reports for a consultation
func (s *SQLStore) ListMedicalReports(ctx context.Context, consultationID int64) ([]*MedicalReport, error) {
	rows, err := s.query(ctx, `
		SELECT report_id, consultation_id, diagnosis, treatment
		FROM medical_reports WHERE consultation_id = ? ORDER BY report_id
	`, consultationID)
	if err != nil {
		return nil, fmt.Errorf("querying medical reports: %w", err)
	}
	defer rows.Close()

	var out []*MedicalReport
	for rows.Next() {
		var r MedicalReport
		if err := rows.Scan(&r.ID, &r.ConsultationID, &r.Diagnosis, &r.Treatment); err != nil {
			return nil, fmt.Errorf("scanning medical report: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
