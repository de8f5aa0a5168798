package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jmorallos/registrar-portal/internal/model"
)

const requestColumns = `id, student_id, student_name, document_type, quantity, price_per_copy, total, status, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, request model.DocumentRequest) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO requests (id, student_id, student_name, document_type, quantity, price_per_copy, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, request.ID, request.StudentID, request.StudentName, request.DocumentType, request.Quantity,
		request.PricePerCopy, request.Total, request.Status, request.CreatedAt, request.UpdatedAt)
	return err
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (model.DocumentRequest, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, requestID)
	return scanRequestRow(row)
}

// CountActiveRequests counts requests not yet completed for one student.
func (s *Store) CountActiveRequests(ctx context.Context, studentID string) (int, error) {
	var count int
	row := s.db.QueryRow(ctx, `
		SELECT count(*) FROM requests WHERE student_id = $1 AND status <> 'completed'
	`, studentID)
	err := row.Scan(&count)
	return count, err
}

// UpdateRequestStatus accepts any status value; transition ordering is not
// enforced. Returns pgx.ErrNoRows for an unknown id.
func (s *Store) UpdateRequestStatus(ctx context.Context, requestID, status string) (model.DocumentRequest, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE requests
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+requestColumns+`
	`, status, requestID)
	return scanRequestRow(row)
}

func (s *Store) ListRequestsByStudent(ctx context.Context, studentID string) ([]model.DocumentRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+requestColumns+` FROM requests WHERE student_id = $1 ORDER BY created_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *Store) ListAllRequests(ctx context.Context) ([]model.DocumentRequest, error) {
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+` FROM requests ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func scanRequestRow(row pgx.Row) (model.DocumentRequest, error) {
	var request model.DocumentRequest
	err := row.Scan(
		&request.ID,
		&request.StudentID,
		&request.StudentName,
		&request.DocumentType,
		&request.Quantity,
		&request.PricePerCopy,
		&request.Total,
		&request.Status,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	return request, err
}

func collectRequests(rows pgx.Rows) ([]model.DocumentRequest, error) {
	requests := []model.DocumentRequest{}
	for rows.Next() {
		request, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, rows.Err()
}
