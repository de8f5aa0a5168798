package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/jmorallos/registrar-portal/internal/model"
)

const ticketColumns = `id, student_id, student_name, subject, description, attachment_url, status, created_at, updated_at`

func (s *Store) CreateTicket(ctx context.Context, ticket model.SupportTicket) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tickets (id, student_id, student_name, subject, description, attachment_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ticket.ID, ticket.StudentID, ticket.StudentName, ticket.Subject, ticket.Description,
		ticket.AttachmentURL, ticket.Status, ticket.CreatedAt, ticket.UpdatedAt)
	return err
}

// UpdateTicketStatus accepts any status value, same as request updates.
func (s *Store) UpdateTicketStatus(ctx context.Context, ticketID, status string) (model.SupportTicket, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+ticketColumns+`
	`, status, ticketID)
	return scanTicketRow(row)
}

func (s *Store) ListTicketsByStudent(ctx context.Context, studentID string) ([]model.SupportTicket, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE student_id = $1 ORDER BY created_at DESC
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func (s *Store) ListAllTickets(ctx context.Context) ([]model.SupportTicket, error) {
	rows, err := s.db.Query(ctx, `SELECT `+ticketColumns+` FROM tickets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTickets(rows)
}

func scanTicketRow(row pgx.Row) (model.SupportTicket, error) {
	var ticket model.SupportTicket
	err := row.Scan(
		&ticket.ID,
		&ticket.StudentID,
		&ticket.StudentName,
		&ticket.Subject,
		&ticket.Description,
		&ticket.AttachmentURL,
		&ticket.Status,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	return ticket, err
}

func collectTickets(rows pgx.Rows) ([]model.SupportTicket, error) {
	tickets := []model.SupportTicket{}
	for rows.Next() {
		ticket, err := scanTicketRow(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}
