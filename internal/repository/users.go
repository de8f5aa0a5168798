package repository

import (
	"context"

	"github.com/jmorallos/registrar-portal/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, email, student_number, first_name, last_name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.StudentNumber, user.FirstName, user.LastName, user.Role, user.PasswordHash, user.CreatedAt)
	return err
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	return s.scanUser(ctx, `
		SELECT id, email, student_number, first_name, last_name, role, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.scanUser(ctx, `
		SELECT id, email, student_number, first_name, last_name, role, password_hash, created_at
		FROM users
		WHERE email = $1
	`, email)
}

func (s *Store) GetUserByStudentNumber(ctx context.Context, studentNumber string) (model.User, error) {
	return s.scanUser(ctx, `
		SELECT id, email, student_number, first_name, last_name, role, password_hash, created_at
		FROM users
		WHERE student_number = $1
	`, studentNumber)
}

// GetUserForUpdate locks the user's row for the rest of the transaction.
// The request-cap check-then-insert runs under this lock so two concurrent
// creates for the same student serialize instead of both passing the count.
func (s *Store) GetUserForUpdate(ctx context.Context, userID string) (model.User, error) {
	return s.scanUser(ctx, `
		SELECT id, email, student_number, first_name, last_name, role, password_hash, created_at
		FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID)
}

func (s *Store) scanUser(ctx context.Context, query string, arg any) (model.User, error) {
	var user model.User
	row := s.db.QueryRow(ctx, query, arg)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.StudentNumber,
		&user.FirstName,
		&user.LastName,
		&user.Role,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	return user, err
}
