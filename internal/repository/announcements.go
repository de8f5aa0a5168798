package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jmorallos/registrar-portal/internal/model"
)

const announcementColumns = `id, title, body, expiry_date, active, created_at, created_by, updated_at`

func (s *Store) CreateAnnouncement(ctx context.Context, announcement model.Announcement) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO announcements (id, title, body, expiry_date, active, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, announcement.ID, announcement.Title, announcement.Body, announcement.ExpiryDate,
		announcement.Active, announcement.CreatedAt, announcement.CreatedBy)
	return err
}

type AnnouncementUpdate struct {
	Title      *string
	Body       *string
	ExpiryDate *time.Time
	Active     *bool
}

// UpdateAnnouncement merges only the provided fields, mirroring the shallow
// merge the update endpoint promises. Returns pgx.ErrNoRows for unknown ids.
func (s *Store) UpdateAnnouncement(ctx context.Context, announcementID string, update AnnouncementUpdate) (model.Announcement, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE announcements
		SET title = COALESCE($1, title),
		    body = COALESCE($2, body),
		    expiry_date = COALESCE($3, expiry_date),
		    active = COALESCE($4, active),
		    updated_at = now()
		WHERE id = $5
		RETURNING `+announcementColumns+`
	`, update.Title, update.Body, update.ExpiryDate, update.Active, announcementID)
	return scanAnnouncementRow(row)
}

func (s *Store) DeleteAnnouncement(ctx context.Context, announcementID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM announcements WHERE id = $1`, announcementID)
	return err
}

// ListActiveAnnouncements returns active, unexpired announcements for the
// public listing, newest first.
func (s *Store) ListActiveAnnouncements(ctx context.Context, now time.Time) ([]model.Announcement, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+announcementColumns+`
		FROM announcements
		WHERE active = true AND expiry_date > $1
		ORDER BY created_at DESC
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	announcements := []model.Announcement{}
	for rows.Next() {
		announcement, err := scanAnnouncementRow(rows)
		if err != nil {
			return nil, err
		}
		announcements = append(announcements, announcement)
	}
	return announcements, rows.Err()
}

func scanAnnouncementRow(row pgx.Row) (model.Announcement, error) {
	var announcement model.Announcement
	err := row.Scan(
		&announcement.ID,
		&announcement.Title,
		&announcement.Body,
		&announcement.ExpiryDate,
		&announcement.Active,
		&announcement.CreatedAt,
		&announcement.CreatedBy,
		&announcement.UpdatedAt,
	)
	return announcement, err
}
