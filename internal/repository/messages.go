package repository

import (
	"context"
	"time"

	"github.com/jmorallos/registrar-portal/internal/model"
)

func (s *Store) CreateMessage(ctx context.Context, message model.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_role, body, file_url, sent_at, read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, message.ID, message.ConversationID, message.SenderID, message.SenderName, message.SenderRole,
		message.Text, message.FileURL, message.Timestamp, message.Read)
	return err
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, sender_role, body, file_url, sent_at, read
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at ASC, id ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var message model.Message
		err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.SenderName,
			&message.SenderRole,
			&message.Text,
			&message.FileURL,
			&message.Timestamp,
			&message.Read,
		)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}

// ListConversations returns the requests visible to the viewer with each
// one's latest message and unread count. Newest-message threads come first;
// threads with no messages sort last. Pass a nil studentID for the admin
// (all requests) view.
func (s *Store) ListConversations(ctx context.Context, viewerID string, studentID *string) ([]model.ConversationSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.student_id, r.student_name, r.document_type, r.quantity, r.price_per_copy,
		       r.total, r.status, r.created_at, r.updated_at,
		       m.id, m.sender_id, m.sender_name, m.sender_role, m.body, m.file_url, m.sent_at, m.read,
		       COALESCE(u.unread, 0)
		FROM requests r
		LEFT JOIN LATERAL (
			SELECT id, sender_id, sender_name, sender_role, body, file_url, sent_at, read
			FROM messages
			WHERE conversation_id = r.id
			ORDER BY sent_at DESC, id DESC
			LIMIT 1
		) m ON true
		LEFT JOIN LATERAL (
			SELECT count(*) AS unread
			FROM messages
			WHERE conversation_id = r.id AND read = false AND sender_id <> $1
		) u ON true
		WHERE $2::uuid IS NULL OR r.student_id = $2::uuid
		ORDER BY m.sent_at DESC NULLS LAST, r.created_at DESC
	`, viewerID, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []model.ConversationSummary{}
	for rows.Next() {
		var summary model.ConversationSummary
		var (
			msgID         *string
			msgSenderID   *string
			msgSenderName *string
			msgSenderRole *string
			msgText       *string
			msgFileURL    *string
			msgSentAt     *time.Time
			msgRead       *bool
		)
		err := rows.Scan(
			&summary.ID,
			&summary.StudentID,
			&summary.StudentName,
			&summary.DocumentType,
			&summary.Quantity,
			&summary.PricePerCopy,
			&summary.Total,
			&summary.Status,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&msgID,
			&msgSenderID,
			&msgSenderName,
			&msgSenderRole,
			&msgText,
			&msgFileURL,
			&msgSentAt,
			&msgRead,
			&summary.UnreadCount,
		)
		if err != nil {
			return nil, err
		}
		if msgID != nil {
			summary.LastMessage = &model.Message{
				ID:             *msgID,
				ConversationID: summary.DocumentRequest.ID,
				SenderID:       *msgSenderID,
				SenderName:     *msgSenderName,
				SenderRole:     *msgSenderRole,
				Text:           *msgText,
				FileURL:        msgFileURL,
				Timestamp:      *msgSentAt,
				Read:           *msgRead,
			}
		}
		conversations = append(conversations, summary)
	}
	return conversations, rows.Err()
}
