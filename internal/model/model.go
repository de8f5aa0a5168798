package model

import "time"

// SenderSystem is the sender id used for automated messages.
const SenderSystem = "system"

type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	StudentNumber *string   `json:"studentId,omitempty"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Role          string    `json:"role"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type DocumentRequest struct {
	ID           string    `json:"id"`
	StudentID    string    `json:"studentId"`
	StudentName  string    `json:"studentName"`
	DocumentType string    `json:"documentType"`
	Quantity     int       `json:"quantity"`
	PricePerCopy int       `json:"pricePerCopy"`
	Total        int       `json:"total"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderRole     string    `json:"senderRole"`
	Text           string    `json:"text"`
	FileURL        *string   `json:"fileUrl,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// ConversationSummary is a request with its latest message attached. The
// request fields stay at the top level of the JSON payload.
type ConversationSummary struct {
	DocumentRequest
	LastMessage *Message `json:"lastMessage"`
	UnreadCount int      `json:"unreadCount"`
}

type SupportTicket struct {
	ID            string    `json:"id"`
	StudentID     string    `json:"studentId"`
	StudentName   string    `json:"studentName"`
	Subject       string    `json:"subject"`
	Description   string    `json:"description"`
	AttachmentURL *string   `json:"attachmentUrl,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Announcement struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	ExpiryDate time.Time  `json:"expiryDate"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"createdAt"`
	CreatedBy  string     `json:"createdBy"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

type RefreshSession struct {
	ID        string
	UserID    string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}
