package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jmorallos/registrar-portal/internal/auth"
	"github.com/jmorallos/registrar-portal/internal/config"
	internalcrypto "github.com/jmorallos/registrar-portal/internal/crypto"
	"github.com/jmorallos/registrar-portal/internal/db"
	internalhttp "github.com/jmorallos/registrar-portal/internal/http"
	"github.com/jmorallos/registrar-portal/internal/model"
	"github.com/jmorallos/registrar-portal/internal/repository"
)

type loginResponse struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         model.User `json:"user"`
}

type requestEnvelope struct {
	Request model.DocumentRequest `json:"request"`
	Message model.Message         `json:"message"`
}

type messagesEnvelope struct {
	Messages []model.Message `json:"messages"`
}

type conversationsEnvelope struct {
	Conversations []model.ConversationSummary `json:"conversations"`
}

type ticketEnvelope struct {
	Ticket model.SupportTicket `json:"ticket"`
}

type announcementEnvelope struct {
	Announcement model.Announcement `json:"announcement"`
}

type announcementsEnvelope struct {
	Announcements []model.Announcement `json:"announcements"`
}

type errorEnvelope struct {
	Error string `json:"error"`
}

func TestPortalEndToEnd(t *testing.T) {
	pool, cfg := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	adminEmail := seedAdmin(t, store)

	server := internalhttp.NewServer(cfg, store, nil, zap.NewNop())
	app := httptest.NewServer(server.Router())
	defer app.Close()

	suffix := time.Now().Format("150405.000000")
	studentEmail := "student." + suffix + "@example.local"

	// Signup and login.
	resp := doReq(t, http.MethodPost, app.URL+"/signup", "", map[string]any{
		"email":     studentEmail,
		"studentId": "2026-" + suffix,
		"firstName": "Maria",
		"lastName":  "Santos",
		"password":  "dev-password",
	})
	expectStatus(t, resp, http.StatusOK)

	// Re-registering the same email is rejected, case-insensitively.
	resp = doReq(t, http.MethodPost, app.URL+"/signup", "", map[string]any{
		"email":     strings.ToUpper(studentEmail),
		"studentId": "2026-dup-" + suffix,
		"firstName": "Maria",
		"lastName":  "Santos",
		"password":  "dev-password",
	})
	var dupErr errorEnvelope
	decodeBodyStatus(t, resp, http.StatusBadRequest, &dupErr)
	if dupErr.Error != "Email already registered" {
		t.Fatalf("unexpected duplicate signup error: %q", dupErr.Error)
	}

	var studentLogin loginResponse
	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]any{
		"email":    studentEmail,
		"password": "dev-password",
	})
	decodeBody(t, resp, &studentLogin)
	if studentLogin.AccessToken == "" || studentLogin.User.Role != "student" {
		t.Fatalf("unexpected student login response")
	}

	var adminLogin loginResponse
	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]any{
		"email":    adminEmail,
		"password": "dev-password",
	})
	decodeBody(t, resp, &adminLogin)

	// Wrong password is rejected.
	resp = doReq(t, http.MethodPost, app.URL+"/login", "", map[string]any{
		"email":    studentEmail,
		"password": "wrong",
	})
	expectStatus(t, resp, http.StatusUnauthorized)

	// First request: tor, quantity 1 at 150 per copy.
	var first requestEnvelope
	resp = doReq(t, http.MethodPost, app.URL+"/requests", studentLogin.AccessToken, map[string]any{
		"documentType": "tor",
		"quantity":     1,
	})
	decodeBody(t, resp, &first)
	if first.Request.Total != 150 || first.Request.Status != "pending" {
		t.Fatalf("expected total 150 pending, got total=%d status=%s", first.Request.Total, first.Request.Status)
	}
	if first.Message.SenderID != "system" {
		t.Fatalf("expected initial system message, got sender %s", first.Message.SenderID)
	}

	// Second request: quantity 2 doubles the total.
	var second requestEnvelope
	resp = doReq(t, http.MethodPost, app.URL+"/requests", studentLogin.AccessToken, map[string]any{
		"documentType": "diploma",
		"quantity":     2,
	})
	decodeBody(t, resp, &second)
	if second.Request.Total != 300 {
		t.Fatalf("expected total 300, got %d", second.Request.Total)
	}

	// Third request hits the active cap.
	resp = doReq(t, http.MethodPost, app.URL+"/requests", studentLogin.AccessToken, map[string]any{
		"documentType": "tor",
		"quantity":     1,
	})
	var capErr errorEnvelope
	decodeBodyStatus(t, resp, http.StatusBadRequest, &capErr)
	if capErr.Error != "Maximum 2 active requests allowed" {
		t.Fatalf("unexpected cap error: %q", capErr.Error)
	}

	// Student cannot update a request status.
	resp = doReq(t, http.MethodPut, app.URL+"/requests/"+first.Request.ID, studentLogin.AccessToken, map[string]any{
		"status": "ready",
	})
	expectStatus(t, resp, http.StatusUnauthorized)

	// Admin moves the first request to processing; a system message appears.
	resp = doReq(t, http.MethodPut, app.URL+"/requests/"+first.Request.ID, adminLogin.AccessToken, map[string]any{
		"status": "processing",
	})
	expectStatus(t, resp, http.StatusOK)

	var messages messagesEnvelope
	resp = doReq(t, http.MethodGet, app.URL+"/messages/"+first.Request.ID, studentLogin.AccessToken, nil)
	decodeBody(t, resp, &messages)
	if len(messages.Messages) != 2 {
		t.Fatalf("expected 2 messages after processing, got %d", len(messages.Messages))
	}
	if messages.Messages[1].Text != "Payment confirmed. Your request is now being processed." {
		t.Fatalf("unexpected status message: %q", messages.Messages[1].Text)
	}

	// Unknown and malformed request ids both update as 404.
	resp = doReq(t, http.MethodPut, app.URL+"/requests/"+uuid.NewString(), adminLogin.AccessToken, map[string]any{
		"status": "processing",
	})
	expectStatus(t, resp, http.StatusNotFound)
	resp = doReq(t, http.MethodPut, app.URL+"/requests/not-a-uuid", adminLogin.AccessToken, map[string]any{
		"status": "processing",
	})
	expectStatus(t, resp, http.StatusNotFound)

	// Student replies in the thread.
	resp = doReq(t, http.MethodPost, app.URL+"/messages", studentLogin.AccessToken, map[string]any{
		"conversationId": first.Request.ID,
		"text":           "Paid at the cashier, receipt attached.",
		"fileUrl":        "https://files.example.local/receipt.jpg",
	})
	expectStatus(t, resp, http.StatusOK)

	// Completing the request locks its conversation.
	resp = doReq(t, http.MethodPut, app.URL+"/requests/"+first.Request.ID, adminLogin.AccessToken, map[string]any{
		"status": "completed",
	})
	expectStatus(t, resp, http.StatusOK)

	resp = doReq(t, http.MethodPost, app.URL+"/messages", studentLogin.AccessToken, map[string]any{
		"conversationId": first.Request.ID,
		"text":           "One more thing...",
	})
	var lockedErr errorEnvelope
	decodeBodyStatus(t, resp, http.StatusBadRequest, &lockedErr)
	if lockedErr.Error != "Conversation is closed" {
		t.Fatalf("unexpected locked error: %q", lockedErr.Error)
	}

	// Messaging an unknown conversation 404s.
	resp = doReq(t, http.MethodPost, app.URL+"/messages", studentLogin.AccessToken, map[string]any{
		"conversationId": uuid.NewString(),
		"text":           "hello?",
	})
	expectStatus(t, resp, http.StatusNotFound)

	// Conversations: the completed thread has the newest message so it sorts
	// first; unread counts exclude the student's own messages.
	var conversations conversationsEnvelope
	resp = doReq(t, http.MethodGet, app.URL+"/conversations", studentLogin.AccessToken, nil)
	decodeBody(t, resp, &conversations)
	if len(conversations.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(conversations.Conversations))
	}
	top := conversations.Conversations[0]
	if top.ID != first.Request.ID {
		t.Fatalf("expected completed thread first, got %s", top.ID)
	}
	if top.LastMessage == nil || top.LastMessage.Text != "Request completed. Thank you!" {
		t.Fatalf("unexpected last message on top thread")
	}
	if top.UnreadCount != 3 {
		t.Fatalf("expected 3 unread system messages, got %d", top.UnreadCount)
	}

	// With the first request completed the cap frees up.
	resp = doReq(t, http.MethodPost, app.URL+"/requests", studentLogin.AccessToken, map[string]any{
		"documentType": "certification",
		"quantity":     1,
	})
	expectStatus(t, resp, http.StatusOK)

	// Tickets.
	var ticket ticketEnvelope
	resp = doReq(t, http.MethodPost, app.URL+"/tickets", studentLogin.AccessToken, map[string]any{
		"subject":     "Portal access",
		"description": "Cannot open my grades page.",
	})
	decodeBody(t, resp, &ticket)
	if ticket.Ticket.Status != "open" {
		t.Fatalf("expected open ticket, got %s", ticket.Ticket.Status)
	}

	resp = doReq(t, http.MethodPut, app.URL+"/tickets/"+ticket.Ticket.ID, adminLogin.AccessToken, map[string]any{
		"status": "resolved",
	})
	var resolved ticketEnvelope
	decodeBody(t, resp, &resolved)
	if resolved.Ticket.Status != "resolved" {
		t.Fatalf("expected resolved ticket, got %s", resolved.Ticket.Status)
	}

	// Admin requests export.
	resp = doReq(t, http.MethodGet, app.URL+"/requests/export", adminLogin.AccessToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 export, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected export content type %q", ct)
	}
	resp.Body.Close()

	// Refresh rotates tokens and the new access token works.
	var refreshed loginResponse
	resp = doReq(t, http.MethodPost, app.URL+"/refresh", "", map[string]any{
		"refreshToken": studentLogin.RefreshToken,
	})
	decodeBody(t, resp, &refreshed)
	resp = doReq(t, http.MethodGet, app.URL+"/me", refreshed.AccessToken, nil)
	expectStatus(t, resp, http.StatusOK)

	// The consumed refresh token no longer works.
	resp = doReq(t, http.MethodPost, app.URL+"/refresh", "", map[string]any{
		"refreshToken": studentLogin.RefreshToken,
	})
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestAnnouncementVisibility(t *testing.T) {
	pool, cfg := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()

	store := repository.NewStore(pool)
	adminEmail := seedAdmin(t, store)

	server := internalhttp.NewServer(cfg, store, nil, zap.NewNop())
	app := httptest.NewServer(server.Router())
	defer app.Close()

	var adminLogin loginResponse
	resp := doReq(t, http.MethodPost, app.URL+"/login", "", map[string]any{
		"email":    adminEmail,
		"password": "dev-password",
	})
	decodeBody(t, resp, &adminLogin)

	suffix := time.Now().Format("150405.000000")
	current := "Enrollment schedule " + suffix
	expired := "Old notice " + suffix
	hidden := "Hidden notice " + suffix

	var visible announcementEnvelope
	resp = doReq(t, http.MethodPost, app.URL+"/announcements", adminLogin.AccessToken, map[string]any{
		"title":      current,
		"body":       "Enrollment opens Monday.",
		"expiryDate": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	})
	decodeBody(t, resp, &visible)
	if !visible.Announcement.Active {
		t.Fatalf("expected new announcement to be active")
	}

	var past announcementEnvelope
	resp = doReq(t, http.MethodPost, app.URL+"/announcements", adminLogin.AccessToken, map[string]any{
		"title":      expired,
		"body":       "This already lapsed.",
		"expiryDate": time.Now().UTC().Add(time.Second).Format(time.RFC3339),
	})
	decodeBody(t, resp, &past)
	// Let the short expiry lapse before listing.
	time.Sleep(1200 * time.Millisecond)

	var deactivated announcementEnvelope
	resp = doReq(t, http.MethodPost, app.URL+"/announcements", adminLogin.AccessToken, map[string]any{
		"title":      hidden,
		"body":       "Deactivated before listing.",
		"expiryDate": time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339),
	})
	decodeBody(t, resp, &deactivated)

	resp = doReq(t, http.MethodPut, app.URL+"/announcements/"+deactivated.Announcement.ID, adminLogin.AccessToken, map[string]any{
		"active": false,
	})
	expectStatus(t, resp, http.StatusOK)

	// Public listing needs no token.
	var listing announcementsEnvelope
	resp = doReq(t, http.MethodGet, app.URL+"/announcements", "", nil)
	decodeBody(t, resp, &listing)

	titles := map[string]bool{}
	for _, announcement := range listing.Announcements {
		titles[announcement.Title] = true
	}
	if !titles[current] {
		t.Fatalf("expected active announcement in public listing")
	}
	if titles[expired] {
		t.Fatalf("expired announcement leaked into public listing")
	}
	if titles[hidden] {
		t.Fatalf("deactivated announcement leaked into public listing")
	}

	// Shallow-merge update keeps unspecified fields.
	var updated announcementEnvelope
	resp = doReq(t, http.MethodPut, app.URL+"/announcements/"+visible.Announcement.ID, adminLogin.AccessToken, map[string]any{
		"body": "Enrollment opens Tuesday instead.",
	})
	decodeBody(t, resp, &updated)
	if updated.Announcement.Title != current {
		t.Fatalf("shallow merge lost the title")
	}
	if updated.Announcement.UpdatedAt == nil {
		t.Fatalf("expected updatedAt to be stamped")
	}

	resp = doReq(t, http.MethodDelete, app.URL+"/announcements/"+visible.Announcement.ID, adminLogin.AccessToken, nil)
	expectStatus(t, resp, http.StatusOK)
	resp = doReq(t, http.MethodDelete, app.URL+"/announcements/"+deactivated.Announcement.ID, adminLogin.AccessToken, nil)
	expectStatus(t, resp, http.StatusOK)
}

func openTestDB(t *testing.T) (*pgxpool.Pool, config.Config) {
	url := os.Getenv("REGISTRAR_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("REGISTRAR_TEST_DB or DATABASE_URL not set")
		return nil, config.Config{}
	}
	if err := db.Migrate(url); err != nil {
		t.Skipf("migrations failed: %v", err)
		return nil, config.Config{}
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil, config.Config{}
	}
	cfg := config.Config{
		JWTSecret:       "test-secret",
		JWTIssuer:       "test-issuer",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	return pool, cfg
}

func seedAdmin(t *testing.T, store *repository.Store) string {
	t.Helper()
	email := fmt.Sprintf("admin.%s@example.local", time.Now().Format("150405.000000"))
	hash, err := internalcrypto.HashPassword("dev-password")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	err = store.CreateUser(context.Background(), model.User{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    "Registrar",
		LastName:     "Admin",
		Role:         auth.RoleAdmin,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed admin error: %v", err)
	}
	return email
}

func doReq(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode error: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("http error: %v", err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, status int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	decodeBodyStatus(t, resp, http.StatusOK, out)
}

func decodeBodyStatus(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}
