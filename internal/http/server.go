package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jmorallos/registrar-portal/internal/auth"
	"github.com/jmorallos/registrar-portal/internal/config"
	internalcrypto "github.com/jmorallos/registrar-portal/internal/crypto"
	"github.com/jmorallos/registrar-portal/internal/export"
	"github.com/jmorallos/registrar-portal/internal/metrics"
	"github.com/jmorallos/registrar-portal/internal/model"
	"github.com/jmorallos/registrar-portal/internal/observability"
	"github.com/jmorallos/registrar-portal/internal/repository"
)

const (
	pricePerCopy      = 150
	maxActiveRequests = 2

	statusPending   = "pending"
	statusCompleted = "completed"
	ticketOpen      = "open"

	initialRequestMessage = "Your request has been received. Please upload proof of payment."
)

var errRequestCap = errors.New("active request cap reached")

type Server struct {
	cfg      config.Config
	store    *repository.Store
	redis    *redis.Client
	log      *zap.Logger
	validate *validator.Validate
}

func NewServer(cfg config.Config, store *repository.Store, redisClient *redis.Client, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		redis:    redisClient,
		log:      logger,
		validate: validator.New(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Post("/signup", s.handleSignup)
	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/announcements", s.handleListAnnouncements)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/me", s.handleGetMe)
		r.Post("/logout", s.handleLogout)

		r.Post("/requests", s.handleCreateRequest)
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/export", s.handleExportRequests)
		r.Put("/requests/{id}", s.handleUpdateRequest)

		r.Post("/messages", s.handleSendMessage)
		r.Get("/messages/{conversationId}", s.handleListMessages)
		r.Get("/conversations", s.handleListConversations)

		r.Post("/tickets", s.handleCreateTicket)
		r.Get("/tickets", s.handleListTickets)
		r.Put("/tickets/{id}", s.handleUpdateTicket)

		r.Post("/announcements", s.handleCreateAnnouncement)
		r.Put("/announcements/{id}", s.handleUpdateAnnouncement)
		r.Delete("/announcements/{id}", s.handleDeleteAnnouncement)
	})

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// requireRole resolves the caller's claims and rejects the request unless the
// role matches. The original portal answered wrong-role calls with 401, not
// 403, and clients show the message verbatim, so that shape is kept.
func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, role string) *auth.Claims {
	claims := claimsFromContext(r.Context())
	if claims == nil || (role != "" && claims.Role != role) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil
	}
	return claims
}

// Models

type signupRequest struct {
	Email     string `json:"email" validate:"required,email"`
	StudentID string `json:"studentId" validate:"required"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Password  string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type createRequestRequest struct {
	DocumentType string `json:"documentType" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,min=1,max=2"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type sendMessageRequest struct {
	ConversationID string  `json:"conversationId" validate:"required"`
	Text           string  `json:"text" validate:"required"`
	FileURL        *string `json:"fileUrl"`
}

type createTicketRequest struct {
	Subject       string  `json:"subject" validate:"required"`
	Description   string  `json:"description" validate:"required"`
	AttachmentURL *string `json:"attachmentUrl"`
}

type createAnnouncementRequest struct {
	Title      string    `json:"title" validate:"required"`
	Body       string    `json:"body" validate:"required"`
	ExpiryDate time.Time `json:"expiryDate" validate:"required"`
}

type updateAnnouncementRequest struct {
	Title      *string    `json:"title"`
	Body       *string    `json:"body"`
	ExpiryDate *time.Time `json:"expiryDate"`
	Active     *bool      `json:"active"`
}

// Auth handlers

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.store.GetUserByEmail(r.Context(), email); err == nil {
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		s.serverError(w, "Signup failed", err)
		return
	}
	if _, err := s.store.GetUserByStudentNumber(r.Context(), req.StudentID); err == nil {
		writeError(w, http.StatusBadRequest, "Student ID already registered")
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		s.serverError(w, "Signup failed", err)
		return
	}

	hash, err := internalcrypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, "Signup failed", err)
		return
	}
	studentNumber := req.StudentID
	user := model.User{
		ID:            uuid.NewString(),
		Email:         email,
		StudentNumber: &studentNumber,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Role:          auth.RoleStudent,
		PasswordHash:  hash,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if message, ok := duplicateUserMessage(err); ok {
			writeError(w, http.StatusBadRequest, message)
			return
		}
		s.serverError(w, "Signup failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	if err != nil {
		s.serverError(w, "Login failed", err)
		return
	}
	if err := internalcrypto.CheckPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), user)
	if err != nil {
		s.serverError(w, "Login failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
		"user":         user,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	session, err := s.store.GetRefreshSession(r.Context(), internalcrypto.HashToken(req.RefreshToken))
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if err != nil {
		s.serverError(w, "Refresh failed", err)
		return
	}
	now := time.Now().UTC()
	if session.RevokedAt != nil || now.After(session.ExpiresAt) {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	user, err := s.store.GetUserByID(r.Context(), session.UserID)
	if err != nil {
		s.serverError(w, "Refresh failed", err)
		return
	}
	if err := s.store.RevokeRefreshSession(r.Context(), session.ID, now); err != nil {
		s.serverError(w, "Refresh failed", err)
		return
	}
	accessToken, refreshToken, err := s.issueTokens(r.Context(), user)
	if err != nil {
		s.serverError(w, "Refresh failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	session, err := s.store.GetRefreshSession(r.Context(), internalcrypto.HashToken(req.RefreshToken))
	if err == nil && session.UserID == claims.UserID && session.RevokedAt == nil {
		if err := s.store.RevokeRefreshSession(r.Context(), session.ID, time.Now().UTC()); err != nil {
			s.serverError(w, "Logout failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}
	user, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "User profile not found")
		return
	}
	if err != nil {
		s.serverError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) issueTokens(ctx context.Context, user model.User) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: user.ID,
		Role:   user.Role,
	})
	if err != nil {
		return "", "", err
	}
	refreshToken, err := internalcrypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}
	now := time.Now().UTC()
	err = s.store.CreateRefreshSession(ctx, model.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: internalcrypto.HashToken(refreshToken),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	})
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// Document request handlers

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleStudent)
	if claims == nil {
		return
	}
	var req createRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var created model.DocumentRequest
	var initial model.Message
	err := s.store.WithTx(r.Context(), func(tx *repository.Store) error {
		// The row lock serializes the cap check against concurrent creates
		// for the same student.
		user, err := tx.GetUserForUpdate(r.Context(), claims.UserID)
		if err != nil {
			return err
		}
		count, err := tx.CountActiveRequests(r.Context(), user.ID)
		if err != nil {
			return err
		}
		if count >= maxActiveRequests {
			return errRequestCap
		}

		now := time.Now().UTC()
		created = model.DocumentRequest{
			ID:           uuid.NewString(),
			StudentID:    user.ID,
			StudentName:  user.FullName(),
			DocumentType: req.DocumentType,
			Quantity:     req.Quantity,
			PricePerCopy: pricePerCopy,
			Total:        pricePerCopy * req.Quantity,
			Status:       statusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.CreateRequest(r.Context(), created); err != nil {
			return err
		}
		initial = systemMessage(created.ID, initialRequestMessage, now)
		return tx.CreateMessage(r.Context(), initial)
	})
	if errors.Is(err, errRequestCap) {
		writeError(w, http.StatusBadRequest, "Maximum 2 active requests allowed")
		return
	}
	if err != nil {
		s.serverError(w, "Failed to create request", err)
		return
	}

	metrics.RequestsCreated.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": created, "message": initial})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}

	var requests []model.DocumentRequest
	var err error
	if claims.Role == auth.RoleAdmin {
		requests, err = s.store.ListAllRequests(r.Context())
	} else {
		requests, err = s.store.ListRequestsByStudent(r.Context(), claims.UserID)
	}
	if err != nil {
		s.serverError(w, "Failed to get requests", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleAdmin)
	if claims == nil {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	requestID := chi.URLParam(r, "id")
	if !validID(requestID) {
		writeError(w, http.StatusNotFound, "Request not found")
		return
	}
	updated, err := s.store.UpdateRequestStatus(r.Context(), requestID, req.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Request not found")
		return
	}
	if err != nil {
		s.serverError(w, "Failed to update request", err)
		return
	}

	if text := statusMessage(req.Status); text != "" {
		message := systemMessage(updated.ID, text, time.Now().UTC())
		if err := s.store.CreateMessage(r.Context(), message); err != nil {
			s.serverError(w, "Failed to update request", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "request": updated})
}

func (s *Server) handleExportRequests(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleAdmin)
	if claims == nil {
		return
	}
	requests, err := s.store.ListAllRequests(r.Context())
	if err != nil {
		s.serverError(w, "Failed to export requests", err)
		return
	}
	workbook, err := export.RequestsWorkbook(requests)
	if err != nil {
		s.serverError(w, "Failed to export requests", err)
		return
	}

	filename := fmt.Sprintf("requests_%s.xlsx", time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := workbook.Write(w); err != nil {
		s.log.Error("writing export", zap.Error(err))
	}
}

// statusMessage returns the system notice appended for a status change, or
// empty for status values that do not notify the student.
func statusMessage(status string) string {
	switch status {
	case "processing":
		return "Payment confirmed. Your request is now being processed."
	case "ready":
		return "Your document is ready for pickup!"
	case "completed":
		return "Request completed. Thank you!"
	}
	return ""
}

func systemMessage(conversationID, text string, at time.Time) model.Message {
	return model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       model.SenderSystem,
		SenderName:     "System",
		SenderRole:     model.SenderSystem,
		Text:           text,
		Timestamp:      at,
	}
}

// Message handlers

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if !validID(req.ConversationID) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	request, err := s.store.GetRequest(r.Context(), req.ConversationID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.serverError(w, "Failed to send message", err)
		return
	}
	if request.Status == statusCompleted {
		writeError(w, http.StatusBadRequest, "Conversation is closed")
		return
	}

	sender, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		s.serverError(w, "Failed to send message", err)
		return
	}

	message := model.Message{
		ID:             uuid.NewString(),
		ConversationID: request.ID,
		SenderID:       sender.ID,
		SenderName:     sender.FullName(),
		SenderRole:     sender.Role,
		Text:           req.Text,
		FileURL:        req.FileURL,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.CreateMessage(r.Context(), message); err != nil {
		s.serverError(w, "Failed to send message", err)
		return
	}

	metrics.MessagesSent.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}
	conversationID := chi.URLParam(r, "conversationId")
	if !validID(conversationID) {
		writeJSON(w, http.StatusOK, map[string]any{"messages": []model.Message{}})
		return
	}
	messages, err := s.store.ListMessages(r.Context(), conversationID)
	if err != nil {
		s.serverError(w, "Failed to get messages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}

	var studentID *string
	if claims.Role != auth.RoleAdmin {
		studentID = &claims.UserID
	}
	conversations, err := s.store.ListConversations(r.Context(), claims.UserID, studentID)
	if err != nil {
		s.serverError(w, "Failed to get conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

// Support ticket handlers

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleStudent)
	if claims == nil {
		return
	}
	var req createTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	student, err := s.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		s.serverError(w, "Failed to create ticket", err)
		return
	}

	now := time.Now().UTC()
	ticket := model.SupportTicket{
		ID:            uuid.NewString(),
		StudentID:     student.ID,
		StudentName:   student.FullName(),
		Subject:       req.Subject,
		Description:   req.Description,
		AttachmentURL: req.AttachmentURL,
		Status:        ticketOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateTicket(r.Context(), ticket); err != nil {
		s.serverError(w, "Failed to create ticket", err)
		return
	}

	metrics.TicketsCreated.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticket": ticket})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, "")
	if claims == nil {
		return
	}

	var tickets []model.SupportTicket
	var err error
	if claims.Role == auth.RoleAdmin {
		tickets, err = s.store.ListAllTickets(r.Context())
	} else {
		tickets, err = s.store.ListTicketsByStudent(r.Context(), claims.UserID)
	}
	if err != nil {
		s.serverError(w, "Failed to get tickets", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleAdmin)
	if claims == nil {
		return
	}
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ticketID := chi.URLParam(r, "id")
	if !validID(ticketID) {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	updated, err := s.store.UpdateTicketStatus(r.Context(), ticketID, req.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		s.serverError(w, "Failed to update ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "ticket": updated})
}

// Announcement handlers

func (s *Server) handleListAnnouncements(w http.ResponseWriter, r *http.Request) {
	if data, ok := s.loadAnnouncementCache(r.Context()); ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	announcements, err := s.store.ListActiveAnnouncements(r.Context(), time.Now().UTC())
	if err != nil {
		s.serverError(w, "Failed to get announcements", err)
		return
	}
	payload := map[string]any{"announcements": announcements}
	if data, err := json.Marshal(payload); err == nil {
		s.storeAnnouncementCache(r.Context(), data)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleAdmin)
	if claims == nil {
		return
	}
	var req createAnnouncementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	announcement := model.Announcement{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Body:       req.Body,
		ExpiryDate: req.ExpiryDate.UTC(),
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		CreatedBy:  claims.UserID,
	}
	if err := s.store.CreateAnnouncement(r.Context(), announcement); err != nil {
		s.serverError(w, "Failed to create announcement", err)
		return
	}
	s.invalidateAnnouncementCache(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "announcement": announcement})
}

func (s *Server) handleUpdateAnnouncement(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleAdmin)
	if claims == nil {
		return
	}
	var req updateAnnouncementRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	announcementID := chi.URLParam(r, "id")
	if !validID(announcementID) {
		writeError(w, http.StatusNotFound, "Announcement not found")
		return
	}
	updated, err := s.store.UpdateAnnouncement(r.Context(), announcementID, repository.AnnouncementUpdate{
		Title:      req.Title,
		Body:       req.Body,
		ExpiryDate: req.ExpiryDate,
		Active:     req.Active,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Announcement not found")
		return
	}
	if err != nil {
		s.serverError(w, "Failed to update announcement", err)
		return
	}
	s.invalidateAnnouncementCache(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "announcement": updated})
}

func (s *Server) handleDeleteAnnouncement(w http.ResponseWriter, r *http.Request) {
	claims := s.requireRole(w, r, auth.RoleAdmin)
	if claims == nil {
		return
	}
	announcementID := chi.URLParam(r, "id")
	if !validID(announcementID) {
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	if err := s.store.DeleteAnnouncement(r.Context(), announcementID); err != nil {
		s.serverError(w, "Failed to delete announcement", err)
		return
	}
	s.invalidateAnnouncementCache(r.Context())

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Announcement cache

const announcementCacheKey = "announcements:active"

func (s *Server) loadAnnouncementCache(ctx context.Context) ([]byte, bool) {
	if s.redis == nil {
		return nil, false
	}
	value, err := s.redis.Get(ctx, announcementCacheKey).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.log.Debug("announcement cache read", zap.Error(err))
		return nil, false
	}
	return value, true
}

func (s *Server) storeAnnouncementCache(ctx context.Context, data []byte) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Set(ctx, announcementCacheKey, data, s.cfg.AnnouncementCacheTTL).Err(); err != nil {
		s.log.Debug("announcement cache write", zap.Error(err))
	}
}

func (s *Server) invalidateAnnouncementCache(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, announcementCacheKey).Err(); err != nil {
		s.log.Debug("announcement cache invalidate", zap.Error(err))
	}
}

// Utilities

func (s *Server) serverError(w http.ResponseWriter, message string, err error) {
	metrics.HandlerErrors.Inc()
	observability.CaptureErr(err)
	s.log.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, message)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// decodeJSON tolerates unknown fields: clients send payloads with extra
// keys and those are ignored, never rejected.
func decodeJSON(r *http.Request, out interface{}) error {
	return json.NewDecoder(r.Body).Decode(out)
}

// validID reports whether id is a well-formed uuid. A malformed id can never
// match a row, so handlers answer it the same way as an unknown id instead
// of surfacing a driver parameter-encoding error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// duplicateUserMessage maps a users unique violation, raised when two
// signups race past the pre-insert checks, onto the same response those
// checks produce.
func duplicateUserMessage(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	if strings.Contains(pgErr.ConstraintName, "student_number") {
		return "Student ID already registered", true
	}
	return "Email already registered", true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func validationMessage(err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return "Invalid request"
	}
	messages := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		switch fieldError.ActualTag() {
		case "required":
			messages = append(messages, fmt.Sprintf("field %s is required", fieldError.Field()))
		case "email":
			messages = append(messages, fmt.Sprintf("field %s must be a valid email address", fieldError.Field()))
		default:
			messages = append(messages, fmt.Sprintf("field %s is invalid", fieldError.Field()))
		}
	}
	return strings.Join(messages, ", ")
}
