package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/revq/revq/internal/pipeline"
	"github.com/revq/revq/internal/storage"
	"github.com/revq/revq/internal/tools"
	"github.com/revq/revq/internal/trace"
)

// Store is the storage surface the HTTP handlers need beyond the pipeline.
type Store interface {
	UserStore
	CreateUser(email, role, tokenHash string) (storage.User, error)
	ListUsers() ([]storage.User, error)
	UserByID(id int64) (storage.User, error)
	SetUserCategories(userID int64, categories []string) error
	AllowedCategories(userID int64) ([]string, error)
	ConversationTurns(conversationID string, userID int64, limit int) ([]storage.Turn, error)
}

// ChatPipeline runs one conversational turn.
type ChatPipeline interface {
	Process(ctx context.Context, user storage.User, conversationID, utterance string) (pipeline.Reply, error)
}

// TraceReader serves the admin audit endpoint.
type TraceReader interface {
	Recent(caller storage.User, limit int) ([]storage.Trace, error)
}

// Server carries the handler dependencies.
type Server struct {
	store    Store
	pipe     ChatPipeline
	recorder TraceReader
	logger   *slog.Logger
}

func NewServer(store Store, pipe ChatPipeline, recorder TraceReader, logger *slog.Logger) *Server {
	return &Server{store: store, pipe: pipe, recorder: recorder, logger: logger}
}

// Router builds the chi handler tree. Everything under /v1 requires a
// bearer token; the user and trace endpoints additionally require admin.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(s.store))

		r.Post("/chat", s.handleChat)
		r.Get("/conversations/{id}/turns", s.handleTurns)

		r.Group(func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Get("/traces", s.handleTraces)
			r.Post("/users", s.handleCreateUser)
			r.Get("/users", s.handleListUsers)
			r.Put("/users/{id}/categories", s.handleSetCategories)
		})
	})
	return r
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID  string       `json:"conversation_id"`
	TurnID          string       `json:"turn_id"`
	Answer          string       `json:"answer"`
	Result          tools.Result `json:"result"`
	IsFallback      bool         `json:"is_fallback"`
	RejectionReason tools.Reason `json:"rejection_reason,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "decoding body: %v", err)
		return
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
		return
	}
	if req.ConversationID != "" {
		if _, err := uuid.Parse(req.ConversationID); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "conversation_id must be a UUID")
			return
		}
	}

	reply, err := s.pipe.Process(r.Context(), user, req.ConversationID, req.Message)
	if err != nil {
		// Pipeline failures are opaque to callers; detail lives in the trace.
		httpError(w, http.StatusBadGateway, "api_error", "the request could not be completed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID:  reply.ConversationID,
		TurnID:          reply.TurnID,
		Answer:          reply.Answer,
		Result:          reply.Result,
		IsFallback:      reply.IsFallback,
		RejectionReason: reply.RejectionReason,
	})
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	id := chi.URLParam(r, "id")
	limit := queryInt(r, "limit", 20)
	// Scoped by user id so callers only ever see their own conversations.
	turns, err := s.store.ConversationTurns(id, user.ID, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "listing turns: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "turns": turns})
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFrom(r.Context())
	limit := queryInt(r, "limit", 50)
	traces, err := s.recorder.Recent(user, limit)
	if err != nil {
		if errors.Is(err, trace.ErrForbidden) {
			httpError(w, http.StatusForbidden, "permission_error", "admin role required")
			return
		}
		httpError(w, http.StatusInternalServerError, "api_error", "listing traces: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"traces": traces})
}

type createUserRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type createUserResponse struct {
	User  storage.User `json:"user"`
	Token string       `json:"token"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "decoding body: %v", err)
		return
	}
	if req.Email == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "email is required")
		return
	}
	role := req.Role
	if role == "" {
		role = storage.RoleAnalyst
	}
	if role != storage.RoleAdmin && role != storage.RoleAnalyst {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "role must be %q or %q", storage.RoleAdmin, storage.RoleAnalyst)
		return
	}

	token := NewToken()
	user, err := s.store.CreateUser(req.Email, role, HashToken(token))
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "creating user: %v", err)
		return
	}
	s.logger.Info("user created", "user_id", user.ID, "role", role)
	writeJSON(w, http.StatusCreated, createUserResponse{User: user, Token: token})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "listing users: %v", err)
		return
	}
	type userWithGrants struct {
		storage.User
		Categories []string `json:"categories,omitempty"`
	}
	out := make([]userWithGrants, 0, len(users))
	for _, u := range users {
		row := userWithGrants{User: u}
		if !u.IsAdmin() {
			cats, err := s.store.AllowedCategories(u.ID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "listing grants: %v", err)
				return
			}
			row.Categories = cats
		}
		out = append(out, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

type setCategoriesRequest struct {
	Categories []string `json:"categories"`
}

func (s *Server) handleSetCategories(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "user id must be an integer")
		return
	}
	var req setCategoriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "decoding body: %v", err)
		return
	}
	if _, err := s.store.UserByID(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "invalid_request_error", "no such user")
			return
		}
		httpError(w, http.StatusInternalServerError, "api_error", "resolving user: %v", err)
		return
	}
	if err := s.store.SetUserCategories(id, req.Categories); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown category in grant list")
			return
		}
		httpError(w, http.StatusInternalServerError, "api_error", "updating grants: %v", err)
		return
	}
	user, err := s.store.UserByID(id)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "resolving user: %v", err)
		return
	}
	s.logger.Info("grants updated", "user_id", id, "access_version", user.AccessVersion)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        id,
		"categories":     req.Categories,
		"access_version": user.AccessVersion,
	})
}

// NewToken mints a fresh API token. Callers see it exactly once.
func NewToken() string {
	return "revq_" + uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, errType, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
