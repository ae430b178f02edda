// ABOUTME: HTTP host for the chat backend REST API
// ABOUTME: Chat CRUD endpoints, CORS middleware, and graceful shutdown

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/Atium-Research/at-backend/internal/config"
	"github.com/Atium-Research/at-backend/internal/session"
	"github.com/Atium-Research/at-backend/internal/store"
)

// Server hosts the REST API and the /ws event transport.
type Server struct {
	store    store.Store
	registry *session.Registry
	logger   *slog.Logger
	cors     string
	httpSrv  *http.Server
}

// New creates a server bound to the configured address.
func New(st store.Store, registry *session.Registry, cfg config.ServerConfig) *Server {
	s := &Server{
		store:    st,
		registry: registry,
		logger:   slog.Default().With("component", "server"),
		cors:     cfg.CORSOrigin,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the route table wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/chats", s.handleListChats)
	mux.HandleFunc("POST /api/chats", s.handleCreateChat)
	mux.HandleFunc("GET /api/chats/{id}", s.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", s.handleDeleteChat)
	mux.HandleFunc("GET /api/chats/{id}/messages", s.handleGetMessages)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.withCORS(mux)
}

// Start serves until the listener is closed.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections, drains in-flight requests, and
// closes every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	s.registry.CloseAll()
	return err
}

// withCORS allows the configured browser origin on every route and
// answers preflight requests.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cors)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from at-backend!"})
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		s.logger.Error("failed to list chats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []*store.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// createChatBody is the optional POST /api/chats request body.
type createChatBody struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var body createChatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chat, err := s.store.CreateChat(r.Context(), body.Title)
	if err != nil {
		s.logger.Error("failed to create chat", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.GetChat(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get chat", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	deleted, err := s.store.DeleteChat(r.Context(), chatID)
	if err != nil {
		s.logger.Error("failed to delete chat", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	// Any live session for this chat goes with it.
	s.registry.Remove(chatID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.GetMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to get messages", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []*store.ChatMessage{}
	}

	if r.URL.Query().Get("format") == "html" {
		rendered, err := renderMessagesHTML(msgs)
		if err != nil {
			s.logger.Error("failed to render messages", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to render messages")
			return
		}
		msgs = rendered
	}
	writeJSON(w, http.StatusOK, msgs)
}

// renderMessagesHTML converts each message's markdown content to HTML.
// The originals are left untouched.
func renderMessagesHTML(msgs []*store.ChatMessage) ([]*store.ChatMessage, error) {
	out := make([]*store.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(m.Content), &buf); err != nil {
			return nil, fmt.Errorf("converting message %s: %w", m.ID, err)
		}
		clone := *m
		clone.Content = buf.String()
		out = append(out, &clone)
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
