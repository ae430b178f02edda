// ABOUTME: Registry maps conversation ids to their Session instances
// ABOUTME: Injectable object with lazy create, explicit remove, and shutdown

package session

import (
	"log/slog"
	"sync"

	"github.com/Atium-Research/at-backend/internal/agent"
	"github.com/Atium-Research/at-backend/internal/store"
)

// Registry owns every live Session in the process. It is constructed
// once at startup and passed to the transport handlers; no two sessions
// ever exist concurrently for the same chat id.
//
// A session closed by Remove is gone for good: recreate it with a later
// Get to run a fresh agent call for the same chat id.
type Registry struct {
	store  store.Store
	runner agent.Runner
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry backed by the given store and
// agent runner.
func NewRegistry(st store.Store, runner agent.Runner, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    st,
		runner:   runner,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session for a chat id, creating it on first access.
func (r *Registry) Get(chatID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[chatID]
	if !ok {
		s = New(chatID, r.store, r.runner, r.logger)
		r.sessions[chatID] = s
		r.logger.Debug("session created", "chat_id", chatID)
	}
	return s
}

// Remove closes the session for a chat id, if any, and forgets it.
func (r *Registry) Remove(chatID string) {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	delete(r.sessions, chatID)
	r.mu.Unlock()

	if ok {
		s.Close()
		r.logger.Debug("session removed", "chat_id", chatID)
	}
}

// UnsubscribeAll detaches a subscriber from every live session. Used
// when a transport connection goes away.
func (r *Registry) UnsubscribeAll(sub Subscriber) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Unsubscribe(sub)
	}
}

// CloseAll closes every session. Called on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
