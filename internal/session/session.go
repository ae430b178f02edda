// ABOUTME: Session fans one conversation's agent events out to live subscribers
// ABOUTME: Single drain loop per conversation; failed subscribers are dropped

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Atium-Research/at-backend/internal/agent"
	"github.com/Atium-Research/at-backend/internal/store"
)

// ErrClosed is returned when sending into a closed session.
var ErrClosed = errors.New("session closed")

// Subscriber is a live delivery sink, typically one open transport
// connection. SendEvent returning an error means the subscriber is gone
// and it is removed from the session without retry.
type Subscriber interface {
	SendEvent(Event) error
}

// Session multiplexes one conversation: it owns the conversation's
// Driver, drains its event stream once, and rebroadcasts each event to
// every currently-registered subscriber.
type Session struct {
	chatID string
	store  store.Store
	driver *Driver
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[Subscriber]struct{}

	drainOnce sync.Once
	closeOnce sync.Once
	closed    bool

	// drained closes when the drain loop has consumed the driver's
	// end-of-stream sentinel.
	drained chan struct{}
}

// New creates a session for the given chat id.
func New(chatID string, st store.Store, runner agent.Runner, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "session", "chat_id", chatID)
	return &Session{
		chatID:      chatID,
		store:       st,
		driver:      NewDriver(runner, logger),
		logger:      logger,
		subscribers: make(map[Subscriber]struct{}),
		drained:     make(chan struct{}),
	}
}

// ChatID returns the conversation id this session serves.
func (s *Session) ChatID() string {
	return s.chatID
}

// Subscribe registers a delivery sink. Idempotent.
func (s *Session) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub] = struct{}{}
}

// Unsubscribe removes a sink. Safe for sinks never subscribed.
func (s *Session) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, sub)
}

// SendUserMessage persists the text under role "user", broadcasts a
// user_message event, forwards the text to the agent call, and ensures
// the call and the drain loop are running.
func (s *Session) SendUserMessage(ctx context.Context, content string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if _, err := s.store.AddMessage(ctx, s.chatID, store.RoleUser, content); err != nil {
		return fmt.Errorf("recording user message: %w", err)
	}

	s.broadcast(Event{Type: EventUserMessage, ChatID: s.chatID, Content: content})

	s.driver.Submit(content)
	s.start()
	return nil
}

// start launches the agent call and the drain loop, each at most once.
func (s *Session) start() {
	s.driver.Start()
	s.drainOnce.Do(func() {
		go s.drain()
	})
}

// drain is the single reader of the driver's event stream. It runs
// until the driver's end-of-stream sentinel.
func (s *Session) drain() {
	defer close(s.drained)

	for ev := range s.driver.Events() {
		if ev.Type == EventToolUse {
			s.broadcast(Event{
				Type:    EventAgentStatus,
				ChatID:  s.chatID,
				Message: statusForTool(ev.ToolName),
			})
		}

		// Persistence happens before delivery so a slow or broken
		// subscriber can never block it.
		if ev.Type == EventAssistantMessage {
			if _, err := s.store.AddMessage(context.Background(), s.chatID, store.RoleAssistant, ev.Content); err != nil {
				s.logger.Error("recording assistant message", "error", err)
			}
		}

		ev.ChatID = s.chatID
		s.broadcast(ev)
	}

	s.logger.Debug("drain loop finished")
}

// broadcast attempts delivery to every registered subscriber, in
// unspecified subscriber order but strict event order per subscriber.
// A failed send drops that subscriber and delivery continues.
func (s *Session) broadcast(ev Event) {
	s.mu.Lock()
	targets := make([]Subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		targets = append(targets, sub)
	}
	s.mu.Unlock()

	var dead []Subscriber
	for _, sub := range targets {
		if err := sub.SendEvent(ev); err != nil {
			s.logger.Debug("dropping subscriber", "error", err)
			dead = append(dead, sub)
		}
	}

	if len(dead) > 0 {
		s.mu.Lock()
		for _, sub := range dead {
			delete(s.subscribers, sub)
		}
		s.mu.Unlock()
	}
}

// Close marks the session closed, ends the agent's input stream, and
// cancels the call if still running. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.subscribers = make(map[Subscriber]struct{})
		s.mu.Unlock()
		s.driver.Close()
	})
}

// Drained exposes drain-loop completion for callers that need to wait
// for the terminal event to be delivered.
func (s *Session) Drained() <-chan struct{} {
	return s.drained
}
