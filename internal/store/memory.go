// ABOUTME: In-memory Store implementation for development and tests
// ABOUTME: Mirrors SQLiteStore semantics without touching disk

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a volatile Store kept entirely in process memory.
// It is the default backend when no database path is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat
	messages map[string][]*ChatMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*Chat),
		messages: make(map[string][]*ChatMessage),
	}
}

// CreateChat stores a new chat with a fresh ID.
func (m *MemoryStore) CreateChat(ctx context.Context, title string) (*Chat, error) {
	if title == "" {
		title = DefaultTitle
	}
	now := time.Now().UTC()
	chat := &Chat{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[chat.ID] = chat
	m.messages[chat.ID] = nil

	result := *chat
	return &result, nil
}

// GetChat retrieves a chat by ID.
func (m *MemoryStore) GetChat(ctx context.Context, id string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *chat
	return &result, nil
}

// ListChats returns all chats, most recently updated first.
func (m *MemoryStore) ListChats(ctx context.Context) ([]*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]*Chat, 0, len(m.chats))
	for _, c := range m.chats {
		result := *c
		chats = append(chats, &result)
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

// DeleteChat removes a chat and its messages.
func (m *MemoryStore) DeleteChat(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.chats[id]
	delete(m.chats, id)
	delete(m.messages, id)
	return ok, nil
}

// AddMessage appends a message and bumps the chat's updated_at.
func (m *MemoryStore) AddMessage(ctx context.Context, chatID, role, content string) (*ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now().UTC()
	msg := &ChatMessage{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	m.messages[chatID] = append(m.messages[chatID], msg)

	chat.UpdatedAt = now
	if chat.Title == DefaultTitle && role == RoleUser {
		chat.Title = titleFromContent(content)
	}

	result := *msg
	return &result, nil
}

// GetMessages returns a chat's messages in insertion order.
func (m *MemoryStore) GetMessages(ctx context.Context, chatID string) ([]*ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[chatID]
	out := make([]*ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		result := *msg
		out = append(out, &result)
	}
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryStore) Close() error { return nil }
