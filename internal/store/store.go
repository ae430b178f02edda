// ABOUTME: Store interface and data types for at-backend persistence
// ABOUTME: Defines Chat, ChatMessage structs and the Store interface both backends satisfy

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested chat does not exist
var ErrNotFound = errors.New("chat not found")

// DefaultTitle is the placeholder title assigned to a chat at creation.
// The first user message replaces it with a content prefix.
const DefaultTitle = "New Chat"

// Role constants for message authorship
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleMaxLen is the number of characters of the first user message used
// as the chat title.
const titleMaxLen = 50

// Chat represents one conversation thread
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage represents a single persisted message within a chat
type ChatMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for chat and message persistence.
// Two backends exist: SQLiteStore (durable) and MemoryStore (volatile).
// Both must behave identically from the caller's point of view.
type Store interface {
	CreateChat(ctx context.Context, title string) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	// ListChats returns all chats ordered by most recently updated first.
	ListChats(ctx context.Context) ([]*Chat, error)
	// DeleteChat removes a chat and its messages. Returns false if the
	// chat did not exist.
	DeleteChat(ctx context.Context, id string) (bool, error)

	// AddMessage appends a message and bumps the chat's updated_at. The
	// first user message of a chat still titled DefaultTitle retitles it.
	AddMessage(ctx context.Context, chatID, role, content string) (*ChatMessage, error)
	// GetMessages returns a chat's messages in timestamp order. A chat
	// with no messages (or an unknown chat) yields an empty slice.
	GetMessages(ctx context.Context, chatID string) ([]*ChatMessage, error)

	Close() error
}

// titleFromContent derives a chat title from the first user message.
func titleFromContent(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxLen {
		return content
	}
	return string(runes[:titleMaxLen]) + "..."
}
