// ABOUTME: Broadcast event model shared by the session layer and transports
// ABOUTME: Flat type-tagged JSON objects matching the frontend wire protocol

package session

import (
	"encoding/json"

	"github.com/Atium-Research/at-backend/internal/store"
)

// EventType tags one broadcast payload.
type EventType string

// Event kinds produced by the driver's classification loop.
const (
	EventAssistantMessage EventType = "assistant_message"
	EventToolUse          EventType = "tool_use"
	EventResult           EventType = "result"
	EventError            EventType = "error"
)

// Event kinds derived by the session host.
const (
	EventAgentStatus EventType = "agent_status"
	EventUserMessage EventType = "user_message"
	EventHistory     EventType = "history"
	EventConnected   EventType = "connected"
)

// Event is one broadcast unit. Which fields are meaningful depends on
// Type; MarshalJSON emits only that kind's fields so the wire payload
// stays flat and minimal.
type Event struct {
	Type   EventType
	ChatID string

	// assistant_message, user_message
	Content string

	// tool_use
	ToolName  string
	ToolID    string
	ToolInput map[string]any

	// agent_status, connected
	Message string

	// result
	Success    bool
	Cost       *float64
	DurationMs int64

	// error
	Error string

	// history
	Messages []*store.ChatMessage
}

// MarshalJSON serializes the event as a flat object tagged by "type".
func (e Event) MarshalJSON() ([]byte, error) {
	payload := map[string]any{"type": e.Type}
	if e.ChatID != "" {
		payload["chatId"] = e.ChatID
	}

	switch e.Type {
	case EventAssistantMessage, EventUserMessage:
		payload["content"] = e.Content
	case EventToolUse:
		payload["toolName"] = e.ToolName
		payload["toolId"] = e.ToolID
		payload["toolInput"] = e.ToolInput
	case EventAgentStatus, EventConnected:
		payload["message"] = e.Message
	case EventResult:
		payload["success"] = e.Success
		payload["cost"] = e.Cost
		payload["duration_ms"] = e.DurationMs
	case EventError:
		payload["error"] = e.Error
	case EventHistory:
		msgs := e.Messages
		if msgs == nil {
			msgs = []*store.ChatMessage{}
		}
		payload["messages"] = msgs
	}

	return json.Marshal(payload)
}

// statusByTool maps tool names to friendly status phrases, broadcast
// before the raw tool_use event.
var statusByTool = map[string]string{
	"WebSearch": "Searching the web",
	"WebFetch":  "Fetching a page",
	"Read":      "Reading a file",
	"Write":     "Writing a file",
	"Edit":      "Editing a file",
	"Bash":      "Running a command",
	"Glob":      "Searching for files",
	"Grep":      "Searching in files",
}

// statusForTool returns the friendly phrase for a tool invocation.
func statusForTool(toolName string) string {
	if status, ok := statusByTool[toolName]; ok {
		return status
	}
	return "Using " + toolName
}
