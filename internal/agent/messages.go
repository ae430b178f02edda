// ABOUTME: Tagged message and content block types emitted by an agent call
// ABOUTME: Decodes the claude CLI stream-json wire format, skipping unknown shapes

package agent

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates between message kinds.
type MessageType string

const (
	MessageTypeSystem    MessageType = "system"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeUser      MessageType = "user"
	MessageTypeResult    MessageType = "result"
)

// Message is the interface for all messages an agent call emits.
type Message interface {
	MsgType() MessageType
}

// SystemMessage carries session initialization and other system events.
// Consumers ignore it.
type SystemMessage struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Model     string `json:"model,omitempty"`
}

// MsgType returns the message type.
func (m *SystemMessage) MsgType() MessageType { return MessageTypeSystem }

// AssistantMessage is a complete message from the agent, made of text
// and tool-use content blocks.
type AssistantMessage struct {
	Content []ContentBlock
}

// MsgType returns the message type.
func (m *AssistantMessage) MsgType() MessageType { return MessageTypeAssistant }

// ResultMessage contains turn completion metrics.
type ResultMessage struct {
	IsError      bool     `json:"is_error"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	DurationMs   int64    `json:"duration_ms"`
}

// MsgType returns the message type.
func (m *ResultMessage) MsgType() MessageType { return MessageTypeResult }

// ErrorMessage is a terminal transport failure, emitted once before the
// message channel closes. It is not part of the agent's native protocol.
type ErrorMessage struct {
	Err error
}

// MsgType returns the message type; ErrorMessage reuses no wire tag.
func (m *ErrorMessage) MsgType() MessageType { return "error" }

// ContentBlock is one piece of assistant message content.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is assistant-authored text.
type TextBlock struct {
	Text string `json:"text"`
}

// BlockType returns the block type.
func (b *TextBlock) BlockType() string { return "text" }

// ToolUseBlock is a tool invocation requested by the agent.
type ToolUseBlock struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// BlockType returns the block type.
func (b *ToolUseBlock) BlockType() string { return "tool_use" }

// rawMessage is the envelope every stream-json line shares.
type rawMessage struct {
	Type    MessageType     `json:"type"`
	Subtype string          `json:"subtype"`
	Message json.RawMessage `json:"message"`

	SessionID    string   `json:"session_id"`
	Model        string   `json:"model"`
	IsError      bool     `json:"is_error"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	DurationMs   int64    `json:"duration_ms"`
}

// rawBlock is one content block before discrimination.
type rawBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// DecodeMessage parses one stream-json line into a Message. Unknown
// message types and unknown content blocks are skipped, not errors: the
// CLI adds event kinds over time and older consumers must keep working.
// A nil, nil return means "ignore this line".
func DecodeMessage(line []byte) (Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("decoding message envelope: %w", err)
	}

	switch raw.Type {
	case MessageTypeSystem:
		return &SystemMessage{
			Subtype:   raw.Subtype,
			SessionID: raw.SessionID,
			Model:     raw.Model,
		}, nil

	case MessageTypeAssistant:
		var inner struct {
			Content []rawBlock `json:"content"`
		}
		if err := json.Unmarshal(raw.Message, &inner); err != nil {
			return nil, fmt.Errorf("decoding assistant message: %w", err)
		}
		msg := &AssistantMessage{}
		for _, b := range inner.Content {
			switch b.Type {
			case "text":
				msg.Content = append(msg.Content, &TextBlock{Text: b.Text})
			case "tool_use":
				var input map[string]any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &input); err != nil {
						return nil, fmt.Errorf("decoding tool input: %w", err)
					}
				}
				msg.Content = append(msg.Content, &ToolUseBlock{
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				})
			default:
				// thinking, tool_result echoes, future block kinds
			}
		}
		return msg, nil

	case MessageTypeResult:
		return &ResultMessage{
			IsError:      raw.IsError,
			TotalCostUSD: raw.TotalCostUSD,
			DurationMs:   raw.DurationMs,
		}, nil

	default:
		return nil, nil
	}
}

// promptEnvelope is the wire shape for one user turn written to the CLI.
type promptEnvelope struct {
	Type            string        `json:"type"`
	Message         promptMessage `json:"message"`
	ParentToolUseID *string       `json:"parent_tool_use_id"`
	SessionID       string        `json:"session_id"`
}

type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EncodeTurn serializes a user turn into its stream-json input line.
func EncodeTurn(turn UserTurn) ([]byte, error) {
	return json.Marshal(promptEnvelope{
		Type: "user",
		Message: promptMessage{
			Role:    "user",
			Content: turn.Content,
		},
	})
}
