// ABOUTME: WebSocket transport bridging browser connections to chat sessions
// ABOUTME: One goroutine per connection, writes serialized by a per-connection lock

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Atium-Research/at-backend/internal/session"
	"github.com/Atium-Research/at-backend/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin is already policed by the CORS layer for the REST
	// surface; the socket accepts any origin the browser presents.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientFrame is one inbound JSON message from the browser.
type clientFrame struct {
	Type    string `json:"type"`
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// wsClient is one connected browser. It implements session.Subscriber;
// the mutex keeps concurrent session broadcasts from interleaving
// frames on the shared connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) SendEvent(ev session.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(ev)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn}
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	logger.Debug("websocket connected")

	defer func() {
		s.registry.UnsubscribeAll(client)
		conn.Close()
		logger.Debug("websocket disconnected")
	}()

	if err := client.SendEvent(session.Event{
		Type:    session.EventConnected,
		Message: "Connected to chat server",
	}); err != nil {
		return
	}

	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		s.dispatchFrame(r, client, frame, logger)
	}
}

// dispatchFrame handles one inbound frame. Errors are reported to this
// connection only; other subscribers of the same chat are unaffected.
func (s *Server) dispatchFrame(r *http.Request, client *wsClient, frame clientFrame, logger *slog.Logger) {
	switch frame.Type {
	case "subscribe":
		sess := s.registry.Get(frame.ChatID)
		sess.Subscribe(client)
		s.sendHistory(r, client, frame.ChatID, logger)

	case "chat":
		sess := s.registry.Get(frame.ChatID)
		sess.Subscribe(client)
		if err := sess.SendUserMessage(r.Context(), frame.Content); err != nil {
			if !errors.Is(err, session.ErrClosed) {
				logger.Warn("send user message failed", "chat_id", frame.ChatID, "error", err)
			}
			s.sendErrorFrame(client, wsErrorText(err))
		}

	default:
		s.sendErrorFrame(client, "Invalid message format")
	}
}

// sendHistory replies with the chat's persisted messages. Live events
// for the chat follow once the subscription is registered, so the
// snapshot always precedes them on this connection.
func (s *Server) sendHistory(r *http.Request, client *wsClient, chatID string, logger *slog.Logger) {
	msgs, err := s.store.GetMessages(r.Context(), chatID)
	if err != nil {
		logger.Warn("history load failed", "chat_id", chatID, "error", err)
		msgs = nil
	}
	if err := client.SendEvent(session.Event{
		Type:     session.EventHistory,
		ChatID:   chatID,
		Messages: msgs,
	}); err != nil {
		logger.Debug("history send failed", "chat_id", chatID, "error", err)
	}
}

func (s *Server) sendErrorFrame(client *wsClient, msg string) {
	_ = client.SendEvent(session.Event{
		Type:  session.EventError,
		Error: msg,
	})
}

func wsErrorText(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "Chat not found"
	case errors.Is(err, session.ErrClosed):
		return "Chat session is closed"
	default:
		return "Failed to send message"
	}
}
