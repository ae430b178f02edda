// ABOUTME: Terminal client for at-backend over the WebSocket transport.
// ABOUTME: Subscribes to a chat, prints live events, and sends stdin lines.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
)

// serverFrame is one inbound event from the backend. Fields are a union
// across event types; Type decides which are meaningful.
type serverFrame struct {
	Type       string           `json:"type"`
	ChatID     string           `json:"chatId"`
	Content    string           `json:"content"`
	Message    string           `json:"message"`
	ToolName   string           `json:"toolName"`
	Success    bool             `json:"success"`
	Cost       *float64         `json:"cost"`
	DurationMs int64            `json:"duration_ms"`
	Error      string           `json:"error"`
	Messages   []historyMessage `json:"messages"`
}

type historyMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

var (
	assistantColor = color.New(color.FgGreen)
	statusColor    = color.New(color.FgHiBlack)
	toolColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

func main() {
	server := flag.String("server", "http://localhost:8000", "Backend server URL")
	chatID := flag.String("chat", "", "Chat ID to join (empty creates a new chat)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *server, *chatID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, server, chatID string) error {
	if chatID == "" {
		created, err := createChat(ctx, server)
		if err != nil {
			return fmt.Errorf("creating chat: %w", err)
		}
		chatID = created.ID
		fmt.Printf("Created chat %s\n", chatID)
	}

	wsURL := strings.Replace(server, "http", "ws", 1) + "/ws"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	fmt.Printf("at-chat connected to %s (chat %s)\n", server, chatID)
	fmt.Println("Type a message and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "chatId": chatID}); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}

	// Reader goroutine prints events as they arrive; its exit ends the
	// session even if stdin is still open.
	done := make(chan error, 1)
	go func() {
		done <- readEvents(conn)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if input == "/chats" {
			if err := listChats(ctx, server); err != nil {
				errorColor.Printf("[error] %v\n", err)
			}
			continue
		}

		if input == "/help" {
			printHelp()
			continue
		}

		if err := conn.WriteJSON(map[string]string{
			"type":    "chat",
			"chatId":  chatID,
			"content": input,
		}); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
}

// readEvents prints inbound frames until the connection drops.
func readEvents(conn *websocket.Conn) error {
	for {
		var frame serverFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		printFrame(frame)
	}
}

func printFrame(frame serverFrame) {
	switch frame.Type {
	case "connected":
		statusColor.Printf("* %s\n", frame.Message)
	case "history":
		for _, m := range frame.Messages {
			if m.Role == "user" {
				fmt.Printf("you> %s\n", m.Content)
			} else {
				assistantColor.Printf("agent> ")
				fmt.Println(m.Content)
			}
		}
	case "user_message":
		// Our own message echoed back; the prompt already shows it.
	case "agent_status":
		statusColor.Printf("* %s...\n", frame.Message)
	case "tool_use":
		toolColor.Printf("* tool: %s\n", frame.ToolName)
	case "assistant_message":
		assistantColor.Printf("agent> ")
		fmt.Println(frame.Content)
	case "result":
		if frame.Cost != nil {
			statusColor.Printf("* done in %dms ($%.4f)\n", frame.DurationMs, *frame.Cost)
		} else {
			statusColor.Printf("* done in %dms\n", frame.DurationMs)
		}
	case "error":
		errorColor.Printf("[error] %s\n", frame.Error)
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /chats      List chats on the server")
	fmt.Println("  /help       Show this help")
	fmt.Println("  /quit       Exit")
}

func createChat(ctx context.Context, server string) (*chatInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/chats", bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var chat chatInfo
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &chat, nil
}

func listChats(ctx context.Context, server string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/chats", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching chats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	var chats []chatInfo
	if err := json.NewDecoder(resp.Body).Decode(&chats); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if len(chats) == 0 {
		fmt.Println("No chats yet")
		return nil
	}
	for _, c := range chats {
		fmt.Printf("  %s  %s\n", c.ID, c.Title)
	}
	return nil
}
