// ABOUTME: Tests for Session fan-out, persistence, and lifecycle
// ABOUTME: Covers the end-to-end scenarios: ordering, subscriber churn, close

package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Atium-Research/at-backend/internal/agent"
	"github.com/Atium-Research/at-backend/internal/store"
)

func newTestSession(t *testing.T, runner agent.Runner) (*Session, store.Store, string) {
	t.Helper()
	st := store.NewMemoryStore()
	chat, err := st.CreateChat(context.Background(), "")
	require.NoError(t, err)
	return New(chat.ID, st, runner, nil), st, chat.ID
}

// Scenario A: subscribe before sending; user_message, assistant events,
// then a successful result, in order.
func TestSession_MessageFlow(t *testing.T) {
	runner := &scriptedRunner{
		replies: map[string][]agent.Message{
			"hello": {
				assistantText("hi, how can I help?"),
				toolUse("Read", "tu_1"),
			},
		},
		final: []agent.Message{successResult()},
	}
	s, st, chatID := newTestSession(t, runner)
	defer s.Close()

	sub := newChanSubscriber()
	s.Subscribe(sub)

	require.NoError(t, s.SendUserMessage(context.Background(), "hello"))

	ev := sub.next(t)
	assert.Equal(t, EventUserMessage, ev.Type)
	assert.Equal(t, "hello", ev.Content)
	assert.Equal(t, chatID, ev.ChatID)

	ev = sub.next(t)
	assert.Equal(t, EventAssistantMessage, ev.Type)
	assert.Equal(t, "hi, how can I help?", ev.Content)

	ev = sub.next(t)
	assert.Equal(t, EventAgentStatus, ev.Type)
	assert.Equal(t, "Reading a file", ev.Message)

	ev = sub.next(t)
	assert.Equal(t, EventToolUse, ev.Type)
	assert.Equal(t, "Read", ev.ToolName)

	// End the input stream so the scripted call finishes with a result.
	s.driver.queue.Close()

	ev = sub.nextOfType(t, EventResult)
	assert.True(t, ev.Success)

	// Both sides of the exchange were persisted, in order.
	msgs, err := st.GetMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi, how can I help?", msgs[1].Content)
}

// The agent_status event for a tool_use is broadcast immediately before
// it, for every tool_use, and references the same tool.
func TestSession_StatusPrecedesToolUse(t *testing.T) {
	runner := &scriptedRunner{
		replies: map[string][]agent.Message{
			"go": {
				toolUse("Bash", "tu_1"),
				toolUse("FrobnicateDeploy", "tu_2"),
			},
		},
		final: []agent.Message{successResult()},
	}
	s, _, _ := newTestSession(t, runner)
	defer s.Close()

	sub := newChanSubscriber()
	s.Subscribe(sub)
	require.NoError(t, s.SendUserMessage(context.Background(), "go"))
	s.driver.queue.Close()

	var got []Event
	for {
		ev := sub.next(t)
		got = append(got, ev)
		if ev.Type == EventResult {
			break
		}
	}

	for i, ev := range got {
		if ev.Type == EventToolUse {
			require.Greater(t, i, 0)
			prev := got[i-1]
			assert.Equal(t, EventAgentStatus, prev.Type)
			assert.Equal(t, statusForTool(ev.ToolName), prev.Message)
		}
	}
	// Unknown tool names fall back to the generic phrase.
	assert.Equal(t, "Using FrobnicateDeploy", statusForTool("FrobnicateDeploy"))
}

// Scenario B: one of two subscribers breaks mid-stream; the other still
// receives everything including the final result.
func TestSession_BrokenSubscriberIsolated(t *testing.T) {
	runner := &scriptedRunner{
		replies: map[string][]agent.Message{
			"go": {assistantText("one"), assistantText("two"), assistantText("three")},
		},
		final: []agent.Message{successResult()},
	}
	s, _, _ := newTestSession(t, runner)
	defer s.Close()

	healthy := newChanSubscriber()
	broken := &failingSubscriber{okCount: 2}
	s.Subscribe(healthy)
	s.Subscribe(broken)

	require.NoError(t, s.SendUserMessage(context.Background(), "go"))
	s.driver.queue.Close()

	var types []EventType
	for {
		ev := healthy.next(t)
		types = append(types, ev.Type)
		if ev.Type == EventResult {
			break
		}
	}
	assert.Equal(t, []EventType{
		EventUserMessage,
		EventAssistantMessage,
		EventAssistantMessage,
		EventAssistantMessage,
		EventResult,
	}, types)

	// The broken subscriber stopped receiving after its failure and was
	// dropped from the set.
	assert.LessOrEqual(t, len(broken.delivered()), 2)
	s.mu.Lock()
	_, stillThere := s.subscribers[broken]
	s.mu.Unlock()
	assert.False(t, stillThere)
}

// Scenario C: close while the agent call is awaiting input; no error
// event, and the drain loop terminates.
func TestSession_CloseWhileCallInFlight(t *testing.T) {
	blocked := make(chan struct{})
	s, _, _ := newTestSession(t, runnerFunc(func(ctx context.Context, turns <-chan agent.UserTurn) (<-chan agent.Message, error) {
		out := make(chan agent.Message)
		go func() {
			defer close(out)
			close(blocked)
			<-ctx.Done()
		}()
		return out, nil
	}))

	sub := newChanSubscriber()
	s.Subscribe(sub)
	require.NoError(t, s.SendUserMessage(context.Background(), "hang"))

	select {
	case <-blocked:
	case <-time.After(time.Second):
		t.Fatal("agent call never started")
	}

	s.Close()

	select {
	case <-s.Drained():
	case <-time.After(2 * time.Second):
		t.Fatal("drain loop did not terminate after close")
	}

	for {
		select {
		case ev := <-sub.ch:
			assert.NotEqual(t, EventError, ev.Type, "close must not emit an error event")
			continue
		default:
		}
		break
	}
}

// Scenario D: texts submitted in rapid succession before the call has
// consumed anything reach the call strictly in order.
func TestSession_InputOrderPreserved(t *testing.T) {
	runner := &scriptedRunner{}
	s, _, _ := newTestSession(t, runner)
	defer s.Close()

	require.NoError(t, s.SendUserMessage(context.Background(), "a"))
	require.NoError(t, s.SendUserMessage(context.Background(), "b"))
	require.NoError(t, s.SendUserMessage(context.Background(), "c"))

	require.Eventually(t, func() bool {
		return len(runner.seenTurns()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, runner.seenTurns())
}

// Sending twice never produces a second concurrent agent call.
func TestSession_AtMostOneActiveCall(t *testing.T) {
	runner := &scriptedRunner{}
	s, _, _ := newTestSession(t, runner)
	defer s.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SendUserMessage(context.Background(), "again"))
	}

	require.Eventually(t, func() bool {
		return len(runner.seenTurns()) == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), runner.runs.Load())
}

func TestSession_SubscribeIdempotentUnsubscribeSafe(t *testing.T) {
	runner := &scriptedRunner{}
	s, _, _ := newTestSession(t, runner)
	defer s.Close()

	sub := newChanSubscriber()
	s.Subscribe(sub)
	s.Subscribe(sub)

	s.mu.Lock()
	count := len(s.subscribers)
	s.mu.Unlock()
	assert.Equal(t, 1, count)

	other := newChanSubscriber()
	s.Unsubscribe(other) // never subscribed
	s.Unsubscribe(sub)
	s.Unsubscribe(sub)

	s.mu.Lock()
	count = len(s.subscribers)
	s.mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestSession_CloseIdempotentAndRejectsSends(t *testing.T) {
	runner := &scriptedRunner{}
	s, _, _ := newTestSession(t, runner)

	require.NoError(t, s.SendUserMessage(context.Background(), "hi"))
	s.Close()
	s.Close()
	s.Close()

	err := s.SendUserMessage(context.Background(), "after close")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSession_SendToUnknownChatFails(t *testing.T) {
	st := store.NewMemoryStore()
	s := New("missing-chat", st, &scriptedRunner{}, nil)
	defer s.Close()

	err := s.SendUserMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvent_MarshalShapes(t *testing.T) {
	cost := 0.25
	cases := map[string]struct {
		event Event
		want  map[string]any
	}{
		"assistant_message": {
			Event{Type: EventAssistantMessage, ChatID: "c1", Content: "hi"},
			map[string]any{"type": "assistant_message", "chatId": "c1", "content": "hi"},
		},
		"tool_use": {
			Event{Type: EventToolUse, ChatID: "c1", ToolName: "Bash", ToolID: "t1", ToolInput: map[string]any{"command": "ls"}},
			map[string]any{"type": "tool_use", "chatId": "c1", "toolName": "Bash", "toolId": "t1", "toolInput": map[string]any{"command": "ls"}},
		},
		"agent_status": {
			Event{Type: EventAgentStatus, ChatID: "c1", Message: "Running a command"},
			map[string]any{"type": "agent_status", "chatId": "c1", "message": "Running a command"},
		},
		"result": {
			Event{Type: EventResult, ChatID: "c1", Success: true, Cost: &cost, DurationMs: 5},
			map[string]any{"type": "result", "chatId": "c1", "success": true, "cost": 0.25, "duration_ms": float64(5)},
		},
		"result_no_cost": {
			Event{Type: EventResult, ChatID: "c1", Success: false, DurationMs: 5},
			map[string]any{"type": "result", "chatId": "c1", "success": false, "cost": nil, "duration_ms": float64(5)},
		},
		"error": {
			Event{Type: EventError, ChatID: "c1", Error: "boom"},
			map[string]any{"type": "error", "chatId": "c1", "error": "boom"},
		},
		"history_empty": {
			Event{Type: EventHistory, ChatID: "c1"},
			map[string]any{"type": "history", "chatId": "c1", "messages": []any{}},
		},
		"connected": {
			Event{Type: EventConnected, Message: "Connected to chat server"},
			map[string]any{"type": "connected", "message": "Connected to chat server"},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			require.NoError(t, err)
			var got map[string]any
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, tc.want, got)
		})
	}
}
