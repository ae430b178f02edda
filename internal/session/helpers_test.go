// ABOUTME: Test doubles shared by the session package tests
// ABOUTME: Scripted agent runners and channel/failing subscribers

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Atium-Research/at-backend/internal/agent"
)

// scriptedRunner replies to each turn with a fixed message script and
// records the order turns arrive in. The message channel closes when
// the turn stream closes (after emitting the final script) or when ctx
// is cancelled.
type scriptedRunner struct {
	replies map[string][]agent.Message // keyed by turn content
	final   []agent.Message            // emitted after end-of-input

	mu   sync.Mutex
	seen []string
	runs atomic.Int32
}

func (r *scriptedRunner) Run(ctx context.Context, turns <-chan agent.UserTurn) (<-chan agent.Message, error) {
	r.runs.Add(1)
	out := make(chan agent.Message, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case turn, ok := <-turns:
				if !ok {
					for _, m := range r.final {
						out <- m
					}
					return
				}
				r.mu.Lock()
				r.seen = append(r.seen, turn.Content)
				r.mu.Unlock()
				for _, m := range r.replies[turn.Content] {
					select {
					case out <- m:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (r *scriptedRunner) seenTurns() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

// assistantText builds an assistant message with one text block.
func assistantText(text string) agent.Message {
	return &agent.AssistantMessage{Content: []agent.ContentBlock{&agent.TextBlock{Text: text}}}
}

// toolUse builds an assistant message with one tool_use block.
func toolUse(name, id string) agent.Message {
	return &agent.AssistantMessage{Content: []agent.ContentBlock{
		&agent.ToolUseBlock{ID: id, Name: name, Input: map[string]any{"arg": "v"}},
	}}
}

// successResult builds a successful result message.
func successResult() agent.Message {
	cost := 0.01
	return &agent.ResultMessage{IsError: false, TotalCostUSD: &cost, DurationMs: 42}
}

// chanSubscriber delivers events into a buffered channel and never fails.
type chanSubscriber struct {
	ch chan Event
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{ch: make(chan Event, 128)}
}

func (s *chanSubscriber) SendEvent(ev Event) error {
	s.ch <- ev
	return nil
}

// next waits for the subscriber's next event.
func (s *chanSubscriber) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-s.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// nextOfType waits for the next event of the given type, failing on
// anything unexpected arriving first is the caller's business: it
// simply skips other types.
func (s *chanSubscriber) nextOfType(t *testing.T, et EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev.Type == et {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", et)
			return Event{}
		}
	}
}

// failingSubscriber fails every send after the first okCount deliveries.
type failingSubscriber struct {
	mu      sync.Mutex
	okCount int
	got     []Event
}

func (s *failingSubscriber) SendEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) >= s.okCount {
		return errBrokenPipe
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *failingSubscriber) delivered() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.got...)
}

var errBrokenPipe = &subscriberError{"broken pipe"}

type subscriberError struct{ msg string }

func (e *subscriberError) Error() string { return e.msg }
