// ABOUTME: Driver owns one agent call per conversation and classifies its output
// ABOUTME: Emits typed events on a channel that closes exactly once when the call ends

package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Atium-Research/at-backend/internal/agent"
)

// eventBufferSize is the driver output channel buffer. Events emitted
// before the drain loop starts must not block the classification loop.
const eventBufferSize = 64

// Driver runs at most one agent call, fed by its prompt queue. Events
// classified from the call's output appear on Events(); the channel
// closes exactly once after the call ends for any reason.
type Driver struct {
	runner agent.Runner
	queue  *promptQueue
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Event

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewDriver creates a driver for one conversation. The agent call does
// not start until Start.
func NewDriver(runner agent.Runner, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Driver{
		runner: runner,
		queue:  newPromptQueue(),
		logger: logger.With("component", "driver"),
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan Event, eventBufferSize),
	}
}

// Start begins the agent call. Idempotent: a second call is a no-op
// even if the first call is still running.
func (d *Driver) Start() {
	d.startOnce.Do(func() {
		go d.run()
	})
}

// Submit enqueues one user text for the running (or future) call.
func (d *Driver) Submit(text string) {
	d.queue.Submit(text)
}

// Events returns the classified output stream. Single consumer.
func (d *Driver) Events() <-chan Event {
	return d.out
}

// Close ends the session's input stream and cancels the underlying
// call. Idempotent and safe while the call is mid-flight; a close-
// induced exit never surfaces as an error event.
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.queue.Close()
		d.cancel()
	})
}

// run executes the agent call and classifies everything it yields.
func (d *Driver) run() {
	defer close(d.out)

	msgs, err := d.runner.Run(d.ctx, d.queue.feed(d.ctx))
	if err != nil {
		if !d.closed.Load() {
			d.logger.Error("agent call failed to start", "error", err)
			d.out <- Event{Type: EventError, Error: err.Error()}
		}
		return
	}

	for msg := range msgs {
		if d.closed.Load() {
			break
		}
		switch m := msg.(type) {
		case *agent.AssistantMessage:
			for _, block := range m.Content {
				switch b := block.(type) {
				case *agent.TextBlock:
					d.out <- Event{Type: EventAssistantMessage, Content: b.Text}
				case *agent.ToolUseBlock:
					d.out <- Event{
						Type:      EventToolUse,
						ToolName:  b.Name,
						ToolID:    b.ID,
						ToolInput: b.Input,
					}
				}
			}
		case *agent.ResultMessage:
			d.out <- Event{
				Type:       EventResult,
				Success:    !m.IsError,
				Cost:       m.TotalCostUSD,
				DurationMs: m.DurationMs,
			}
		case *agent.ErrorMessage:
			// Suppressed after close: the consumer is gone and a
			// cancellation-induced failure is not an error.
			if !d.closed.Load() {
				d.logger.Error("agent call failed", "error", m.Err)
				d.out <- Event{Type: EventError, Error: m.Err.Error()}
			}
		default:
			// system messages, future kinds
		}
	}
}
