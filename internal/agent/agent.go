// ABOUTME: Agent call boundary consumed by the session layer
// ABOUTME: Defines the Runner interface, prompt turns, and fixed call options

package agent

import "context"

// UserTurn is one user prompt fed into a running agent call.
type UserTurn struct {
	Content string
}

// Options is the fixed configuration for an agent call. Values come from
// config at startup and never change for the life of a conversation.
type Options struct {
	Model        string
	SystemPrompt string
	MaxTurns     int
	AllowedTools []string
}

// Runner owns one invocation of the underlying agent call. Run consumes
// user turns from the given channel until it is closed and emits typed
// messages on the returned channel, which is closed when the call ends.
// Cancelling ctx stops the call cooperatively; after cancellation the
// message channel still closes.
//
// A mid-call failure is delivered as a terminal ErrorMessage before the
// channel closes. Run itself only fails when the call cannot start.
type Runner interface {
	Run(ctx context.Context, turns <-chan UserTurn) (<-chan Message, error)
}
