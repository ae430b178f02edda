// Package session bridges discrete chat messages and the continuous
// streaming interface of the underlying agent call.
//
// # Overview
//
// Each conversation owns one Session, which in turn owns one Driver.
// The Driver runs a single long-lived agent call whose prompt source is
// a queue of user texts and whose output is classified into a small
// closed set of events. The Session drains that event stream once and
// fans every event out to all currently-subscribed connections.
//
//	SendUserMessage ─> promptQueue ─> agent call ─> Driver ─> drain ─> subscribers
//
// # Ordering
//
// User texts reach the agent call strictly in submission order. Events
// reach every subscriber strictly in the order the Driver emitted them,
// and the synthesized agent_status event always immediately precedes
// its tool_use event.
//
// # Lifecycle
//
// Sessions are created lazily by the Registry and live until removed.
// Close is idempotent: it ends the agent's input stream, cancels the
// in-flight call, and clears the subscriber set. A close-induced exit
// is silent; any other call failure becomes a single error event
// before the stream terminates.
//
// # Delivery policy
//
// Broadcast is best-effort per subscriber: the first failed send drops
// that subscriber without retry and without affecting the others.
// Assistant text is persisted before delivery, so a broken subscriber
// can never block the message history.
package session
