// Package waclient defines the automation-client capability a session owns:
// a handle that connects an external messaging identity, exposes a small set
// of operations, and emits lifecycle/domain events through a callback.
//
// The client's internal implementation (browser automation, wire protocol)
// lives out of process behind the bridge; this package only speaks to it.
package waclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/antoniostano/wagate/internal/event"
)

var (
	ErrDestroyed   = errors.New("client destroyed")
	ErrUnavailable = errors.New("client not connected")
)

// Event is one emission from the automation client. Data is opaque and
// forwarded verbatim through the dispatch pipeline.
type Event struct {
	Kind event.Kind
	Data json.RawMessage
}

// Handler receives client events. Events for a single client are delivered
// sequentially, in emission order.
type Handler func(Event)

// Client is the capability bound to exactly one session. The owning session
// holds the only long-lived reference.
type Client interface {
	// Initialize begins the asynchronous connect sequence. It never blocks
	// on network activity; connection progress surfaces as events. The
	// sequence is bound to the client's lifetime, not to ctx, so it
	// survives the triggering request. Destroy cancels it.
	Initialize(ctx context.Context) error

	// Ready is closed once the client's execution context is initialized.
	// This is weaker than authenticated: callers that need full
	// connectivity must watch for the authenticated event.
	Ready() <-chan struct{}

	SendMessage(ctx context.Context, chatID, text string) (json.RawMessage, error)
	GetChat(ctx context.Context, chatID string) (json.RawMessage, error)
	GetContact(ctx context.Context, contactID string) (json.RawMessage, error)
	MarkSeen(ctx context.Context, chatID string) error

	// Logout invalidates the persisted credentials on the remote side.
	Logout(ctx context.Context) error

	// Destroy tears the client down. Safe to call more than once.
	Destroy() error
}

// Factory builds a client for a session id, with credentials rooted at
// credentialDir and events delivered to onEvent.
type Factory interface {
	New(sessionID, credentialDir string, onEvent Handler) (Client, error)
}
