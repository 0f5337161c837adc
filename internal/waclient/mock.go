package waclient

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/antoniostano/wagate/internal/event"
)

// MockFactory builds scriptable in-memory clients. It backs the registry and
// httpapi tests, and WAGATE_CLIENT_MODE=mock for local development.
type MockFactory struct {
	mu      sync.Mutex
	clients map[string]*MockClient

	// FailFor makes New fail for specific session ids.
	FailFor map[string]error
	// InitFailFor makes the built client's Initialize fail for specific ids.
	InitFailFor map[string]error
	// HoldReady keeps the readiness channel open until ResolveReady is called.
	HoldReady bool
}

func NewMockFactory() *MockFactory {
	return &MockFactory{clients: make(map[string]*MockClient)}
}

func (f *MockFactory) New(sessionID, credentialDir string, onEvent Handler) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailFor[sessionID]; ok {
		return nil, err
	}
	c := &MockClient{
		sessionID:     sessionID,
		credentialDir: credentialDir,
		onEvent:       onEvent,
		holdReady:     f.HoldReady,
		initErr:       f.InitFailFor[sessionID],
		ready:         make(chan struct{}),
	}
	f.clients[sessionID] = c
	return c, nil
}

// Client returns the most recently built client for a session id.
func (f *MockFactory) Client(sessionID string) *MockClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[sessionID]
}

// MockClient is a deterministic Client whose events are pushed by tests.
type MockClient struct {
	sessionID     string
	credentialDir string
	onEvent       Handler
	holdReady     bool
	initErr       error

	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.Mutex
	destroyed bool
	loggedOut bool
	sent      []SentMessage
	seen      []string
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	ChatID string
	Text   string
}

func (c *MockClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	destroyed := c.destroyed
	c.mu.Unlock()
	if destroyed {
		return ErrDestroyed
	}
	if c.initErr != nil {
		return c.initErr
	}
	if !c.holdReady {
		c.ResolveReady()
	}
	return nil
}

// ResolveReady resolves the readiness future. Idempotent.
func (c *MockClient) ResolveReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *MockClient) Ready() <-chan struct{} { return c.ready }

// Emit delivers an event to the bound handler, synchronously, the way the
// bridge's frame pump would.
func (c *MockClient) Emit(kind event.Kind, data json.RawMessage) {
	if c.onEvent != nil {
		c.onEvent(Event{Kind: kind, Data: data})
	}
}

func (c *MockClient) SendMessage(ctx context.Context, chatID, text string) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil, ErrDestroyed
	}
	c.sent = append(c.sent, SentMessage{ChatID: chatID, Text: text})
	return json.Marshal(map[string]string{
		"id":     uuid.NewString(),
		"chatId": chatID,
		"text":   text,
	})
}

func (c *MockClient) GetChat(ctx context.Context, chatID string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"id": chatID, "name": "chat " + chatID})
}

func (c *MockClient) GetContact(ctx context.Context, contactID string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"id": contactID, "name": "contact " + contactID})
}

func (c *MockClient) MarkSeen(ctx context.Context, chatID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.seen = append(c.seen, chatID)
	return nil
}

func (c *MockClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.loggedOut = true
	return nil
}

func (c *MockClient) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = true
	return nil
}

// Sent returns a copy of the recorded SendMessage calls.
func (c *MockClient) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Seen returns the chat ids passed to MarkSeen.
func (c *MockClient) Seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.seen))
	copy(out, c.seen)
	return out
}

// Destroyed reports whether Destroy was called.
func (c *MockClient) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// LoggedOut reports whether Logout was called.
func (c *MockClient) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}
