package waclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/wagate/internal/event"
)

const (
	bridgeDialTimeout  = 15 * time.Second
	bridgeWriteTimeout = 5 * time.Second
	bridgeCallTimeout  = 30 * time.Second
)

// BridgeClient speaks a JSON request/event frame protocol over a WebSocket to
// the external automation bridge that drives the real messaging client.
type BridgeClient struct {
	baseURL       string
	token         string
	sessionID     string
	credentialDir string
	onEvent       Handler

	dialer websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan bridgeFrame

	ready     chan struct{}
	readyOnce sync.Once

	// lifeCtx spans the client's whole lifetime and is canceled by Destroy.
	// The connect sequence runs on it, never on a caller's context.
	lifeCtx  context.Context
	lifeStop context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once
}

type bridgeFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *bridgeError    `json:"error,omitempty"`
}

type bridgeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *bridgeError) Err() error {
	return fmt.Errorf("bridge error %s: %s", e.Code, e.Message)
}

// BridgeConfig controls bridge client construction.
type BridgeConfig struct {
	URL   string
	Token string
}

// BridgeFactory builds one bridge-backed client per session.
type BridgeFactory struct {
	cfg BridgeConfig
}

func NewBridgeFactory(cfg BridgeConfig) (*BridgeFactory, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid bridge url: %w", err)
	}
	return &BridgeFactory{cfg: cfg}, nil
}

func (f *BridgeFactory) New(sessionID, credentialDir string, onEvent Handler) (Client, error) {
	lifeCtx, lifeStop := context.WithCancel(context.Background())
	return &BridgeClient{
		baseURL:       f.cfg.URL,
		token:         f.cfg.Token,
		sessionID:     sessionID,
		credentialDir: credentialDir,
		onEvent:       onEvent,
		dialer:        websocket.Dialer{HandshakeTimeout: bridgeDialTimeout},
		pending:       make(map[string]chan bridgeFrame),
		ready:         make(chan struct{}),
		lifeCtx:       lifeCtx,
		lifeStop:      lifeStop,
		done:          make(chan struct{}),
	}, nil
}

// Initialize dials the bridge and starts the frame pump in the background.
// Dial or init failures surface as a disconnected event, not as an error
// from Initialize. The connect sequence runs on the client's lifetime, not
// on ctx: creation requests are answered (and their contexts canceled)
// while the session keeps connecting in the background.
func (c *BridgeClient) Initialize(ctx context.Context) error {
	select {
	case <-c.done:
		return ErrDestroyed
	default:
	}
	go c.run(c.lifeCtx)
	return nil
}

func (c *BridgeClient) run(ctx context.Context) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.baseURL, header)
	if err != nil {
		log.Printf("session %s: bridge dial failed: %v", c.sessionID, err)
		c.emitDisconnected(err.Error())
		return
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	initParams, _ := json.Marshal(map[string]string{
		"sessionId": c.sessionID,
		"dataDir":   c.credentialDir,
	})
	initID := uuid.NewString()
	if err := c.writeFrame(bridgeFrame{Type: "req", ID: initID, Method: "session.init", Params: initParams}); err != nil {
		log.Printf("session %s: bridge init write failed: %v", c.sessionID, err)
		c.emitDisconnected(err.Error())
		_ = conn.Close()
		return
	}

	// The init ack means the bridge allocated an execution context for this
	// session. That is the readiness signal; authentication comes later as
	// its own event.
	initCh := c.register(initID)

	go c.readLoop(conn)

	select {
	case <-ctx.Done():
		_ = conn.Close()
		return
	case <-c.done:
		_ = conn.Close()
		return
	case frame := <-initCh:
		if frame.Error != nil {
			log.Printf("session %s: bridge init rejected: %v", c.sessionID, frame.Error.Err())
			c.emitDisconnected(frame.Error.Message)
			_ = conn.Close()
			return
		}
		c.readyOnce.Do(func() { close(c.ready) })
	}
}

func (c *BridgeClient) readLoop(conn *websocket.Conn) {
	defer func() {
		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
	}()

	for {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("session %s: bridge read failed: %v", c.sessionID, err)
				c.emitDisconnected(err.Error())
			}
			return
		}

		switch frame.Type {
		case "res":
			c.pendingMu.Lock()
			ch, ok := c.pending[frame.ID]
			if ok {
				delete(c.pending, frame.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- frame
			}
		case "event":
			c.dispatchEvent(frame)
		}
	}
}

func (c *BridgeClient) dispatchEvent(frame bridgeFrame) {
	kind, ok := eventKind(frame.Event)
	if !ok {
		log.Printf("session %s: bridge emitted unknown event %q", c.sessionID, frame.Event)
		return
	}
	if c.onEvent != nil {
		c.onEvent(Event{Kind: kind, Data: frame.Payload})
	}
}

func eventKind(name string) (event.Kind, bool) {
	switch event.Kind(name) {
	case event.KindQR, event.KindAuthenticated, event.KindReady,
		event.KindDisconnected, event.KindMessage, event.KindMessageAck,
		event.KindMedia, event.KindStateChange:
		return event.Kind(name), true
	default:
		return "", false
	}
}

func (c *BridgeClient) emitDisconnected(reason string) {
	if c.onEvent == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{"reason": reason})
	c.onEvent(Event{Kind: event.KindDisconnected, Data: data})
}

func (c *BridgeClient) register(id string) chan bridgeFrame {
	ch := make(chan bridgeFrame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *BridgeClient) writeFrame(frame bridgeFrame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrUnavailable
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	return c.conn.WriteJSON(frame)
}

func (c *BridgeClient) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrDestroyed
	default:
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := c.register(id)
	if err := c.writeFrame(bridgeFrame{Type: "req", ID: id, Method: method, Params: raw}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	timer := time.NewTimer(bridgeCallTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDestroyed
	case <-timer.C:
		return nil, fmt.Errorf("bridge call %s timed out", method)
	case frame, ok := <-ch:
		if !ok {
			return nil, ErrUnavailable
		}
		if frame.Error != nil {
			return nil, frame.Error.Err()
		}
		return frame.Payload, nil
	}
}

func (c *BridgeClient) Ready() <-chan struct{} { return c.ready }

func (c *BridgeClient) SendMessage(ctx context.Context, chatID, text string) (json.RawMessage, error) {
	return c.call(ctx, "message.send", map[string]string{
		"chatId":         chatID,
		"text":           text,
		"idempotencyKey": uuid.NewString(),
	})
}

func (c *BridgeClient) GetChat(ctx context.Context, chatID string) (json.RawMessage, error) {
	return c.call(ctx, "chat.get", map[string]string{"chatId": chatID})
}

func (c *BridgeClient) GetContact(ctx context.Context, contactID string) (json.RawMessage, error) {
	return c.call(ctx, "contact.get", map[string]string{"contactId": contactID})
}

func (c *BridgeClient) MarkSeen(ctx context.Context, chatID string) error {
	_, err := c.call(ctx, "chat.markSeen", map[string]string{"chatId": chatID})
	return err
}

func (c *BridgeClient) Logout(ctx context.Context) error {
	_, err := c.call(ctx, "session.logout", map[string]string{"sessionId": c.sessionID})
	return err
}

func (c *BridgeClient) Destroy() error {
	c.doneOnce.Do(func() {
		c.lifeStop()
		close(c.done)
		c.writeMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()
	})
	return nil
}
