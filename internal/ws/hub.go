// Package ws fans envelopes out to the live WebSocket subscribers of each
// session.
package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/observability"
)

// Message is the self-describing outbound frame sent to subscribers.
type Message struct {
	DataType  event.Kind      `json:"dataType"`
	Data      json.RawMessage `json:"data"`
	SessionID string          `json:"sessionId"`
}

// Options tunes the per-connection keepalive protocol.
type Options struct {
	PingInterval time.Duration
	PongWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	return o
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// trySend queues a frame without blocking. The second return value is false
// when the buffer is full, meaning the subscriber cannot keep up.
func (s *subscriber) trySend(data []byte) (sent, alive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, true
	}
	select {
	case s.send <- data:
		return true, true
	default:
		return false, false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
	_ = s.conn.Close()
}

// Hub is the subscriber set for one session id. It is safe for concurrent
// join, broadcast, and close.
type Hub struct {
	sessionID string
	opts      Options
	metrics   *observability.Metrics

	mu     sync.Mutex
	subs   map[*subscriber]bool
	closed bool
	wg     sync.WaitGroup
}

func newHub(sessionID string, opts Options, metrics *observability.Metrics) *Hub {
	return &Hub{
		sessionID: sessionID,
		opts:      opts.withDefaults(),
		metrics:   metrics,
		subs:      make(map[*subscriber]bool),
	}
}

// join adopts an upgraded connection. Returns false when the hub is already
// closed, in which case the connection is closed immediately.
func (h *Hub) join(conn *websocket.Conn) bool {
	sub := &subscriber{conn: conn, send: make(chan []byte, 64)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return false
	}
	h.subs[sub] = true
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.WSConnections.Inc()
	go h.writePump(sub)
	go h.readPump(sub)
	return true
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub]
	if present {
		delete(h.subs, sub)
	}
	h.mu.Unlock()

	if present {
		sub.close()
		h.metrics.WSConnections.Dec()
	}
}

// writePump owns all writes on the connection, including keepalive pings.
func (h *Hub) writePump(sub *subscriber) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	defer h.remove(sub)

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				_ = sub.conn.SetWriteDeadline(time.Now().Add(time.Second))
				_ = sub.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.opts.PingInterval))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.metrics.DeliveryFailures.WithLabelValues("websocket").Inc()
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(h.opts.PingInterval))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is pong handling and noticing
// dead connections.
func (h *Hub) readPump(sub *subscriber) {
	defer h.wg.Done()
	defer h.remove(sub)

	sub.conn.SetReadLimit(1 << 20)
	_ = sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast sends the envelope to every subscriber independently. A slow
// subscriber is evicted rather than waited on.
func (h *Hub) broadcast(env event.Envelope) {
	msg := Message{DataType: env.DataType, Data: env.Data, SessionID: env.SessionID}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("session %s: websocket marshal failed for %s: %v", env.SessionID, env.DataType, err)
		return
	}

	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sent, alive := sub.trySend(data)
		switch {
		case sent:
			h.metrics.EventsDispatched.WithLabelValues("websocket", string(env.DataType)).Inc()
		case !alive:
			log.Printf("session %s: websocket subscriber too slow, evicting", env.SessionID)
			h.metrics.DeliveryFailures.WithLabelValues("websocket").Inc()
			h.remove(sub)
		}
	}
}

// close terminates every subscriber and returns once all connection pumps
// have confirmed shutdown.
func (h *Hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.wg.Wait()
		return
	}
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.remove(sub)
	}
	h.wg.Wait()
}

func (h *Hub) connectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
