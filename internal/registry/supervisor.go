package registry

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/waclient"
)

// handleEvent is the supervisor: it applies the state transition for the
// event (if any), wraps it into an envelope, and pushes it through the
// filter into both delivery sinks. It runs on the client's event goroutine,
// so events for one session arrive here in emission order.
func (r *Registry) handleEvent(id string, ev waclient.Event) {
	sess, ok := r.get(id)
	if !ok {
		// Terminated while the event was in flight.
		return
	}

	r.applyTransition(sess, ev)
	r.metrics.SessionEvents.WithLabelValues(string(ev.Kind)).Inc()

	env := event.New(id, ev.Kind, ev.Data)
	if !r.filter.Enabled(ev.Kind) {
		r.metrics.EventsSuppressed.WithLabelValues(string(ev.Kind)).Inc()
		return
	}

	// The two sinks are independent: webhook delivery is asynchronous
	// inside the dispatcher, hub delivery is non-blocking per subscriber.
	// Neither failure path touches the other or the session.
	r.webhooks.Dispatch(sess.webhookURL, env)
	r.hubs.Broadcast(id, env)

	if r.opts.AutoMarkSeen && ev.Kind == event.KindMessage {
		r.autoMarkSeen(sess, ev.Data)
	}
}

func (r *Registry) applyTransition(sess *Session, ev waclient.Event) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch ev.Kind {
	case event.KindQR:
		if sess.status == StatusStarting || sess.status == StatusQRPending {
			sess.qrPayload = qrPayloadFrom(ev.Data)
			sess.setStatus(StatusQRPending)
		}
	case event.KindAuthenticated, event.KindReady:
		if sess.status == StatusStarting || sess.status == StatusQRPending {
			sess.qrPayload = ""
			sess.setStatus(StatusConnected)
		}
	case event.KindDisconnected:
		if sess.status == StatusConnected {
			sess.qrPayload = ""
			sess.setStatus(StatusDisconnected)
		}
	}
}

// qrPayloadFrom pulls the QR string out of the event payload. Bridge qr
// events carry {"qr": "<payload>"}; anything else is kept verbatim.
func qrPayloadFrom(data json.RawMessage) string {
	var body struct {
		QR string `json:"qr"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.QR != "" {
		return body.QR
	}
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		return plain
	}
	return string(data)
}

// autoMarkSeen acknowledges an inbound message on its originating chat.
// Fire-and-forget: failure is logged and never blocks event dispatch.
func (r *Registry) autoMarkSeen(sess *Session, data json.RawMessage) {
	var body struct {
		From   string `json:"from"`
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return
	}
	chatID := body.ChatID
	if chatID == "" {
		chatID = body.From
	}
	if chatID == "" {
		return
	}

	client := sess.currentClient()
	if client == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.MarkSeen(ctx, chatID); err != nil {
			log.Printf("session %s: auto mark-seen for %s failed: %v", sess.id, chatID, err)
		}
	}()
}

// SendMessage forwards a text message through the session's client.
func (r *Registry) SendMessage(ctx context.Context, id, chatID, text string) (json.RawMessage, error) {
	client, err := r.clientFor(id)
	if err != nil {
		return nil, err
	}
	return client.SendMessage(ctx, chatID, text)
}

// GetChat fetches a chat through the session's client. The payload is opaque.
func (r *Registry) GetChat(ctx context.Context, id, chatID string) (json.RawMessage, error) {
	client, err := r.clientFor(id)
	if err != nil {
		return nil, err
	}
	return client.GetChat(ctx, chatID)
}

// GetContact fetches a contact through the session's client.
func (r *Registry) GetContact(ctx context.Context, id, contactID string) (json.RawMessage, error) {
	client, err := r.clientFor(id)
	if err != nil {
		return nil, err
	}
	return client.GetContact(ctx, contactID)
}

func (r *Registry) clientFor(id string) (waclient.Client, error) {
	sess, ok := r.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	client := sess.currentClient()
	if client == nil {
		return nil, waclient.ErrUnavailable
	}
	return client, nil
}
