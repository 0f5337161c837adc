// Package dispatch delivers envelopes to external HTTP destinations.
package dispatch

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/observability"
)

// SecretHeader carries the shared secret so receivers can authenticate the
// gateway.
const SecretHeader = "X-Wagate-Secret"

// WebhookDispatcher issues best-effort, fire-and-forget deliveries. There are
// no retries and no backpressure: delivery is strictly at-most-once, and a
// slow or unreachable destination never stalls event processing.
type WebhookDispatcher struct {
	client  *http.Client
	secret  string
	metrics *observability.Metrics
}

func NewWebhookDispatcher(secret string, timeout time.Duration, metrics *observability.Metrics) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		client:  &http.Client{Timeout: timeout},
		secret:  secret,
		metrics: metrics,
	}
}

// Dispatch posts the envelope to url in the background. Failures are logged
// with session and event context and otherwise swallowed; they never reach
// the emitting session's processing path.
func (d *WebhookDispatcher) Dispatch(url string, env event.Envelope) {
	if url == "" {
		return
	}
	body, err := json.Marshal(env)
	if err != nil {
		log.Printf("session %s: webhook marshal failed for %s: %v", env.SessionID, env.DataType, err)
		return
	}

	go func() {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			d.fail(env, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if d.secret != "" {
			req.Header.Set(SecretHeader, d.secret)
		}

		res, err := d.client.Do(req)
		if err != nil {
			d.fail(env, err)
			return
		}
		defer res.Body.Close()
		if res.StatusCode < 200 || res.StatusCode > 299 {
			log.Printf("session %s: webhook for %s returned status %d", env.SessionID, env.DataType, res.StatusCode)
			d.metrics.DeliveryFailures.WithLabelValues("webhook").Inc()
			return
		}
		d.metrics.EventsDispatched.WithLabelValues("webhook", string(env.DataType)).Inc()
	}()
}

func (d *WebhookDispatcher) fail(env event.Envelope, err error) {
	log.Printf("session %s: webhook delivery failed for %s: %v", env.SessionID, env.DataType, err)
	d.metrics.DeliveryFailures.WithLabelValues("webhook").Inc()
}
