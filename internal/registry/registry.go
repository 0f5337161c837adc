// Package registry owns the authoritative session map, drives each session's
// state machine from automation-client events, and routes every event through
// the callback filter into the webhook and websocket sinks.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/observability"
	"github.com/antoniostano/wagate/internal/store"
	"github.com/antoniostano/wagate/internal/waclient"
)

var (
	// ErrConflict means a non-terminated session with the id already exists.
	ErrConflict = errors.New("session already exists")
	// ErrNotFound means no session with the id is tracked.
	ErrNotFound = errors.New("session not found")
	// ErrReadyTimeout means the readiness future did not resolve within the
	// configured maximum wait. The session keeps starting in the background;
	// callers should poll status.
	ErrReadyTimeout = errors.New("session readiness timed out")
)

// Webhooks delivers an envelope to an external HTTP destination.
type Webhooks interface {
	Dispatch(url string, env event.Envelope)
}

// Hubs fans envelopes out to websocket subscribers, one entry per session.
type Hubs interface {
	Ensure(sessionID string)
	Broadcast(sessionID string, env event.Envelope)
	Close(sessionID string)
}

// Options tunes registry behavior.
type Options struct {
	DefaultWebhookURL string
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	// AutoMarkSeen acknowledges inbound messages on their originating chat,
	// fire-and-forget.
	AutoMarkSeen bool
}

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 30 * time.Second
	}
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = 200 * time.Millisecond
	}
	return o
}

// Registry is the authoritative mapping from session id to session state.
// All mutation goes through it; event callbacks only touch the entry for
// their own session id.
type Registry struct {
	opts     Options
	factory  waclient.Factory
	store    store.Store
	hubs     Hubs
	webhooks Webhooks
	filter   *event.Filter
	metrics  *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(opts Options, factory waclient.Factory, st store.Store, hubs Hubs, webhooks Webhooks, filter *event.Filter, metrics *observability.Metrics) *Registry {
	return &Registry{
		opts:     opts.withDefaults(),
		factory:  factory,
		store:    st,
		hubs:     hubs,
		webhooks: webhooks,
		filter:   filter,
		metrics:  metrics,
		sessions: make(map[string]*Session),
	}
}

func validID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id must not be empty")
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("session id %q contains invalid characters", id)
	}
	return nil
}

// Create registers a new session, persists its identity, builds the
// automation client with event handlers bound, and starts the connect
// sequence. It waits (bounded) for the client's readiness future; on
// ErrReadyTimeout the session still exists and keeps connecting in the
// background.
func (r *Registry) Create(ctx context.Context, id, webhookOverride string) (Snapshot, error) {
	if err := validID(id); err != nil {
		return Snapshot{}, err
	}

	webhookURL := strings.TrimSpace(webhookOverride)
	if webhookURL == "" {
		webhookURL = r.opts.DefaultWebhookURL
	}

	now := time.Now().UTC()
	sess := &Session{
		id:                 id,
		webhookURL:         webhookURL,
		createdAt:          now,
		status:             StatusStarting,
		lastStatusChangeAt: now,
	}

	// Reserve the id before any side effect so a concurrent create for the
	// same id fails cleanly with ErrConflict.
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return Snapshot{}, ErrConflict
	}
	r.sessions[id] = sess
	r.mu.Unlock()

	if err := r.store.Ensure(ctx, store.Identity{ID: id, WebhookURL: webhookURL, CreatedAt: now}); err != nil {
		r.unregister(id)
		return Snapshot{}, err
	}

	client, err := r.factory.New(id, r.store.CredentialDir(id), func(ev waclient.Event) {
		r.handleEvent(id, ev)
	})
	if err != nil {
		r.unregister(id)
		return Snapshot{}, fmt.Errorf("build client for %s: %w", id, err)
	}

	sess.mu.Lock()
	sess.client = client
	sess.mu.Unlock()

	r.hubs.Ensure(id)
	r.metrics.ActiveSessions.Set(float64(r.count()))
	r.metrics.SessionEvents.WithLabelValues("created").Inc()

	if err := client.Initialize(ctx); err != nil {
		// Leave a retryable state: no registry entry, no hub, no live
		// client. The credential dir stays; Ensure is idempotent.
		log.Printf("session %s: initialize failed: %v", id, err)
		_ = client.Destroy()
		r.unregister(id)
		r.hubs.Close(id)
		return Snapshot{}, fmt.Errorf("initialize client for %s: %w", id, err)
	}

	if err := r.awaitReady(ctx, client); err != nil {
		return sess.snapshot(), err
	}
	return sess.snapshot(), nil
}

// awaitReady polls the readiness future at a fixed interval up to the
// configured maximum wait.
func (r *Registry) awaitReady(ctx context.Context, client waclient.Client) error {
	deadline := time.Now().Add(r.opts.ReadyTimeout)
	ticker := time.NewTicker(r.opts.ReadyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-client.Ready():
			return nil
		case <-ticker.C:
			if time.Now().After(deadline) {
				return ErrReadyTimeout
			}
		}
	}
}

func (r *Registry) unregister(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.metrics.ActiveSessions.Set(float64(r.count()))
}

func (r *Registry) get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Status returns a read-only snapshot. It never blocks on network activity.
func (r *Registry) Status(id string) (Snapshot, error) {
	sess, ok := r.get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return sess.snapshot(), nil
}

// List returns snapshots of every tracked session, ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restart destroys the session's client handle without touching persisted
// credentials, builds a fresh one, and re-enters STARTING. Live websocket
// subscribers are preserved: the hub entry is ensured, never recreated.
func (r *Registry) Restart(ctx context.Context, id string) error {
	sess, ok := r.get(id)
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	old := sess.client
	sess.client = nil
	sess.mu.Unlock()

	if old != nil {
		if err := old.Destroy(); err != nil {
			log.Printf("session %s: destroy on restart failed: %v", id, err)
		}
	}

	client, err := r.factory.New(id, r.store.CredentialDir(id), func(ev waclient.Event) {
		r.handleEvent(id, ev)
	})
	if err != nil {
		sess.mu.Lock()
		sess.setStatus(StatusDisconnected)
		sess.mu.Unlock()
		return fmt.Errorf("rebuild client for %s: %w", id, err)
	}

	sess.mu.Lock()
	sess.client = client
	sess.setStatus(StatusStarting)
	sess.mu.Unlock()

	r.hubs.Ensure(id)
	r.metrics.SessionEvents.WithLabelValues("restarted").Inc()

	if err := client.Initialize(ctx); err != nil {
		log.Printf("session %s: initialize on restart failed: %v", id, err)
		return err
	}
	return nil
}

// Terminate logs out and destroys the client handle, deletes the persisted
// credential directory, closes the websocket hub entry (awaiting closure),
// and removes the session. A second call returns ErrNotFound.
func (r *Registry) Terminate(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		// Remove first so concurrently-firing event callbacks for this id
		// find nothing to route.
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	sess.mu.Lock()
	sess.setStatus(StatusTerminated)
	sess.qrPayload = ""
	client := sess.client
	sess.client = nil
	sess.mu.Unlock()

	if client != nil {
		if err := client.Logout(ctx); err != nil {
			log.Printf("session %s: logout failed: %v", id, err)
		}
		if err := client.Destroy(); err != nil {
			log.Printf("session %s: destroy failed: %v", id, err)
		}
	}

	var removeErr error
	if err := r.store.Remove(ctx, id); err != nil {
		log.Printf("session %s: credential removal failed: %v", id, err)
		removeErr = err
	}

	r.hubs.Close(id)
	r.metrics.ActiveSessions.Set(float64(r.count()))
	r.metrics.SessionEvents.WithLabelValues("terminated").Inc()
	return removeErr
}

// Sweep terminates every session whose status is not CONNECTED, or every
// session when inactiveOnly is false. Sessions are processed independently:
// one failure never aborts the sweep of the others.
func (r *Registry) Sweep(ctx context.Context, inactiveOnly bool) ([]string, error) {
	var (
		terminated []string
		errs       []error
	)
	for _, snap := range r.List() {
		if inactiveOnly && snap.Status == StatusConnected {
			continue
		}
		if err := r.Terminate(ctx, snap.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			log.Printf("sweep: terminate %s failed: %v", snap.ID, err)
			r.metrics.SweptSessions.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("terminate %s: %w", snap.ID, err))
			continue
		}
		r.metrics.SweptSessions.WithLabelValues("terminated").Inc()
		terminated = append(terminated, snap.ID)
	}
	return terminated, errors.Join(errs...)
}

// StartSweeper periodically sweeps non-connected sessions until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept, err := r.Sweep(ctx, true); err != nil {
					log.Printf("sweep: %v", err)
				} else if len(swept) > 0 {
					log.Printf("sweep: terminated %d inactive sessions", len(swept))
				}
			}
		}
	}()
}
