package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// RestoreAll recreates a session for every persisted identity. Identities
// are restored independently: a corrupt or failing one is logged and
// collected, and never prevents the others from coming back or fails
// process startup. The returned error joins all per-identity failures.
func (r *Registry) RestoreAll(ctx context.Context) (int, error) {
	ids, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persisted sessions: %w", err)
	}

	restored := 0
	var errs []error
	for _, id := range ids {
		ident, err := r.store.Lookup(ctx, id)
		if err != nil {
			log.Printf("restore: identity %s unreadable: %v", id, err)
			r.metrics.RestoredSessions.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("restore %s: %w", id, err))
			continue
		}

		_, err = r.Create(ctx, id, ident.WebhookURL)
		switch {
		case err == nil:
		case errors.Is(err, ErrReadyTimeout):
			// Session exists and keeps connecting; not a restore failure.
			log.Printf("restore: session %s not ready yet, continuing in background", id)
		case errors.Is(err, ErrConflict):
			// Already live; not counted as restored.
			r.metrics.RestoredSessions.WithLabelValues("already_live").Inc()
			continue
		default:
			log.Printf("restore: session %s failed: %v", id, err)
			r.metrics.RestoredSessions.WithLabelValues("failed").Inc()
			errs = append(errs, fmt.Errorf("restore %s: %w", id, err))
			continue
		}
		restored++
		r.metrics.RestoredSessions.WithLabelValues("restored").Inc()
	}

	if len(ids) > 0 {
		log.Printf("restore: %d/%d persisted sessions restored", restored, len(ids))
	}
	return restored, errors.Join(errs...)
}
