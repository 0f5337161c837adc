// Package store persists session identities. Credentials themselves are an
// opaque per-session directory owned by the automation client; the store only
// manages the directories and a small identity record per session.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUnknownIdentity is returned by Lookup for ids the store does not hold.
var ErrUnknownIdentity = errors.New("unknown session identity")

// Identity is the persisted record for one session.
type Identity struct {
	ID         string    `json:"id"`
	WebhookURL string    `json:"webhook_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store manages persisted session identities and their credential
// directories.
type Store interface {
	// Ensure persists the identity and its credential directory.
	// Idempotent.
	Ensure(ctx context.Context, ident Identity) error
	// Lookup returns the persisted identity for id.
	Lookup(ctx context.Context, id string) (Identity, error)
	// List returns the ids of all persisted identities.
	List(ctx context.Context) ([]string, error)
	// Remove deletes the identity record and the credential directory.
	Remove(ctx context.Context, id string) error
	// CredentialDir returns the opaque directory for id. It does not
	// create it.
	CredentialDir(id string) string
	Close() error
}

// NewStore creates a postgres-indexed store when a database URL is
// configured, otherwise a purely filesystem-backed one. Credential
// directories live under dir in both cases.
func NewStore(ctx context.Context, dir, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewFSStore(dir)
	}
	return NewPostgresStore(ctx, dir, databaseURL)
}
