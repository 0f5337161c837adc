package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSStoreEnsureLookupRemove(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	if err := s.Ensure(ctx, Identity{ID: "wa-1", WebhookURL: "http://hooks.local/wa"}); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	ident, err := s.Lookup(ctx, "wa-1")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if ident.ID != "wa-1" || ident.WebhookURL != "http://hooks.local/wa" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
	if ident.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt should be stamped")
	}

	if _, err := os.Stat(s.CredentialDir("wa-1")); err != nil {
		t.Fatalf("credential dir should exist: %v", err)
	}

	if err := s.Remove(ctx, "wa-1"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(s.CredentialDir("wa-1")); !os.IsNotExist(err) {
		t.Fatalf("credential dir should be gone, stat error = %v", err)
	}
	if _, err := s.Lookup(ctx, "wa-1"); !errors.Is(err, ErrUnknownIdentity) {
		t.Fatalf("Lookup after Remove = %v, want ErrUnknownIdentity", err)
	}
}

func TestFSStoreListReturnsSessionDirs(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	for _, id := range []string{"wa-1", "wa-2", "wa-3"} {
		if err := s.Ensure(ctx, Identity{ID: id}); err != nil {
			t.Fatalf("Ensure(%s) error = %v", id, err)
		}
	}

	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("List() = %v, want 3 ids", ids)
	}
}

func TestFSStoreLookupCorruptIdentityFails(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFSStore(root)
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}

	dir := filepath.Join(root, "wa-broken")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, identityFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt identity: %v", err)
	}

	if _, err := s.Lookup(ctx, "wa-broken"); err == nil {
		t.Fatalf("Lookup() should fail for a corrupt identity record")
	}

	// The corrupt entry still shows up in the listing; restore decides what
	// to do with it.
	ids, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "wa-broken" {
		t.Fatalf("List() = %v, want the corrupt entry", ids)
	}
}
