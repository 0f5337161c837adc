package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const identityFile = "identity.json"

// FSStore keeps one directory per session id under a root directory, with an
// identity.json record beside the client's opaque credential files.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Ensure(_ context.Context, ident Identity) error {
	dir := s.CredentialDir(ident.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create credential dir for %s: %w", ident.ID, err)
	}
	if ident.CreatedAt.IsZero() {
		ident.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(ident)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, identityFile), data, 0o644); err != nil {
		return fmt.Errorf("write identity for %s: %w", ident.ID, err)
	}
	return nil
}

func (s *FSStore) Lookup(_ context.Context, id string) (Identity, error) {
	data, err := os.ReadFile(filepath.Join(s.CredentialDir(id), identityFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Identity{}, ErrUnknownIdentity
		}
		return Identity{}, fmt.Errorf("read identity for %s: %w", id, err)
	}
	var ident Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return Identity{}, fmt.Errorf("parse identity for %s: %w", id, err)
	}
	if ident.ID == "" {
		ident.ID = id
	}
	return ident, nil
}

func (s *FSStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list sessions dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (s *FSStore) Remove(_ context.Context, id string) error {
	if err := os.RemoveAll(s.CredentialDir(id)); err != nil {
		return fmt.Errorf("remove credential dir for %s: %w", id, err)
	}
	return nil
}

func (s *FSStore) CredentialDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *FSStore) Close() error { return nil }
