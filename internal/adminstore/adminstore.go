// Package adminstore persists the (nickname, vault id) pairs a node has
// created or linked, so the registry can reload them across restarts, per
// SPEC_FULL.md §4.4.
package adminstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/munkey/munkeyd/internal/kv"
	"github.com/munkey/munkeyd/internal/kv/sqlite"
)

const (
	documentName   = "admin"
	attachmentName = "vault_ids"
)

// Entry is one recorded (nickname, vault id) pair.
type Entry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Store is the durable record of every local vault this node owns.
// Persisted as a single JSON-blob attachment inside a dedicated sqlite
// database at <root>/admin/info/admin.db, per SPEC_FULL.md §4.4.
type Store struct {
	store  kv.Provider
	logger *log.Logger
}

// Open opens (creating if absent) the admin database under rootDir.
func Open(rootDir string) (*Store, error) {
	path := filepath.Join(rootDir, "admin", "info", "admin.db")
	provider, err := sqlite.OpenAt(path)
	if err != nil {
		return nil, fmt.Errorf("adminstore: opening: %w", err)
	}
	s := &Store{store: provider, logger: log.With("component", "adminstore")}
	if err := s.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize ensures the vault_ids document exists, creating an empty list
// if absent.
func (s *Store) Initialize(ctx context.Context) error {
	_, _, _, err := s.store.GetAttachment(ctx, documentName, attachmentName)
	if err == nil {
		return nil
	}
	empty, err2 := json.Marshal([]Entry{})
	if err2 != nil {
		return fmt.Errorf("adminstore: marshaling empty list: %w", err2)
	}
	if _, err := s.store.PutAttachment(ctx, documentName, attachmentName, "", empty, "application/json"); err != nil {
		return fmt.Errorf("adminstore: initializing: %w", err)
	}
	return nil
}

// Record idempotently appends (name, id) to the persisted list, skipping
// if id is already listed.
func (s *Store) Record(ctx context.Context, name, id string) error {
	entries, rev, err := s.readWithRev(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == id {
			return nil
		}
	}
	entries = append(entries, Entry{Name: name, ID: id})
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("adminstore: marshaling entries: %w", err)
	}
	if _, err := s.store.PutAttachment(ctx, documentName, attachmentName, rev, data, "application/json"); err != nil {
		return fmt.Errorf("adminstore: recording %s/%s: %w", name, id, err)
	}
	return nil
}

// All returns every recorded (name, id) pair. A missing document logs a
// warning and returns an empty slice rather than erroring, since a fresh
// node has never persisted anything yet.
func (s *Store) All(ctx context.Context) []Entry {
	entries, _, err := s.readWithRev(ctx)
	if err != nil {
		s.logger.Warn("admin store unreadable, treating as empty", "err", err)
		return nil
	}
	return entries
}

func (s *Store) readWithRev(ctx context.Context) ([]Entry, string, error) {
	data, _, rev, err := s.store.GetAttachment(ctx, documentName, attachmentName)
	if err != nil {
		return nil, "", err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, "", fmt.Errorf("adminstore: unmarshaling entries: %w", err)
	}
	return entries, rev, nil
}
