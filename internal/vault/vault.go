// Package vault wraps one underlying kv.Provider and exposes the single
// "passwords" attachment contract every vault instance speaks, per
// SPEC_FULL.md §4.2. It is payload-oblivious: no signing, encryption, or
// JSON parsing happens here.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/munkey/munkeyd/internal/kv"
)

const (
	documentName   = "vault"
	attachmentName = "passwords"
	attachmentMime = "text/plain"
)

// Vault wraps one kv.Provider, scoped to a single vault's storage.
type Vault struct {
	ID     string
	Name   string
	store  kv.Provider
	mu     chan struct{} // 1-buffered: serializes set_content per SPEC_FULL.md §5
	logger *log.Logger
}

// New wraps store as a vault instance without touching its content.
func New(id, name string, store kv.Provider) *Vault {
	v := &Vault{
		ID:     id,
		Name:   name,
		store:  store,
		mu:     make(chan struct{}, 1),
		logger: log.With("component", "vault", "name", name, "id", id),
	}
	v.mu <- struct{}{}
	return v
}

// Create stores initialBytes as the first "passwords" attachment if the
// vault document does not yet carry one, leaving an existing attachment
// untouched otherwise (§4.2).
func Create(id, name string, store kv.Provider, initialBytes []byte) (*Vault, error) {
	v := New(id, name, store)
	_, err := v.Initialize(initialBytes)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// GetContent returns the raw envelope bytes, or nil if absent or on any
// read error (§4.2: "returns None on any error").
func (v *Vault) GetContent(ctx context.Context) []byte {
	data, _, _, err := v.store.GetAttachment(ctx, documentName, attachmentName)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			v.logger.Warn("get_content failed", "err", err)
		}
		return nil
	}
	return data
}

// SetContent writes bytes as the current "passwords" attachment at the
// document's current revision, creating the document if absent, per §4.2
// and §5's single-writer rule. A write rejected by the store (for example a
// revision conflict) is returned as an error and is not retried.
func (v *Vault) SetContent(ctx context.Context, bytes []byte) error {
	<-v.mu
	defer func() { v.mu <- struct{}{} }()

	rev, err := v.store.Get(ctx, documentName)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("vault: reading current revision: %w", err)
	}
	_, err = v.store.PutAttachment(ctx, documentName, attachmentName, rev, bytes, attachmentMime)
	if err != nil {
		return fmt.Errorf("vault: set_content: %w", err)
	}
	return nil
}

// Initialize returns true iff the vault was empty and bytes was therefore
// written, per §4.2.
func (v *Vault) Initialize(bytes []byte) (bool, error) {
	ctx := context.Background()
	<-v.mu
	defer func() { v.mu <- struct{}{} }()

	_, _, _, err := v.store.GetAttachment(ctx, documentName, attachmentName)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, kv.ErrNotFound) {
		return false, fmt.Errorf("vault: checking existing content: %w", err)
	}

	if _, err := v.store.PutAttachment(ctx, documentName, attachmentName, "", bytes, attachmentMime); err != nil {
		return false, fmt.Errorf("vault: initialize: %w", err)
	}
	return true, nil
}

// Destroy deletes the entire underlying store.
func (v *Vault) Destroy(ctx context.Context) error {
	return v.store.Destroy(ctx)
}

// Store exposes the underlying kv.Provider for replication wiring (C7)
// and the web edge's /db/* handlers (C8).
func (v *Vault) Store() kv.Provider {
	return v.store
}
