// Package kv defines the attachment-capable key/value storage abstraction
// that each vault instance is built on. The wire format and persistence
// strategy are intentionally pluggable (see Register/Select below); two
// engines ship in internal/kv/sqlite and internal/kv/memory.
package kv

import "context"

// Config describes how a Provider should open or create its underlying
// store for one named document space (one vault).
type Config struct {
	// RootDir is the directory the engine may use for on-disk state.
	RootDir string
	// Name is the vault's local nickname, used to namespace storage.
	Name string
}

// EventKind enumerates the SyncHandle event stream per SPEC_FULL.md §4.6.
type EventKind int

const (
	EventChange EventKind = iota
	EventError
	EventPaused
	EventComplete
)

// Change describes one document revision observed by replication, whether
// from a one-shot ReplicateFrom pass or a live SyncHandle.
type Change struct {
	Kind       EventKind
	DocID      string
	Rev        string
	Deleted    bool
	Attachment []byte
	Err        error
}

// SyncHandle is a live, cancelable replication session against a remote
// URL. At most one handle exists per (vaultId, peer) per SPEC_FULL.md §3.
type SyncHandle interface {
	// Events delivers Change records until the handle is closed.
	Events() <-chan Change
	// Close tears the handle down; idempotent.
	Close() error
}

// Provider is the attachment API every vault instance is built on, per
// SPEC_FULL.md §4.2. Implementations must serialize writes to a given
// document (see SPEC_FULL.md §5: "only one outstanding set_content per
// vault at a time").
type Provider interface {
	// GetAttachment returns the named attachment's bytes, mime type, and
	// revision. Returns ErrNotFound if doc or name is absent.
	GetAttachment(ctx context.Context, doc, name string) (data []byte, mime, rev string, err error)

	// PutAttachment stores data under doc/name. rev must match the
	// document's current revision, or be empty if the document does not
	// yet exist. Returns the new revision.
	PutAttachment(ctx context.Context, doc, name, rev string, data []byte, mime string) (newRev string, err error)

	// Get returns the current revision of doc. Returns ErrNotFound if
	// absent.
	Get(ctx context.Context, doc string) (rev string, err error)

	// Remove deletes the revision rev of doc, rolling it back. Used by
	// replication to revert a forged pulled revision.
	Remove(ctx context.Context, doc, rev string) error

	// Destroy deletes the entire underlying store. Called when a vault
	// is deleted from the registry.
	Destroy(ctx context.Context) error

	// ReplicateFrom performs one non-live catch-up pass against url,
	// applying every change since the local store's last known state.
	// onChange is invoked synchronously for each applied change, exactly
	// as a SyncLive handle's EventChange entries are — so callers can
	// verify a pulled revision and roll it back (Remove) the same way
	// for the one-shot catch-up as for the live stream. onChange may be
	// nil.
	ReplicateFrom(ctx context.Context, url string, onChange func(Change)) error

	// SyncLive starts a live replication session that long-polls url's
	// _changes feed, applies each pulled change locally, and returns a
	// handle streaming Change events. It only pulls: local changes are not
	// pushed to url.
	SyncLive(ctx context.Context, url string) (SyncHandle, error)

	// Changes returns every change recorded since seq, for serving the
	// local long-poll _changes feed to a remote peer.
	Changes(ctx context.Context, since uint64) ([]Change, uint64, error)
}
