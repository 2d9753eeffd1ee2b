// Package memory implements the process-local kv.Provider engine used for
// --in-memory and for tests, grounded on the same Provider contract as
// internal/kv/sqlite.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/munkey/munkeyd/internal/kv"
)

func init() {
	kv.Register(kv.Plugin{Name: "memory", Loader: New})
}

type attachment struct {
	name string
	data []byte
	mime string
}

type document struct {
	rev         string
	attachments map[string]attachment
}

// Engine is an in-memory kv.Provider: one map of documents plus an
// append-only change log, guarded by a single mutex.
type Engine struct {
	mu      sync.Mutex
	docs    map[string]*document
	changes []kv.Change
	seq     uint64
}

// New constructs an Engine. cfg is accepted for interface parity with
// internal/kv/sqlite.New but otherwise unused; memory engines hold no
// on-disk state.
func New(cfg kv.Config) (kv.Provider, error) {
	return &Engine{docs: map[string]*document{}}, nil
}

func (e *Engine) GetAttachment(ctx context.Context, doc, name string) ([]byte, string, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[doc]
	if !ok {
		return nil, "", "", kv.ErrNotFound
	}
	a, ok := d.attachments[name]
	if !ok {
		return nil, "", "", kv.ErrNotFound
	}
	return append([]byte{}, a.data...), a.mime, d.rev, nil
}

func (e *Engine) PutAttachment(ctx context.Context, doc, name, rev string, data []byte, mime string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.docs[doc]
	if !ok {
		if rev != "" {
			return "", kv.ErrConflict
		}
		d = &document{attachments: map[string]attachment{}}
		e.docs[doc] = d
	} else if d.rev != rev {
		return "", kv.ErrConflict
	}

	e.seq++
	newRev := uuid.NewString()
	d.rev = newRev
	d.attachments[name] = attachment{name: name, data: append([]byte{}, data...), mime: mime}
	e.changes = append(e.changes, kv.Change{Kind: kv.EventChange, DocID: doc, Rev: newRev, Attachment: append([]byte{}, data...)})
	return newRev, nil
}

func (e *Engine) Get(ctx context.Context, doc string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[doc]
	if !ok {
		return "", kv.ErrNotFound
	}
	return d.rev, nil
}

func (e *Engine) Remove(ctx context.Context, doc, rev string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.docs[doc]
	if !ok || d.rev != rev {
		return kv.ErrNotFound
	}
	e.seq++
	e.changes = append(e.changes, kv.Change{Kind: kv.EventChange, DocID: doc, Rev: rev, Deleted: true})
	delete(e.docs, doc)
	return nil
}

func (e *Engine) Destroy(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.docs = map[string]*document{}
	e.changes = nil
	e.seq = 0
	return nil
}

func (e *Engine) Changes(ctx context.Context, since uint64) ([]kv.Change, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if since >= uint64(len(e.changes)) {
		return nil, e.seq, nil
	}
	return append([]kv.Change{}, e.changes[since:]...), e.seq, nil
}

func (e *Engine) ReplicateFrom(ctx context.Context, url string, onChange func(kv.Change)) error {
	_, err := kv.ReplicateOnce(ctx, url, 0, func(c kv.Change) error {
		if err := e.applyRemote(c); err != nil {
			return err
		}
		if onChange != nil {
			onChange(c)
		}
		return nil
	})
	return err
}

func (e *Engine) SyncLive(ctx context.Context, url string) (kv.SyncHandle, error) {
	return kv.StartSyncLive(ctx, url, 0, e.applyRemote), nil
}

func (e *Engine) applyRemote(c kv.Change) error {
	if c.Deleted {
		return nil
	}
	if len(c.Attachment) == 0 {
		return nil
	}
	e.mu.Lock()
	d, ok := e.docs[c.DocID]
	if !ok {
		d = &document{attachments: map[string]attachment{}}
		e.docs[c.DocID] = d
	}
	e.seq++
	d.rev = c.Rev
	d.attachments["passwords"] = attachment{name: "passwords", data: append([]byte{}, c.Attachment...), mime: "text/plain"}
	e.changes = append(e.changes, kv.Change{Kind: kv.EventChange, DocID: c.DocID, Rev: c.Rev, Attachment: append([]byte{}, c.Attachment...)})
	e.mu.Unlock()
	return nil
}
