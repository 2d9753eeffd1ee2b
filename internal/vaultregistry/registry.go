// Package vaultregistry owns the name↔id index of every active vault on a
// node, per SPEC_FULL.md §4.3. It is the sole owner of vault instances;
// every other component borrows references by id.
package vaultregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/munkey/munkeyd/internal/adminstore"
	"github.com/munkey/munkeyd/internal/kv"
	"github.com/munkey/munkeyd/internal/security"
	"github.com/munkey/munkeyd/internal/vault"
)

// Entry pairs a nickname with its vault id, as returned by List/IterActive.
type Entry struct {
	Name string
	ID   string
}

// Registry is the name↔id index of active vaults, per §4.3. All mutation
// happens under a single mutex, per §9's design note ("mutex-guarded
// maps, not callback chains").
type Registry struct {
	mu        sync.Mutex
	byID      map[string]*vault.Vault
	byName    map[string]string
	admin     *adminstore.Store
	rootDir   string
	storeKind string
	logger    *log.Logger
}

// New constructs an empty Registry backed by storeKind-named kv engines
// rooted at rootDir (see internal/kv.Register for available engines).
func New(rootDir, storeKind string) *Registry {
	return &Registry{
		byID:      map[string]*vault.Vault{},
		byName:    map[string]string{},
		rootDir:   rootDir,
		storeKind: storeKind,
		logger:    log.With("component", "vaultregistry"),
	}
}

func (r *Registry) openStore(name string) (kv.Provider, error) {
	plugin, err := kv.Select(r.storeKind)
	if err != nil {
		return nil, err
	}
	return plugin.Loader(kv.Config{RootDir: r.rootDir, Name: name})
}

// CreateVault creates a brand-new vault under name/id, writing initialBytes
// as its first revision, per §4.3's conflict table.
func (r *Registry) CreateVault(ctx context.Context, name, id string, initialBytes []byte) (*vault.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, ErrConflict
	}
	if _, ok := r.byID[id]; ok {
		return nil, ErrConflict
	}

	store, err := r.openStore(name)
	if err != nil {
		return nil, fmt.Errorf("vaultregistry: opening store for %s: %w", name, err)
	}
	v, err := vault.Create(id, name, store, initialBytes)
	if err != nil {
		return nil, fmt.Errorf("vaultregistry: creating vault %s: %w", name, err)
	}

	r.byName[name] = id
	r.byID[id] = v
	r.reportVaultsActiveLocked()

	if r.admin != nil {
		if err := r.admin.Record(ctx, name, id); err != nil {
			r.logger.Warn("admin record failed", "name", name, "id", id, "err", err)
		}
	}
	return v, nil
}

// LinkVault registers a remote vault id under a new local name, creating
// an empty underlying store (no initial content), per §4.3. A second link
// of the same id under a different name is rejected with ErrConflict
// (§9 Open Question 1).
func (r *Registry) LinkVault(ctx context.Context, name, id string) (*vault.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, ErrConflict
	}
	if _, ok := r.byID[id]; ok {
		return nil, ErrConflict
	}

	store, err := r.openStore(name)
	if err != nil {
		return nil, fmt.Errorf("vaultregistry: opening store for %s: %w", name, err)
	}
	v := vault.New(id, name, store)

	r.byName[name] = id
	r.byID[id] = v
	r.reportVaultsActiveLocked()

	if r.admin != nil {
		if err := r.admin.Record(ctx, name, id); err != nil {
			r.logger.Warn("admin record failed", "name", name, "id", id, "err", err)
		}
	}
	return v, nil
}

// LoadVault opens an existing on-disk store for name/id without creating
// new content, used to replay the admin store at startup.
func (r *Registry) LoadVault(ctx context.Context, name, id string) (*vault.Vault, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, ErrConflict
	}
	if _, ok := r.byID[id]; ok {
		return nil, ErrConflict
	}

	store, err := r.openStore(name)
	if err != nil {
		return nil, fmt.Errorf("vaultregistry: opening store for %s: %w", name, err)
	}
	v := vault.New(id, name, store)

	r.byName[name] = id
	r.byID[id] = v
	r.reportVaultsActiveLocked()
	return v, nil
}

// DeleteVault removes every name mapped to id, then destroys the
// underlying store. Names are removed first so no new handle can be
// obtained during destruction, per §4.3.
func (r *Registry) DeleteVault(ctx context.Context, id string) error {
	r.mu.Lock()
	v, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	for name, mappedID := range r.byName {
		if mappedID == id {
			delete(r.byName, name)
		}
	}
	delete(r.byID, id)
	r.reportVaultsActiveLocked()
	r.mu.Unlock()

	return v.Destroy(ctx)
}

// reportVaultsActiveLocked publishes the current vault count to
// Prometheus. Callers must hold r.mu. A no-op before InitMetrics has
// registered the gauge.
func (r *Registry) reportVaultsActiveLocked() {
	if security.VaultsActive == nil {
		return
	}
	security.VaultsActive.Set(float64(len(r.byID)))
}

// GetByName returns the vault registered under name.
func (r *Registry) GetByName(name string) (*vault.Vault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	v, ok := r.byID[id]
	return v, ok
}

// GetByID returns the vault registered under id.
func (r *Registry) GetByID(id string) (*vault.Vault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	return v, ok
}

// IterActive returns a sorted-by-name snapshot of every active (name, id)
// pair, race-free against concurrent map mutation.
func (r *Registry) IterActive() []Entry {
	return r.List()
}

// List returns a sorted-by-name snapshot of every active (name, id) pair.
func (r *Registry) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.byName))
	for name, id := range r.byName {
		entries = append(entries, Entry{Name: name, ID: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// UseAdminStore wires admin into the registry and replays every persisted
// (name, id) pair via LoadVault; individual replay failures are logged but
// do not abort the replay, per §4.3.
func (r *Registry) UseAdminStore(ctx context.Context, admin *adminstore.Store) {
	r.mu.Lock()
	r.admin = admin
	r.mu.Unlock()

	for _, e := range admin.All(ctx) {
		if _, err := r.LoadVault(ctx, e.Name, e.ID); err != nil {
			r.logger.Warn("failed to reload vault from admin store", "name", e.Name, "id", e.ID, "err", err)
		}
	}
}
