// Package replication implements the C7 connection manager: one live sync
// handle per (vaultId, peer device), inbound-revision signature
// verification, rollback on forgery, and teardown, per SPEC_FULL.md §4.6.
package replication

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/munkey/munkeyd/internal/activity"
	"github.com/munkey/munkeyd/internal/kv"
	"github.com/munkey/munkeyd/internal/payload"
	"github.com/munkey/munkeyd/internal/security"
	"github.com/munkey/munkeyd/internal/vaultregistry"
)

type connection struct {
	handle kv.SyncHandle
	cancel context.CancelFunc
}

// Manager owns the ReplicationMap: vaultId → (device → connection), with
// at most one connection per pair, per SPEC_FULL.md §3/§5.
type Manager struct {
	registry *vaultregistry.Registry

	mu      sync.Mutex
	handles map[string]map[activity.DeviceKey]*connection

	logger *log.Logger
}

// New constructs a Manager that resolves local vaults through registry.
func New(registry *vaultregistry.Registry) *Manager {
	return &Manager{
		registry: registry,
		handles:  map[string]map[activity.DeviceKey]*connection{},
		logger:   log.With("component", "replication"),
	}
}

// PublishConnection implements activity.ReplicationAttacher. If a handle
// already exists for (vaultID, device) it calls onFirstPull(false) and
// returns, idempotently (§4.6 step 1). Otherwise it fires ReplicateFrom,
// resolves onFirstPull from its completion, then starts SyncLive.
func (m *Manager) PublishConnection(ctx context.Context, vaultID, vaultName string, device activity.DeviceKey, onFirstPull func(ok bool)) {
	m.mu.Lock()
	if m.handles[vaultID] == nil {
		m.handles[vaultID] = map[activity.DeviceKey]*connection{}
	}
	if _, exists := m.handles[vaultID][device]; exists {
		m.mu.Unlock()
		if onFirstPull != nil {
			onFirstPull(false)
		}
		return
	}
	m.mu.Unlock()

	go m.connect(ctx, vaultID, vaultName, device, onFirstPull)
}

func (m *Manager) connect(ctx context.Context, vaultID, vaultName string, device activity.DeviceKey, onFirstPull func(ok bool)) {
	v, ok := m.registry.GetByID(vaultID)
	if !ok {
		m.logger.Warn("publish_connection for unknown vault", "vaultId", vaultID)
		return
	}
	remoteURL := fmt.Sprintf("https://%s:%d/db/%s", device.Host, device.Port, vaultName)
	store := v.Store()

	err := store.ReplicateFrom(ctx, remoteURL, func(c kv.Change) {
		m.handleChange(vaultID, store, c)
	})
	if onFirstPull != nil {
		onFirstPull(err == nil)
	}
	if err != nil {
		m.logger.Warn("replicate_from failed", "vaultId", vaultID, "device", device, "err", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	handle, err := store.SyncLive(connCtx, remoteURL)
	if err != nil {
		cancel()
		m.logger.Error("sync_live failed to start", "vaultId", vaultID, "device", device, "err", err)
		return
	}

	m.mu.Lock()
	if m.handles[vaultID] == nil {
		m.handles[vaultID] = map[activity.DeviceKey]*connection{}
	}
	m.handles[vaultID][device] = &connection{handle: handle, cancel: cancel}
	m.mu.Unlock()

	go m.consume(vaultID, device, store, handle)
}

func (m *Manager) consume(vaultID string, device activity.DeviceKey, store kv.Provider, handle kv.SyncHandle) {
	for ev := range handle.Events() {
		switch ev.Kind {
		case kv.EventChange:
			security.ReplicationEventsTotal.WithLabelValues("change").Inc()
			m.handleChange(vaultID, store, ev)
		case kv.EventError:
			security.ReplicationEventsTotal.WithLabelValues("error").Inc()
			m.logger.Error("replication error", "vaultId", vaultID, "device", device, "err", ev.Err)
			m.removeRemoteConnection(vaultID, device)
			return
		case kv.EventPaused:
			security.ReplicationEventsTotal.WithLabelValues("paused").Inc()
			m.logger.Debug("replication paused", "vaultId", vaultID, "device", device)
		case kv.EventComplete:
			security.ReplicationEventsTotal.WithLabelValues("complete").Inc()
			m.logger.Debug("replication complete", "vaultId", vaultID, "device", device)
		}
	}
}

func (m *Manager) handleChange(vaultID string, store kv.Provider, ev kv.Change) {
	if len(ev.Attachment) == 0 {
		return // no attachment to verify, per §4.6
	}
	if _, err := payload.Verify(vaultID, ev.Attachment); err != nil {
		m.logger.Error("rejecting forged revision", "vaultId", vaultID, "doc", ev.DocID, "rev", ev.Rev, "err", err)
		if rerr := store.Remove(context.Background(), ev.DocID, ev.Rev); rerr != nil {
			m.logger.Error("rollback of forged revision failed", "vaultId", vaultID, "doc", ev.DocID, "rev", ev.Rev, "err", rerr)
		}
	}
}

// removeRemoteConnection cancels and erases the handle for (vaultID,
// device). Idempotent, per §4.6 Invariant (c).
func (m *Manager) removeRemoteConnection(vaultID string, device activity.DeviceKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conns, ok := m.handles[vaultID]
	if !ok {
		return
	}
	conn, ok := conns[device]
	if !ok {
		return
	}
	conn.cancel()
	conn.handle.Close()
	delete(conns, device)
	if len(conns) == 0 {
		delete(m.handles, vaultID)
	}
}

// Close tears down every live connection, used during graceful shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	vaultIDs := make([]string, 0, len(m.handles))
	for id := range m.handles {
		vaultIDs = append(vaultIDs, id)
	}
	m.mu.Unlock()

	for _, vaultID := range vaultIDs {
		m.mu.Lock()
		devices := make([]activity.DeviceKey, 0, len(m.handles[vaultID]))
		for d := range m.handles[vaultID] {
			devices = append(devices, d)
		}
		m.mu.Unlock()
		for _, d := range devices {
			m.removeRemoteConnection(vaultID, d)
		}
	}
}
