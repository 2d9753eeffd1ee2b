// Package serve assembles every component into a running node and tears
// it down again, following the teacher's StartServer/Shutdown builder
// shape, per SPEC_FULL.md §9's design note.
package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/munkey/munkeyd/internal/activity"
	"github.com/munkey/munkeyd/internal/adminstore"
	"github.com/munkey/munkeyd/internal/identity"
	"github.com/munkey/munkeyd/internal/replication"
	"github.com/munkey/munkeyd/internal/security"
	"github.com/munkey/munkeyd/internal/vaultregistry"
	"github.com/munkey/munkeyd/internal/webedge"

	_ "github.com/munkey/munkeyd/internal/kv/memory"
	_ "github.com/munkey/munkeyd/internal/kv/sqlite"
)

// Config holds every value a node needs to start, populated from CLI
// flags/environment by Command.
type Config struct {
	RootDir       string
	Port          int
	DiscoveryPort int
	StoreKind     string
}

// Server is the running node: every subsystem named in SPEC_FULL.md §2,
// wired together and ready to be torn down as a unit.
type Server struct {
	Registry    *vaultregistry.Registry
	Identity    *identity.Identity
	Activity    *activity.Activity
	Replication *replication.Manager
	WebEdge     *webedge.Server
	Admin       *adminstore.Store

	logger *log.Logger
}

// StartServer wires identity, admin store, registry, replication,
// discovery, and the web edge into a running node, in the dependency
// order each component needs, per SPEC_FULL.md §9.
func StartServer(ctx context.Context, cfg Config) (*Server, error) {
	security.InitMetrics()

	id, err := identity.Load(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("serve: loading identity: %w", err)
	}

	admin, err := adminstore.Open(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("serve: opening admin store: %w", err)
	}

	registry := vaultregistry.New(cfg.RootDir, cfg.StoreKind)
	registry.UseAdminStore(ctx, admin)

	repl := replication.New(registry)
	act := activity.New(id.UniqueID, cfg.DiscoveryPort, cfg.Port, registry, repl)
	edge := webedge.New(registry, id, act)

	if err := edge.Listen(cfg.Port); err != nil {
		return nil, fmt.Errorf("serve: starting web edge: %w", err)
	}
	if err := act.Broadcast(ctx); err != nil {
		_ = edge.Close(context.Background())
		return nil, fmt.Errorf("serve: broadcasting mdns: %w", err)
	}
	if err := act.Listen(ctx); err != nil {
		_ = act.Stop()
		_ = edge.Close(context.Background())
		return nil, fmt.Errorf("serve: starting mdns discovery: %w", err)
	}

	logger := log.With("component", "serve")
	logger.Info("node started",
		"uniqueId", id.UniqueID,
		"port", cfg.Port,
		"discoveryPort", cfg.DiscoveryPort,
		"storeKind", cfg.StoreKind,
		"rootDir", cfg.RootDir,
	)

	return &Server{
		Registry:    registry,
		Identity:    id,
		Activity:    act,
		Replication: repl,
		WebEdge:     edge,
		Admin:       admin,
		logger:      logger,
	}, nil
}

// Shutdown tears the node down in the order SPEC_FULL.md §5 requires:
// unpublish mDNS, cancel every replication handle, drain and close the
// HTTPS listener. The admin store and every vault's kv.Provider are
// plain files/sqlite handles with nothing left to flush explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.Activity.Stop(); err != nil {
		s.logger.Warn("stopping discovery", "err", err)
	}
	s.Replication.Close()
	if err := s.WebEdge.Close(ctx); err != nil {
		return fmt.Errorf("serve: closing web edge: %w", err)
	}
	return nil
}
