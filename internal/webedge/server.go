// Package webedge is the HTTPS server exposing /link (node identity) and
// /db/* (peer replication dialect), per SPEC_FULL.md §4.7.
package webedge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/soheilhy/cmux"

	"github.com/munkey/munkeyd/internal/activity"
	"github.com/munkey/munkeyd/internal/identity"
	"github.com/munkey/munkeyd/internal/security"
	"github.com/munkey/munkeyd/internal/vaultregistry"
)

// Server is a minimal HTTPS server with self-signed TLS, built on gin for
// routing and cmux for the listener-teardown mechanics, following the
// teacher's single-port listener structure (see internal/identity for
// the certificate generation it shares).
type Server struct {
	registry *vaultregistry.Registry
	identity *identity.Identity
	activity *activity.Activity
	logger   *log.Logger

	mu           sync.Mutex
	running      bool
	baseListener net.Listener
	muxer        cmux.CMux
	httpServer   *http.Server
}

// New constructs a Server for the given registry, node identity, and
// discovery engine (consulted for /link's activePeerList).
func New(registry *vaultregistry.Registry, id *identity.Identity, act *activity.Activity) *Server {
	return &Server{
		registry: registry,
		identity: id,
		activity: act,
		logger:   log.With("component", "webedge"),
	}
}

// Listen binds port and starts serving. Since the core serves HTTPS only,
// the cmux layer exists to keep listener-teardown and ServerBusy error
// semantics identical to the teacher's multiplexed server, not to
// multiplex protocols — cmux.Any() matches every connection.
func (s *Server) Listen(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("webedge: already listening")
	}

	baseLis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return ErrServerBusy
		}
		return fmt.Errorf("webedge: listen: %w", err)
	}

	muxer := cmux.New(baseLis)
	tlsLis := muxer.Match(cmux.Any())
	tlsWrapped := tls.NewListener(tlsLis, &tls.Config{
		Certificates: []tls.Certificate{s.identity.TLS},
		MinVersion:   tls.VersionTLS12,
	})

	security.InitMetrics()

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(security.AccessLogMiddleware("/db/:name/_changes"))
	engine.Use(security.MetricsMiddleware())
	s.registerRoutes(engine)

	httpServer := &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := httpServer.Serve(tlsWrapped); err != nil && err != http.ErrServerClosed {
			s.logger.Error("https server failed", "err", err)
		}
	}()
	go func() {
		if err := muxer.Serve(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			s.logger.Error("listener mux failed", "err", err)
		}
	}()

	s.baseListener = baseLis
	s.muxer = muxer
	s.httpServer = httpServer
	s.running = true
	return nil
}

// Close stops the server, draining in-flight responses before the
// listener is closed, per SPEC_FULL.md §5.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrServerNotRunning
	}
	s.running = false

	err := s.httpServer.Shutdown(ctx)
	_ = s.baseListener.Close()
	return err
}
