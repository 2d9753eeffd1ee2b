package webedge

import (
	"context"
	"net"
	"testing"

	"github.com/munkey/munkeyd/internal/identity"
	"github.com/munkey/munkeyd/internal/vaultregistry"
	"github.com/stretchr/testify/require"
)

func TestCloseWithoutListenReturnsServerNotRunning(t *testing.T) {
	id, err := identity.Load(t.TempDir())
	require.NoError(t, err)
	s := New(vaultregistry.New(t.TempDir(), "memory"), id, nil)

	err = s.Close(context.Background())
	require.ErrorIs(t, err, ErrServerNotRunning)
}

func TestListenReturnsServerBusyOnOccupiedPort(t *testing.T) {
	occupied, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer occupied.Close()

	port := occupied.Addr().(*net.TCPAddr).Port

	id, err := identity.Load(t.TempDir())
	require.NoError(t, err)
	s := New(vaultregistry.New(t.TempDir(), "memory"), id, nil)

	err = s.Listen(port)
	require.ErrorIs(t, err, ErrServerBusy)
}

func TestListenThenCloseSucceeds(t *testing.T) {
	id, err := identity.Load(t.TempDir())
	require.NoError(t, err)
	s := New(vaultregistry.New(t.TempDir(), "memory"), id, nil)

	// Port 0 lets the kernel pick a free port; Listen's fixed-port API
	// still works with it since net.Listen(":0") is well-defined.
	require.NoError(t, s.Listen(0))
	require.NoError(t, s.Close(context.Background()))
}
