package activity_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/munkey/munkeyd/internal/activity"
	"github.com/munkey/munkeyd/internal/vaultregistry"
	"github.com/stretchr/testify/require"
)

func linkServer(t *testing.T, identity activity.PeerIdentity) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/link", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(identity))
	}))
	return srv
}

func deviceOf(t *testing.T, srv *httptest.Server) activity.DeviceKey {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return activity.DeviceKey{Host: host, Port: port}
}

func newTestActivity(t *testing.T, uniqueID string) *activity.Activity {
	t.Helper()
	registry := vaultregistry.New(t.TempDir(), "memory")
	return activity.New(uniqueID, 0, 0, registry, nil)
}

func TestProbeParsesIdentity(t *testing.T) {
	want := activity.PeerIdentity{UniqueID: "peer-uuid", Vaults: []activity.PeerVault{{Nickname: "alpha", VaultID: "id-1"}}}
	srv := linkServer(t, want)
	defer srv.Close()

	a := newTestActivity(t, "self-uuid")
	device := deviceOf(t, srv)

	got, err := a.Probe(context.Background(), device.Host, device.Port)
	require.NoError(t, err)
	require.Equal(t, want.UniqueID, got.UniqueID)
	require.Equal(t, want.Vaults, got.Vaults)
}

func TestPublishDeviceSkipsOwnIdentity(t *testing.T) {
	srv := linkServer(t, activity.PeerIdentity{UniqueID: "self-uuid"})
	defer srv.Close()

	a := newTestActivity(t, "self-uuid")
	device := deviceOf(t, srv)

	identity, err := a.PublishDevice(context.Background(), device, map[activity.DeviceKey]bool{})
	require.NoError(t, err)
	require.Nil(t, identity)

	_, ok := a.Get(device)
	require.False(t, ok)
}

func TestPublishDeviceTransitiveDiscovery(t *testing.T) {
	// A -> B -> C, A not yet aware of C. Publishing B from A's perspective
	// must recurse into C exactly once and leave both in A's APL.
	var deviceB, deviceC activity.DeviceKey
	probesC := 0

	srvC := httptest.NewUnstartedServer(nil)
	srvC.EnableHTTP2 = false
	srvC.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probesC++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(activity.PeerIdentity{UniqueID: "c-uuid"})
	})
	srvC.StartTLS()
	defer srvC.Close()
	deviceC = deviceOf(t, srvC)

	srvB := httptest.NewUnstartedServer(nil)
	srvB.StartTLS()
	defer srvB.Close()
	deviceB = deviceOf(t, srvB)
	srvB.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(activity.PeerIdentity{
			UniqueID:       "b-uuid",
			ActivePeerList: []activity.PeerAddr{{Hostname: deviceC.Host, PortNum: deviceC.Port}},
		})
	})

	a := newTestActivity(t, "a-uuid")
	identity, err := a.PublishDevice(context.Background(), deviceB, map[activity.DeviceKey]bool{})
	require.NoError(t, err)
	require.Equal(t, "b-uuid", identity.UniqueID)

	_, ok := a.Get(deviceB)
	require.True(t, ok)
	_, ok = a.Get(deviceC)
	require.True(t, ok)
	require.Equal(t, 1, probesC)
}

func TestPublishDeviceCycleSafety(t *testing.T) {
	// A cycle of n nodes whose activePeerList always points back at the
	// same set of addresses must still terminate: each distinct
	// (host, port) is probed at most once per call tree.
	var deviceA, deviceB activity.DeviceKey
	probeCount := map[string]int{}

	srvA := httptest.NewUnstartedServer(nil)
	srvA.StartTLS()
	defer srvA.Close()
	deviceA = deviceOf(t, srvA)

	srvB := httptest.NewUnstartedServer(nil)
	srvB.StartTLS()
	defer srvB.Close()
	deviceB = deviceOf(t, srvB)

	srvA.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probeCount["a"]++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(activity.PeerIdentity{
			UniqueID:       "a-uuid",
			ActivePeerList: []activity.PeerAddr{{Hostname: deviceB.Host, PortNum: deviceB.Port}},
		})
	})
	srvB.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probeCount["b"]++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(activity.PeerIdentity{
			UniqueID:       "b-uuid",
			ActivePeerList: []activity.PeerAddr{{Hostname: deviceA.Host, PortNum: deviceA.Port}},
		})
	})

	a := newTestActivity(t, "self-uuid")
	_, err := a.PublishDevice(context.Background(), deviceA, map[activity.DeviceKey]bool{})
	require.NoError(t, err)

	require.Equal(t, 1, probeCount["a"])
	require.Equal(t, 1, probeCount["b"])
	require.Len(t, a.IterAll(), 2)
}
