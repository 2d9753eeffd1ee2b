// Package activity implements peer discovery: mDNS publish/browse, link
// probing, transitive peer-list discovery with cycle protection, and the
// Active Peer List (APL) lifecycle, per SPEC_FULL.md §4.5.
package activity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/grandcat/zeroconf"
	"github.com/munkey/munkeyd/internal/security"
	"github.com/munkey/munkeyd/internal/vaultregistry"
)

const (
	serviceType    = "_http._tcp"
	serviceSubtype = "munkey-http"
	txtValidateKey = "__mkey_proto_validate__"
	txtUUIDKey     = "__mkey_proto_uuid__"
)

// subtypedService is the zeroconf DNS-SD service string carrying the
// munkey-http subtype, per SPEC_FULL.md §4.5/§6.
func subtypedService() string {
	return fmt.Sprintf("_%s._sub.%s", serviceSubtype, serviceType)
}

var ipv4Pattern = regexp.MustCompile(`\d{1,3}(\.\d{1,3}){3}`)

// aplEvent is fanned in from the zeroconf browse callback so that
// publishDevice's recursive transitive-discovery calls never block the
// zeroconf callback goroutine, per §9's design note.
type aplEvent struct {
	up    bool
	entry *zeroconf.ServiceEntry
}

// Activity is the discovery engine for one node.
type Activity struct {
	uniqueID       string
	discoveryPort  int
	servicePort    int
	registry       *vaultregistry.Registry
	attacher       ReplicationAttacher
	probeClient    *http.Client
	logger         *log.Logger

	mu  sync.Mutex
	apl map[DeviceKey]PeerIdentity

	mdnsServer *zeroconf.Server
	resolver   *zeroconf.Resolver
	events     chan aplEvent
	cancel     context.CancelFunc
	stopped    chan struct{}
}

// New constructs an Activity engine for a node identified by uniqueID,
// serving its web edge on servicePort, which is the port its mDNS record
// advertises. discoveryPort is stored but not used by the mDNS socket.
func New(uniqueID string, discoveryPort, servicePort int, registry *vaultregistry.Registry, attacher ReplicationAttacher) *Activity {
	return &Activity{
		uniqueID:      strings.ToLower(uniqueID),
		discoveryPort: discoveryPort,
		servicePort:   servicePort,
		registry:      registry,
		attacher:      attacher,
		probeClient:   newProbeClient(),
		logger:        log.With("component", "activity"),
		apl:           map[DeviceKey]PeerIdentity{},
		events:        make(chan aplEvent, 64),
	}
}

// Broadcast publishes this node's mDNS service and returns once the
// registration succeeds.
func (a *Activity) Broadcast(ctx context.Context) error {
	txt := []string{
		txtValidateKey + "=TRUE",
		txtUUIDKey + "=" + a.uniqueID,
	}
	instance := fmt.Sprintf("Munkey Vault[%s]", a.uniqueID)

	server, err := zeroconf.Register(instance, subtypedService(), "local.", a.servicePort, txt, nil)
	if err != nil {
		return fmt.Errorf("activity: broadcasting mdns service: %w", err)
	}
	a.mdnsServer = server
	return nil
}

// Listen subscribes to mDNS browse events and drives discovery, per §4.5.
// It returns once browsing has started; events are consumed in the
// background until ctx is canceled or Stop is called.
func (a *Activity) Listen(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("activity: creating mdns resolver: %w", err)
	}
	a.resolver = resolver

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.stopped = make(chan struct{})

	entries := make(chan *zeroconf.ServiceEntry, 32)
	go func() {
		for entry := range entries {
			select {
			case a.events <- aplEvent{up: true, entry: entry}:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, subtypedService(), "local.", entries); err != nil {
		cancel()
		return fmt.Errorf("activity: browsing mdns: %w", err)
	}

	go a.consumeEvents(ctx)
	return nil
}

func (a *Activity) consumeEvents(ctx context.Context) {
	defer close(a.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			a.handleEvent(ctx, ev)
		}
	}
}

func (a *Activity) handleEvent(ctx context.Context, ev aplEvent) {
	entry := ev.entry
	txt := parseTXT(entry.Text)
	if txt[txtValidateKey] != "TRUE" {
		return
	}
	if txt[txtUUIDKey] == a.uniqueID {
		return
	}

	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		if ipv4Pattern.MatchString(ip.String()) {
			addrs = append(addrs, ip.String())
		}
	}

	if !ev.up {
		// "down": remove every APL entry matching this instance's addresses.
		for _, addr := range addrs {
			a.Remove(DeviceKey{Host: addr, Port: entry.Port})
		}
		return
	}

	for _, addr := range addrs {
		device := DeviceKey{Host: addr, Port: entry.Port}
		identity, err := a.PublishDevice(ctx, device, map[DeviceKey]bool{})
		if err != nil {
			if errors.Is(err, ErrTransportRefused) {
				a.logger.Warn("probe refused during discovery", "device", device, "err", err)
			} else {
				a.logger.Error("probe failed during discovery", "device", device, "err", err)
			}
			a.Remove(device)
			continue
		}
		if identity == nil {
			continue
		}
		for _, pv := range identity.Vaults {
			if _, ok := a.registry.GetByID(pv.VaultID); ok && a.attacher != nil {
				a.attacher.PublishConnection(ctx, pv.VaultID, pv.Nickname, device, nil)
			}
		}
		return
	}
}

func parseTXT(records []string) map[string]string {
	out := map[string]string{}
	for _, r := range records {
		parts := strings.SplitN(r, "=", 2)
		if len(parts) != 2 {
			continue
		}
		out[parts[0]] = parts[1]
	}
	return out
}

// PublishDevice probes device and recursively discovers its
// activePeerList, skipping any (host, port) already in visited. It
// terminates on cycles: every distinct device is probed at most once per
// call tree, per §8's Invariant 6.
func (a *Activity) PublishDevice(ctx context.Context, device DeviceKey, visited map[DeviceKey]bool) (*PeerIdentity, error) {
	identity, err := a.Probe(ctx, device.Host, device.Port)
	if err != nil {
		a.Remove(device)
		return nil, err
	}
	if identity == nil {
		return nil, nil
	}
	if strings.EqualFold(identity.UniqueID, a.uniqueID) {
		return nil, nil
	}

	a.mu.Lock()
	a.apl[device] = *identity
	a.reportPeersActiveLocked()
	a.mu.Unlock()

	visited[device] = true
	for _, peer := range identity.ActivePeerList {
		peerKey := DeviceKey{Host: peer.Hostname, Port: peer.PortNum}
		if visited[peerKey] {
			continue
		}
		visited[peerKey] = true
		if _, err := a.PublishDevice(ctx, peerKey, visited); err != nil {
			a.logger.Debug("transitive probe failed", "device", peerKey, "err", err)
		}
	}
	return identity, nil
}

// Get returns the last-probed identity for device.
func (a *Activity) Get(device DeviceKey) (PeerIdentity, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.apl[device]
	return id, ok
}

// Remove erases device from the APL.
func (a *Activity) Remove(device DeviceKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.apl, device)
	a.reportPeersActiveLocked()
}

// reportPeersActiveLocked publishes the current APL size to Prometheus.
// Callers must hold a.mu. A no-op before InitMetrics has registered the
// gauge.
func (a *Activity) reportPeersActiveLocked() {
	if security.PeersActive == nil {
		return
	}
	security.PeersActive.Set(float64(len(a.apl)))
}

// IterAll returns every device currently in the APL.
func (a *Activity) IterAll() []DeviceKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]DeviceKey, 0, len(a.apl))
	for d := range a.apl {
		out = append(out, d)
	}
	return out
}

// DeviceList is an alias for IterAll, matching §4.5's naming.
func (a *Activity) DeviceList() []DeviceKey {
	return a.IterAll()
}

// ResolveVaultName returns every (vaultId, device) pair known to
// advertise nickname.
func (a *Activity) ResolveVaultName(nickname string) []struct {
	VaultID string
	Device  DeviceKey
} {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []struct {
		VaultID string
		Device  DeviceKey
	}
	for device, identity := range a.apl {
		for _, v := range identity.Vaults {
			if v.Nickname == nickname {
				out = append(out, struct {
					VaultID string
					Device  DeviceKey
				}{VaultID: v.VaultID, Device: device})
			}
		}
	}
	return out
}

// Stop unpublishes the mDNS service and tears down the resolver.
func (a *Activity) Stop() error {
	if a.mdnsServer != nil {
		a.mdnsServer.Shutdown()
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.stopped != nil {
		<-a.stopped
	}
	a.mu.Lock()
	a.apl = map[DeviceKey]PeerIdentity{}
	a.reportPeersActiveLocked()
	a.mu.Unlock()
	return nil
}
