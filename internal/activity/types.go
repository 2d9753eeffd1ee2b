package activity

import "context"

// DeviceKey identifies a peer by the address its mDNS service was probed
// at, per SPEC_FULL.md §3.
type DeviceKey struct {
	Host string
	Port int
}

// PeerVault is one entry of a peer's advertised vault list.
type PeerVault struct {
	Nickname string `json:"nickname"`
	VaultID  string `json:"vaultId"`
}

// PeerAddr is one entry of a peer's active peer list.
type PeerAddr struct {
	Hostname string `json:"hostname"`
	PortNum  int    `json:"portNum"`
}

// PeerIdentity is the document returned by a peer's GET /link, per
// SPEC_FULL.md §4.7.
type PeerIdentity struct {
	UniqueID       string      `json:"uniqueId"`
	Vaults         []PeerVault `json:"vaults"`
	ActivePeerList []PeerAddr  `json:"activePeerList"`
}

// ReplicationAttacher is the subset of the C7 connection manager that C6
// needs: on discovering a peer advertising a vault the local registry
// already holds, attach a replication connection to it. Declared here
// (rather than importing internal/replication) to keep the discovery
// layer the caller, not the callee, of replication — replication never
// needs to know about discovery.
type ReplicationAttacher interface {
	PublishConnection(ctx context.Context, vaultID, vaultName string, device DeviceKey, onFirstPull func(ok bool))
}
