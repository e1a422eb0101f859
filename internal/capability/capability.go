// Package capability declares the narrow interfaces through which this
// module consumes its external collaborators: application execution,
// context membership, and network transport. None of these are
// implemented here — the host process wires in concrete
// implementations (a WASM runtime, an on-chain membership oracle, a
// libp2p swarm) and hands this module the interfaces.
package capability

import (
	"context"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Executor runs application logic against entity state and reports
// whether a referenced blob is available locally, the two host-provided
// operations the Delta Applier depends on.
type Executor interface {
	// Execute invokes method (e.g. "__apply_actions") with an
	// application-defined envelope and returns its raw result bytes.
	Execute(ctx context.Context, contextID string, method string, envelope []byte) ([]byte, error)
	// HasBlob reports whether the blob identified by digest is available
	// for Execute to read, used to decide whether an
	// ApplicationNotAvailable failure should be retried.
	HasBlob(ctx context.Context, digest string) (bool, error)
}

// MembershipOracle answers whether an identity is currently a member of
// a context, gating which peers participate in sync and key-share.
type MembershipOracle interface {
	IsMember(ctx context.Context, contextID string, identityID string) (bool, error)
	Members(ctx context.Context, contextID string) ([]string, error)
}

// Transport is the narrow networking surface the sync engine needs:
// broadcast to a context-scoped topic, open a direct stream to a peer,
// and check whether a peer claims to have a given blob. Connection
// establishment, peer discovery, and NAT traversal are the transport
// implementation's concern, not this module's.
type Transport interface {
	Broadcast(ctx context.Context, topic string, payload []byte) error
	OpenStream(ctx context.Context, p peer.ID, protocolID string) (network.Stream, error)
	HasBlob(ctx context.Context, p peer.ID, digest string) (bool, error)
}
