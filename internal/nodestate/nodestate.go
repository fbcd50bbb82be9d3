// Package nodestate defines the single Node struct that owns every
// piece of mutable state a running node holds, threaded explicitly
// into handlers and background loops rather than exposed as process
// globals. chord and peerregistry never import each other: each is
// built from the node's ip:port alone and derives ring ids from the
// chordid package. Neither is handed the Node or an IdentityLookup.
package nodestate

import (
	"crypto/ecdsa"

	"github.com/nunet-edge/overlay-node/internal/chordid"
)

// IdentityLookup is the node-identity capability Node exposes. Node
// implements it directly by delegating to its Ring and Registry; chord
// and peerregistry do not take an IdentityLookup.
type IdentityLookup interface {
	// SelfChordID returns this node's own ring identifier.
	SelfChordID() chordid.ID
	// SelfAddress returns this node's "ip:port" address.
	SelfAddress() string
	// PeerPublicKey resolves a known peer's public key by address, for
	// DHT-update and offer signature verification. ok is false if the
	// address is unknown.
	PeerPublicKey(address string) (pub *ecdsa.PublicKey, ok bool)
}
