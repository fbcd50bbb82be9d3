package accounting

import (
	"crypto/ecdsa"

	"github.com/nunet-edge/overlay-node/internal/identity"
)

// KeySigner adapts an ECDSA private key to the Signer interface via
// identity.Sign's canonical-JSON convention.
type KeySigner struct {
	Priv *ecdsa.PrivateKey
}

func (k KeySigner) Sign(v interface{}) (string, error) {
	return identity.Sign(k.Priv, v)
}
