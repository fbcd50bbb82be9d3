// Package offer builds and verifies signed Resource Offers, the value
// half of every DHT update gossiped through the ring. Grounded on
// original_source/edge_server/offer_manager.py's
// create_signed_resource_offer/verify_resource_offer pair, carried
// over to identity.Sign/Verify's canonical-JSON convention instead of
// Python's json.dumps(sort_keys=True).
package offer

import (
	"crypto/ecdsa"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/models"
)

// Build constructs and signs a fresh Offer for nodeID/nodeAddress
// advertising stats at pricing, under priv. offer_id and
// offer_timestamp_utc are stamped at call time.
func Build(priv *identity.KeyPair, nodeID, nodeAddress string, stats models.SystemStats, pricing models.PricingParameters) (models.Offer, error) {
	o := models.Offer{
		NodeID:            nodeID,
		NodeAddress:       nodeAddress,
		SystemStats:       stats,
		PricingParameters: pricing,
		OfferTimestampUTC: time.Now().UTC().Format(time.RFC3339),
		OfferID:           uuid.NewString(),
	}

	sig, err := identity.Sign(priv.Private, o)
	if err != nil {
		return models.Offer{}, errors.Wrap(err, "failed to sign resource offer")
	}
	o.Signature = sig
	return o, nil
}

// Verify reports whether o's signature is valid under pub. Like
// identity.Verify, it never returns an error: any malformed input
// simply fails verification.
func Verify(pub *ecdsa.PublicKey, o models.Offer) bool {
	return identity.Verify(pub, o, o.Signature)
}

// Freshness is how long a stored offer is considered usable by the
// scheduler/DHT read path before being treated as stale.
const Freshness = 5 * time.Minute

// IsFresh reports whether o's timestamp is within Freshness of now.
// A malformed timestamp is treated as stale rather than erroring, so
// a single corrupt entry can't wedge discovery.
func IsFresh(o models.Offer, now time.Time) bool {
	ts, err := time.Parse(time.RFC3339, o.OfferTimestampUTC)
	if err != nil {
		return false
	}
	return now.Sub(ts) <= Freshness
}

// WrapEnvelope signs {key, value} as a DHTUpdateEnvelope under priv,
// the publishing node's own signature independent of value's own
// (value.Offer is already self-signed by its originating node).
func WrapEnvelope(priv *identity.KeyPair, key string, value models.Offer) (models.DHTUpdateEnvelope, error) {
	env := models.DHTUpdateEnvelope{Key: key, Value: value}
	sig, err := identity.Sign(priv.Private, env)
	if err != nil {
		return models.DHTUpdateEnvelope{}, errors.Wrap(err, "failed to sign DHT update envelope")
	}
	env.Signature = sig
	return env, nil
}

// VerifyEnvelope checks both signatures an inbound DHT update must
// carry: the publisher's envelope signature under pubPublisher, and
// the offer's own signature under pubOfferOwner (the two may differ
// when a third node re-gossips someone else's offer).
func VerifyEnvelope(pubPublisher, pubOfferOwner *ecdsa.PublicKey, env models.DHTUpdateEnvelope) bool {
	if !identity.Verify(pubPublisher, env, env.Signature) {
		return false
	}
	return Verify(pubOfferOwner, env.Value)
}
