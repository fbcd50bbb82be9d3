// Package dhtstore implements the signed resource-offer DHT: the
// authoritative in-memory store held by a key's current Chord
// successor, plus the client-side publish/discover helpers every node
// uses to advertise and look up offers. It reuses the chord package's
// successor resolution and the offer package's envelope signing and
// verification.
package dhtstore

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nunet-edge/overlay-node/internal/chord"
	"github.com/nunet-edge/overlay-node/internal/chordid"
	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/internal/offer"
	"github.com/nunet-edge/overlay-node/models"
)

var zlog = logger.New("dhtstore")

const (
	storeRPCTimeout   = 10 * time.Second
	advertiseInterval = 60 * time.Second
)

// PublicKeyResolver is the capability Store needs to authenticate an
// inbound DHT update: resolving a known peer's public key by address.
// nodestate.Node satisfies this directly.
type PublicKeyResolver interface {
	PeerPublicKey(address string) (pub *ecdsa.PublicKey, ok bool)
}

// Store holds every offer this node is currently the authoritative
// holder of, keyed by DHT key (a decimal Chord ID string). A key's
// authoritative range is (predecessor, self] on ring.
type Store struct {
	ring *chord.Ring
	keys PublicKeyResolver

	mu     sync.RWMutex
	offers map[string][]models.Offer
}

// New builds an empty Store bound to ring for authority checks and
// keys for publisher authentication.
func New(ring *chord.Ring, keys PublicKeyResolver) *Store {
	return &Store{ring: ring, keys: keys, offers: make(map[string][]models.Offer)}
}

// StoreMetadata ingests a signed DHT update: resolves the publishing
// node's public key by its advertised node_address, verifies both the
// envelope signature and the inner offer signature under that key,
// then replaces any prior offer from the same node_address under this
// key and appends the new one.
func (s *Store) StoreMetadata(update models.DHTUpdateEnvelope) error {
	pub, ok := s.keys.PeerPublicKey(update.Value.NodeAddress)
	if !ok {
		return errors.Errorf("unknown publishing peer %s", update.Value.NodeAddress)
	}
	if !offer.VerifyEnvelope(pub, pub, update) {
		return errors.New("DHT update envelope or offer signature verification failed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.offers[update.Key]
	kept := make([]models.Offer, 0, len(existing))
	for _, o := range existing {
		if o.NodeAddress != update.Value.NodeAddress {
			kept = append(kept, o)
		}
	}
	s.offers[update.Key] = append(kept, update.Value)
	return nil
}

// LookupMetadata returns every offer stored under key, refusing if key
// is not currently in this node's authoritative range.
func (s *Store) LookupMetadata(key string) ([]models.Offer, error) {
	id, err := chordid.ParseID(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid DHT key")
	}
	if !s.isAuthoritative(id) {
		return nil, errors.Errorf("key %s is not in this node's authoritative range", key)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Offer, len(s.offers[key]))
	copy(out, s.offers[key])
	return out, nil
}

func (s *Store) isAuthoritative(id chordid.ID) bool {
	self := s.ring.SelfChordID()
	pred, ok := s.ring.Predecessor()
	if !ok {
		// Alone on the ring (or no predecessor yet known): authoritative
		// for the entire key space.
		return true
	}
	predID, err := chordid.ParseID(pred.ChordID)
	if err != nil {
		return false
	}
	return chordid.Between(predID, id, self)
}

// HTTPClient is the minimal surface the client-side helpers need;
// satisfied by *http.Client, swappable in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient HTTPClient = &http.Client{Timeout: storeRPCTimeout}

// PublishOffer resolves the Chord successor of o.NodeID, signs a DHT
// update envelope under priv, and POSTs it to that successor's
// store_metadata endpoint.
func PublishOffer(ctx context.Context, client HTTPClient, ring *chord.Ring, priv *identity.KeyPair, o models.Offer) error {
	id, err := chordid.ParseID(o.NodeID)
	if err != nil {
		return errors.Wrap(err, "invalid offer node_id")
	}
	succ, err := ring.FindSuccessor(ctx, client, id)
	if err != nil {
		return errors.Wrap(err, "failed to resolve successor for offer")
	}

	env, err := offer.WrapEnvelope(priv, o.NodeID, o)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "failed to marshal DHT update")
	}

	url := fmt.Sprintf("http://%s:%d/chord/store_metadata", succ.IP, succ.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to POST DHT update")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("store_metadata returned status %d", resp.StatusCode)
	}
	return nil
}

// DiscoverOffersByChordID resolves the Chord successor of chordID and
// GETs its lookup_metadata endpoint.
func DiscoverOffersByChordID(ctx context.Context, client HTTPClient, ring *chord.Ring, chordIDStr string) ([]models.Offer, error) {
	id, err := chordid.ParseID(chordIDStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid chord id")
	}
	succ, err := ring.FindSuccessor(ctx, client, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve successor")
	}

	url := fmt.Sprintf("http://%s:%d/chord/lookup_metadata?key=%s", succ.IP, succ.Port, chordIDStr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to GET DHT lookup")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("lookup_metadata returned status %d", resp.StatusCode)
	}

	var offers []models.Offer
	if err := json.NewDecoder(resp.Body).Decode(&offers); err != nil {
		return nil, errors.Wrap(err, "failed to decode offers")
	}
	return offers, nil
}

// StartAdvertising runs the periodic re-advertisement loop: every
// advertiseInterval it calls buildOffer for a fresh signed offer (the
// caller is expected to close over the node's current
// resourcemonitor snapshot and pricing) and publishes it. It returns a
// stop function ending the loop.
func StartAdvertising(client HTTPClient, ring *chord.Ring, priv *identity.KeyPair, buildOffer func() (models.Offer, error)) (stop func()) {
	stopCh := make(chan struct{})

	go func() {
		ticker := time.NewTicker(advertiseInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				o, err := buildOffer()
				if err != nil {
					zlog.Sugar().Warnf("advertise: failed to build offer: %v", err)
					continue
				}
				ctx, cancel := context.WithTimeout(context.Background(), storeRPCTimeout)
				if err := PublishOffer(ctx, client, ring, priv, o); err != nil {
					zlog.Sugar().Debugf("advertise: failed to publish offer: %v", err)
				}
				cancel()
			}
		}
	}()

	return func() { close(stopCh) }
}
