// Package peerregistry implements the authenticated peer membership
// table: register -> challenge -> authenticate, gossip discovery,
// periodic health checks, and misbehavior scoring with quarantine.
package peerregistry

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nunet-edge/overlay-node/internal/chordid"
	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/models"
)

var zlog = logger.New("peerregistry")

const (
	challengeLength    = 16
	misbehaviorLimit   = 5
	quarantineDuration = 300 * time.Second
)

// Registry is the authenticated peer membership table. The peer,
// pending-challenge, strike and quarantine maps are guarded by mu; the
// self ip/port/address fields are read-only after construction.
type Registry struct {
	selfIP      string
	selfPort    int
	selfAddress string

	mu       sync.RWMutex
	peers    map[string]*models.PeerRecord // keyed by "ip:port"
	pending  map[string]pendingChallenge   // keyed by "ip:port"
	strikes  map[string]int
	quarantines map[string]time.Time

	stopCh chan struct{}
}

type pendingChallenge struct {
	publicKeyHex string
	challenge    string
}

// New builds an empty Registry for a node identified by ip:port. The
// node's own record is inserted immediately so PeerList always
// includes self.
func New(ip string, port int, publicKeyHex string, promisedCapacity float64) *Registry {
	addr := formatAddress(ip, port)
	r := &Registry{
		selfIP:      ip,
		selfPort:    port,
		selfAddress: addr,
		peers:       make(map[string]*models.PeerRecord),
		pending:     make(map[string]pendingChallenge),
		strikes:     make(map[string]int),
		quarantines: make(map[string]time.Time),
	}
	r.peers[addr] = &models.PeerRecord{
		IP:               ip,
		Port:             port,
		ChordID:          chordid.FromAddress(ip, port).String(),
		PublicKey:        publicKeyHex,
		PromisedCapacity: promisedCapacity,
		LastSeenUTC:      time.Now().UTC().Format(time.RFC3339),
	}
	return r
}

func formatAddress(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}

// Register begins the handshake for a claimed (ip, port, publicKey),
// returning a fresh random challenge the caller must sign to complete
// authentication.
func (r *Registry) Register(ip string, port int, publicKeyHex string) string {
	addr := formatAddress(ip, port)
	challenge := randomString(challengeLength)

	r.mu.Lock()
	r.pending[addr] = pendingChallenge{publicKeyHex: publicKeyHex, challenge: challenge}
	r.mu.Unlock()

	return challenge
}

// Authenticate completes the handshake: sigHex must be a valid
// ECDSA/SHA-256 signature over the pending challenge under the
// registered public key. On success the peer record is inserted or
// updated with current_load reset to zero; on failure the pending
// entry is left intact so the peer can retry.
func (r *Registry) Authenticate(ip string, port int, sigHex string, promisedCapacity float64) error {
	addr := formatAddress(ip, port)

	r.mu.Lock()
	pending, ok := r.pending[addr]
	r.mu.Unlock()
	if !ok {
		return errors.New("no pending challenge for this address")
	}

	pub, err := identity.ParsePublicKeyHex(pending.publicKeyHex)
	if err != nil {
		return errors.Wrap(err, "invalid registered public key")
	}

	digest := sha256.Sum256([]byte(pending.challenge))
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return errors.New("invalid signature encoding")
	}
	if !verifyDigest(pub, digest[:], sig) {
		return errors.New("signature verification failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr] = &models.PeerRecord{
		IP:               ip,
		Port:             port,
		ChordID:          chordid.FromAddress(ip, port).String(),
		PublicKey:        pending.publicKeyHex,
		PromisedCapacity: promisedCapacity,
		CurrentLoad:      0,
		LastSeenUTC:      time.Now().UTC().Format(time.RFC3339),
	}
	delete(r.pending, addr)
	return nil
}

// UpdatePeer applies an authoritative self-update gossiped by the peer
// it describes.
func (r *Registry) UpdatePeer(record models.PeerRecord) {
	addr := formatAddress(record.IP, record.Port)
	record.LastSeenUTC = time.Now().UTC().Format(time.RFC3339)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[addr] = &record
}

// PeerList returns every known peer, including self.
func (r *Registry) PeerList() []models.PeerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PeerRecord, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

// Peer returns the record for an address, if known.
func (r *Registry) Peer(address string) (models.PeerRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[address]
	if !ok {
		return models.PeerRecord{}, false
	}
	return *p, true
}

// PeerPublicKey resolves a known peer's public key by address, for
// callers (dhtstore, scheduler-side signature checks) authenticating
// traffic from an already-registered peer. Satisfies
// dhtstore.PublicKeyResolver; nodestate.Node's IdentityLookup method of
// the same name delegates here.
func (r *Registry) PeerPublicKey(address string) (*ecdsa.PublicKey, bool) {
	p, ok := r.Peer(address)
	if !ok {
		return nil, false
	}
	pub, err := identity.ParsePublicKeyHex(p.PublicKey)
	if err != nil {
		return nil, false
	}
	return pub, true
}

// SelfAddress returns this node's own "ip:port".
func (r *Registry) SelfAddress() string {
	return r.selfAddress
}

// merge inserts every peer in incoming that is not already known.
// Existing entries are never overwritten by gossip, only by
// authoritative UpdatePeer calls from the peer itself.
func (r *Registry) merge(incoming []models.PeerRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, p := range incoming {
		addr := formatAddress(p.IP, p.Port)
		if _, known := r.peers[addr]; known {
			continue
		}
		rec := p
		r.peers[addr] = &rec
		added++
	}
	return added
}

// RecordMisbehavior increments address's strike count; on reaching
// misbehaviorLimit within the process lifetime it is quarantined for
// quarantineDuration. Strikes are never decremented or persisted.
func (r *Registry) RecordMisbehavior(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.strikes[address]++
	if r.strikes[address] >= misbehaviorLimit {
		r.quarantines[address] = time.Now().Add(quarantineDuration)
		zlog.Sugar().Warnf("quarantining peer %s until %s", address, r.quarantines[address])
	}
}

// IsQuarantined reports whether no outbound call should currently be
// made to address.
func (r *Registry) IsQuarantined(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	until, ok := r.quarantines[address]
	if !ok {
		return false
	}
	return time.Now().Before(until)
}

// Remove deletes a peer, used when it is found permanently
// unreachable.
func (r *Registry) Remove(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, address)
}

func verifyDigest(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	return ecdsa.VerifyASN1(pub, digest, sig)
}

func randomString(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var sb strings.Builder
	sb.Grow(n)
	for i := 0; i < n; i++ {
		sb.WriteByte(charset[rand.Intn(len(charset))])
	}
	return sb.String()
}
