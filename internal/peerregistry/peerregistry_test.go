package peerregistry

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/models"
)

func TestRegisterAuthenticateRoundTrip(t *testing.T) {
	r := New("127.0.0.1", 5000, "self-pub", 100)

	kp, err := identity.Generate()
	require.NoError(t, err)
	pubHex := identity.PublicKeyHex(kp.Public)

	challenge := r.Register("127.0.0.1", 5001, pubHex)
	assert.Len(t, challenge, challengeLength)

	digest := sha256.Sum256([]byte(challenge))
	sigHex, err := signDigest(kp, digest[:])
	require.NoError(t, err)

	require.NoError(t, r.Authenticate("127.0.0.1", 5001, sigHex, 42))

	peer, ok := r.Peer("127.0.0.1:5001")
	require.True(t, ok)
	assert.Equal(t, 42.0, peer.PromisedCapacity)
}

func TestAuthenticateFailsOnBadSignature(t *testing.T) {
	r := New("127.0.0.1", 5000, "self-pub", 100)
	kp, err := identity.Generate()
	require.NoError(t, err)

	r.Register("127.0.0.1", 5001, identity.PublicKeyHex(kp.Public))
	err = r.Authenticate("127.0.0.1", 5001, hex.EncodeToString([]byte("garbage")), 1)
	assert.Error(t, err)

	_, ok := r.Peer("127.0.0.1:5001")
	assert.False(t, ok)
}

func TestAuthenticateFailsWithoutPendingChallenge(t *testing.T) {
	r := New("127.0.0.1", 5000, "self-pub", 100)
	err := r.Authenticate("10.0.0.1", 6000, "aa", 1)
	assert.Error(t, err)
}

func TestMisbehaviorQuarantine(t *testing.T) {
	r := New("127.0.0.1", 5000, "self-pub", 100)
	addr := "10.0.0.9:9000"

	for i := 0; i < misbehaviorLimit-1; i++ {
		r.RecordMisbehavior(addr)
		assert.False(t, r.IsQuarantined(addr))
	}
	r.RecordMisbehavior(addr)
	assert.True(t, r.IsQuarantined(addr))
}

func TestMergeSkipsKnownPeers(t *testing.T) {
	r := New("127.0.0.1", 5000, "self-pub", 100)
	r.UpdatePeer(models.PeerRecord{IP: "127.0.0.1", Port: 5001})

	added := r.merge([]models.PeerRecord{
		{IP: "127.0.0.1", Port: 5001},
		{IP: "127.0.0.1", Port: 5002},
	})
	assert.Equal(t, 1, added)
}

func TestPeerListIncludesSelf(t *testing.T) {
	r := New("127.0.0.1", 5000, "self-pub", 100)
	peers := r.PeerList()
	require.Len(t, peers, 1)
	assert.Equal(t, "127.0.0.1", peers[0].IP)
}

func signDigest(kp *identity.KeyPair, digest []byte) (string, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, kp.Private, digest)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
