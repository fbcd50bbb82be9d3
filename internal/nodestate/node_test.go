package nodestate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/internal/config"
	"github.com/nunet-edge/overlay-node/internal/offer"
	"github.com/nunet-edge/overlay-node/models"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := config.Config{General: config.General{DataDir: t.TempDir()}}
	n, err := New(cfg, "127.0.0.1", 9000)
	require.NoError(t, err)
	require.NoError(t, n.Monitor.Sample(context.Background()))
	t.Cleanup(func() { n.Journal.Close() })
	return n
}

func TestNewPersistsAndReloadsSameIdentity(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{General: config.General{DataDir: dir}}

	n1, err := New(cfg, "127.0.0.1", 9001)
	require.NoError(t, err)
	n1.Journal.Close()

	n2, err := New(cfg, "127.0.0.1", 9001)
	require.NoError(t, err)
	defer n2.Journal.Close()

	assert.Equal(t, n1.SelfChordID().String(), n2.SelfChordID().String())
}

func TestSelfChordIDMatchesAddressHash(t *testing.T) {
	n := newTestNode(t)
	assert.Equal(t, n.Ring.SelfChordID().String(), n.SelfChordID().String())
	assert.Equal(t, "127.0.0.1:9000", n.SelfAddress())
}

func TestPeerPublicKeyResolvesKnownPeer(t *testing.T) {
	n := newTestNode(t)
	self := n.SelfAddress()

	pub, ok := n.PeerPublicKey(self)
	require.True(t, ok)
	assert.NotNil(t, pub)

	_, ok = n.PeerPublicKey("unknown:1234")
	assert.False(t, ok)
}

func TestStatusReflectsAllocations(t *testing.T) {
	n := newTestNode(t)

	status := n.Status()
	assert.Equal(t, n.IP, status.IP)
	assert.Equal(t, n.Port, status.Port)
	assert.False(t, status.ESPActive)

	n.Allocs.Reserve("t1", 1, 1)
	assert.True(t, n.Status().ESPActive)
}

func TestBuildOfferIsVerifiable(t *testing.T) {
	n := newTestNode(t)
	n.Pricing = models.PricingParameters{CPUPerHourUSD: 0.1, RAMGBPerHourUSD: 0.01}

	o, err := n.BuildOffer()
	require.NoError(t, err)
	assert.Equal(t, n.SelfAddress(), o.NodeAddress)
	assert.NotEmpty(t, o.Signature)
	assert.True(t, offer.Verify(n.Keypair.Public, o))
}
