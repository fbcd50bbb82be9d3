package dhtstore

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/internal/chord"
	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/internal/offer"
	"github.com/nunet-edge/overlay-node/models"
)

type fakeResolver struct {
	keys map[string]*ecdsa.PublicKey
}

func (f *fakeResolver) PeerPublicKey(address string) (*ecdsa.PublicKey, bool) {
	k, ok := f.keys[address]
	return k, ok
}

func buildSignedOffer(t *testing.T, kp *identity.KeyPair, nodeID, nodeAddress string) models.Offer {
	t.Helper()
	o, err := offer.Build(kp, nodeID, nodeAddress, models.SystemStats{CPUCoresLogical: 4}, models.PricingParameters{})
	require.NoError(t, err)
	return o
}

func TestStoreMetadataRejectsUnknownPublisher(t *testing.T) {
	ring := chord.New("127.0.0.1", 9000)
	resolver := &fakeResolver{keys: map[string]*ecdsa.PublicKey{}}
	store := New(ring, resolver)

	kp, err := identity.Generate()
	require.NoError(t, err)
	o := buildSignedOffer(t, kp, ring.SelfChordID().String(), "10.0.0.1:9000")
	env, err := offer.WrapEnvelope(kp, o.NodeID, o)
	require.NoError(t, err)

	err = store.StoreMetadata(env)
	assert.Error(t, err)
}

func TestStoreMetadataRejectsBadSignature(t *testing.T) {
	ring := chord.New("127.0.0.1", 9000)
	kp, err := identity.Generate()
	require.NoError(t, err)
	resolver := &fakeResolver{keys: map[string]*ecdsa.PublicKey{"10.0.0.1:9000": kp.Public}}
	store := New(ring, resolver)

	o := buildSignedOffer(t, kp, ring.SelfChordID().String(), "10.0.0.1:9000")
	o.PricingParameters.CPUPerHourUSD = 42 // tamper after signing
	env, err := offer.WrapEnvelope(kp, o.NodeID, o)
	require.NoError(t, err)

	err = store.StoreMetadata(env)
	assert.Error(t, err)
}

func TestStoreAndLookupRoundTrip(t *testing.T) {
	ring := chord.New("127.0.0.1", 9000)
	kp, err := identity.Generate()
	require.NoError(t, err)
	resolver := &fakeResolver{keys: map[string]*ecdsa.PublicKey{"10.0.0.1:9000": kp.Public}}
	store := New(ring, resolver)

	key := ring.SelfChordID().String()
	o := buildSignedOffer(t, kp, key, "10.0.0.1:9000")
	env, err := offer.WrapEnvelope(kp, key, o)
	require.NoError(t, err)

	require.NoError(t, store.StoreMetadata(env))

	got, err := store.LookupMetadata(key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o.OfferID, got[0].OfferID)
}

func TestStoreMetadataReplacesPriorOfferFromSameAddress(t *testing.T) {
	ring := chord.New("127.0.0.1", 9000)
	kp, err := identity.Generate()
	require.NoError(t, err)
	resolver := &fakeResolver{keys: map[string]*ecdsa.PublicKey{"10.0.0.1:9000": kp.Public}}
	store := New(ring, resolver)

	key := ring.SelfChordID().String()
	first := buildSignedOffer(t, kp, key, "10.0.0.1:9000")
	env1, err := offer.WrapEnvelope(kp, key, first)
	require.NoError(t, err)
	require.NoError(t, store.StoreMetadata(env1))

	second := buildSignedOffer(t, kp, key, "10.0.0.1:9000")
	env2, err := offer.WrapEnvelope(kp, key, second)
	require.NoError(t, err)
	require.NoError(t, store.StoreMetadata(env2))

	got, err := store.LookupMetadata(key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.OfferID, got[0].OfferID)
}

func TestLookupMetadataRefusesOutOfRangeKey(t *testing.T) {
	ring := chord.New("127.0.0.1", 9000)
	resolver := &fakeResolver{keys: map[string]*ecdsa.PublicKey{}}
	store := New(ring, resolver)

	predecessor := chord.NodeInfo{IP: "10.0.0.5", Port: 9500, ChordID: ring.SelfChordID().AddPow2(100).String()}
	ring.Notify(predecessor)

	// The predecessor's own id is the one boundary excluded from the
	// authoritative (predecessor, self] range.
	_, err := store.LookupMetadata(predecessor.ChordID)
	assert.Error(t, err)
}

func TestPublishAndDiscoverRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	kp, err := identity.Generate()
	require.NoError(t, err)

	ring := chord.New(host, port)
	selfAddr := host + ":" + strconv.Itoa(port)
	resolver := &fakeResolver{keys: map[string]*ecdsa.PublicKey{selfAddr: kp.Public}}
	store := New(ring, resolver)

	mux.HandleFunc("/chord/store_metadata", func(w http.ResponseWriter, req *http.Request) {
		var env models.DHTUpdateEnvelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := store.StoreMetadata(env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/chord/lookup_metadata", func(w http.ResponseWriter, req *http.Request) {
		offers, err := store.LookupMetadata(req.URL.Query().Get("key"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(offers)
	})

	o := buildSignedOffer(t, kp, ring.SelfChordID().String(), selfAddr)

	err = PublishOffer(context.Background(), http.DefaultClient, ring, kp, o)
	require.NoError(t, err)

	got, err := DiscoverOffersByChordID(context.Background(), http.DefaultClient, ring, ring.SelfChordID().String())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o.OfferID, got[0].OfferID)
}
