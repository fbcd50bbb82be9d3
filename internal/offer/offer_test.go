package offer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nunet-edge/overlay-node/internal/chordid"
	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/models"
)

func TestBuildAndVerifyRoundTrip(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	stats := models.SystemStats{CPUCoresLogical: 8, MemoryAvailableGB: 16}
	pricing := models.PricingParameters{CPUPerHourUSD: 0.10, RAMGBPerHourUSD: 0.01}

	o, err := Build(kp, chordid.FromString("127.0.0.1:9000").String(), "127.0.0.1:9000", stats, pricing)
	require.NoError(t, err)
	assert.NotEmpty(t, o.OfferID)
	assert.NotEmpty(t, o.Signature)

	assert.True(t, Verify(kp.Public, o))
}

func TestVerifyFailsOnTamperedField(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)

	o, err := Build(kp, "node-1", "127.0.0.1:9000", models.SystemStats{}, models.PricingParameters{})
	require.NoError(t, err)

	o.PricingParameters.CPUPerHourUSD = 999
	assert.False(t, Verify(kp.Public, o))
}

func TestVerifyFailsUnderWrongKey(t *testing.T) {
	kp, err := identity.Generate()
	require.NoError(t, err)
	other, err := identity.Generate()
	require.NoError(t, err)

	o, err := Build(kp, "node-1", "127.0.0.1:9000", models.SystemStats{}, models.PricingParameters{})
	require.NoError(t, err)

	assert.False(t, Verify(other.Public, o))
}

func TestIsFresh(t *testing.T) {
	now := time.Now().UTC()
	fresh := models.Offer{OfferTimestampUTC: now.Add(-1 * time.Minute).Format(time.RFC3339)}
	stale := models.Offer{OfferTimestampUTC: now.Add(-10 * time.Minute).Format(time.RFC3339)}
	malformed := models.Offer{OfferTimestampUTC: "not-a-time"}

	assert.True(t, IsFresh(fresh, now))
	assert.False(t, IsFresh(stale, now))
	assert.False(t, IsFresh(malformed, now))
}

func TestWrapAndVerifyEnvelope(t *testing.T) {
	ownerKP, err := identity.Generate()
	require.NoError(t, err)
	publisherKP, err := identity.Generate()
	require.NoError(t, err)

	o, err := Build(ownerKP, "node-1", "127.0.0.1:9000", models.SystemStats{}, models.PricingParameters{})
	require.NoError(t, err)

	env, err := WrapEnvelope(publisherKP, o.NodeID, o)
	require.NoError(t, err)

	assert.True(t, VerifyEnvelope(publisherKP.Public, ownerKP.Public, env))
	assert.False(t, VerifyEnvelope(ownerKP.Public, ownerKP.Public, env))
}
