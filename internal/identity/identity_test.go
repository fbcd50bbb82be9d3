package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	A         int    `json:"a"`
	B         string `json:"b"`
	Signature string `json:"signature,omitempty"`
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	s := sample{A: 1, B: "hello"}
	sig, err := Sign(kp.Private, s)
	require.NoError(t, err)
	s.Signature = sig

	assert.True(t, Verify(kp.Public, s, s.Signature))
}

func TestVerifyFailsOnTamper(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	s := sample{A: 1, B: "hello"}
	sig, err := Sign(kp.Private, s)
	require.NoError(t, err)

	s.A = 2 // tamper after signing
	assert.False(t, Verify(kp.Public, s, sig))
}

func TestVerifyFailsOnWrongKey(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)
	other, err := Generate()
	require.NoError(t, err)

	s := sample{A: 1, B: "hello"}
	sig, err := Sign(kp.Private, s)
	require.NoError(t, err)

	assert.False(t, Verify(other.Public, s, sig))
}

func TestCanonicalJSONExcludesSignature(t *testing.T) {
	s := sample{A: 1, B: "hello", Signature: "deadbeef"}
	canon, err := CanonicalJSON(s)
	require.NoError(t, err)
	assert.NotContains(t, string(canon), "deadbeef")
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	kp, err := Generate()
	require.NoError(t, err)

	hexKey := PublicKeyHex(kp.Public)
	parsed, err := ParsePublicKeyHex(hexKey)
	require.NoError(t, err)

	assert.Equal(t, kp.Public.X, parsed.X)
	assert.Equal(t, kp.Public.Y, parsed.Y)
}

func TestLoadOrGeneratePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.key")

	kp1, err := LoadOrGenerate(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	kp2, err := LoadOrGenerate(path)
	require.NoError(t, err)
	assert.Equal(t, kp1.Public.X, kp2.Public.X)
	assert.Equal(t, kp1.Public.Y, kp2.Public.Y)
}
