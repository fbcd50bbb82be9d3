// Package identity manages the node's ECC P-256 keypair and the
// canonical-JSON sign/verify primitives shared by the offer and DHT
// layers.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// KeyPair wraps a P-256 ECDSA keypair.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Public  *ecdsa.PublicKey
}

// Generate creates a fresh P-256 keypair.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate P-256 keypair")
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

// LoadOrGenerate reads a PEM-encoded EC private key from path, or
// generates and persists a new one if the file does not exist. A node
// that can neither read nor generate a keypair is a Fatal error per
// the error taxonomy: the caller should refuse to serve.
func LoadOrGenerate(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decodePEM(data)
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read keypair at %s", path)
	}

	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := kp.save(path); err != nil {
		return nil, errors.Wrapf(err, "failed to persist new keypair at %s", path)
	}
	return kp, nil
}

func decodePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM keypair file")
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse EC private key")
	}
	return &KeyPair{Private: priv, Public: &priv.PublicKey}, nil
}

func (kp *KeyPair) save(path string) error {
	der, err := x509.MarshalECPrivateKey(kp.Private)
	if err != nil {
		return err
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

// PublicKeyHex hex-encodes an uncompressed P-256 public key, suitable
// for transport in JSON and for use as a peer-registry lookup value.
func PublicKeyHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(elliptic.Marshal(elliptic.P256(), pub.X, pub.Y))
}

// ParsePublicKeyHex parses a hex-encoded uncompressed P-256 public key.
func ParsePublicKeyHex(s string) (*ecdsa.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid public key hex")
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), b)
	if x == nil {
		return nil, errors.New("invalid P-256 public key point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

// CanonicalJSON serializes v as sorted-key, UTF-8 JSON. v must marshal
// to a JSON object; the "signature" field, if present, is removed
// before (re-)marshaling so that the same bytes are hashed whether
// signing or verifying.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal value for canonicalization")
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "canonical JSON requires a JSON object")
	}
	delete(m, "signature")

	return marshalSorted(m)
}

// marshalSorted re-encodes a decoded JSON object with keys in sorted
// order. encoding/json already sorts map[string]interface{} keys on
// marshal, so this is a thin, explicitly-named wrapper documenting that
// invariant for callers relying on it for signing.
func marshalSorted(m map[string]interface{}) ([]byte, error) {
	return json.Marshal(m)
}

// Sign signs v's canonical JSON (signature field excluded) with priv,
// returning a hex-encoded ECDSA/SHA-256 signature.
func Sign(priv *ecdsa.PrivateKey, v interface{}) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canon)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", errors.Wrap(err, "failed to sign canonical payload")
	}
	return hex.EncodeToString(sig), nil
}

// Verify recomputes v's canonical JSON digest and checks sigHex against
// it under pub. It never returns an error: failure to parse, decode, or
// verify all collapse to a plain false result, so callers never need a
// separate error branch to treat a bad signature as "not verified".
func Verify(pub *ecdsa.PublicKey, v interface{}, sigHex string) bool {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(canon)
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}
