// Package chordid implements the 160-bit identifier space used by the
// Chord ring: node/key hashing and the (start, end] ring predicate.
package chordid

import (
	"crypto/sha1"
	"fmt"
	"math/big"
)

// Bits is the width of the Chord identifier space (SHA-1 output).
const Bits = 160

// ringSize is 2^160, used for modular arithmetic on the ring.
var ringSize = new(big.Int).Lsh(big.NewInt(1), Bits)

// ID is an unsigned 160-bit identifier on the Chord ring.
type ID struct {
	v *big.Int
}

// FromAddress hashes "ip:port" with SHA-1 and returns the resulting ring ID.
func FromAddress(ip string, port int) ID {
	return FromString(fmt.Sprintf("%s:%d", ip, port))
}

// FromString hashes an arbitrary string with SHA-1 and returns the
// resulting ring ID. Used for both node identities and offer keys.
func FromString(s string) ID {
	sum := sha1.Sum([]byte(s))
	v := new(big.Int).SetBytes(sum[:])
	return ID{v: v}
}

// FromBigInt wraps an existing big.Int as a ring ID, reducing modulo
// the ring size.
func FromBigInt(v *big.Int) ID {
	m := new(big.Int).Mod(v, ringSize)
	return ID{v: m}
}

// Int returns the underlying big.Int value.
func (id ID) Int() *big.Int {
	return new(big.Int).Set(id.v)
}

// String renders the ID in decimal, i.e. int(SHA1("ip:port"), 16).
func (id ID) String() string {
	return id.v.String()
}

// Short renders id mod 10000, useful for log lines and debug views.
func (id ID) Short() int64 {
	mod := new(big.Int).Mod(id.v, big.NewInt(10000))
	return mod.Int64()
}

// Equal reports whether two IDs denote the same ring position.
func (id ID) Equal(other ID) bool {
	return id.v.Cmp(other.v) == 0
}

// AddPow2 returns (id + 2^i) mod 2^160, the start of finger table entry i.
func (id ID) AddPow2(i int) ID {
	offset := new(big.Int).Lsh(big.NewInt(1), uint(i))
	sum := new(big.Int).Add(id.v, offset)
	return FromBigInt(sum)
}

// Between reports whether id lies in the half-open-from-below,
// closed-from-above interval (start, end] on the ring, with wraparound:
// if start < end, start < id <= end; otherwise start < id || id <= end.
// A ring of one participant (start == end) is false for id == start and
// true for everything else.
func Between(start, id, end ID) bool {
	s, i, e := start.v, id.v, end.v
	if s.Cmp(e) == 0 {
		return i.Cmp(s) != 0
	}
	if s.Cmp(e) < 0 {
		return s.Cmp(i) < 0 && i.Cmp(e) <= 0
	}
	return s.Cmp(i) < 0 || i.Cmp(e) <= 0
}

// BetweenOpen reports whether id lies in the open interval (start, end),
// excluding both endpoints, with the same wraparound rule. Used by
// notify() and closest_preceding_node().
func BetweenOpen(start, id, end ID) bool {
	s, i, e := start.v, id.v, end.v
	if s.Cmp(e) < 0 {
		return s.Cmp(i) < 0 && i.Cmp(e) < 0
	}
	return s.Cmp(i) < 0 || i.Cmp(e) < 0
}

// ParseID parses a decimal string into an ID, as accepted by the
// `/chord/find_successor?id=N` and `/chord/lookup_metadata?key=N` routes.
func ParseID(s string) (ID, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return ID{}, fmt.Errorf("invalid chord id: %q", s)
	}
	return FromBigInt(v), nil
}
