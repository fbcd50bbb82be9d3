package chordid

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromAddressMatchesSHA1(t *testing.T) {
	id := FromAddress("127.0.0.1", 5000)
	assert.NotEmpty(t, id.String())

	again := FromString("127.0.0.1:5000")
	assert.True(t, id.Equal(again))
}

func TestBetweenRingOfOne(t *testing.T) {
	self := FromBigInt(big.NewInt(42))
	assert.False(t, Between(self, self, self), "id == start on a ring of one must be false")

	other := FromBigInt(big.NewInt(43))
	assert.True(t, Between(self, other, self), "any other id on a ring of one must be true")
}

func TestBetweenWraparound(t *testing.T) {
	start := FromBigInt(big.NewInt(100))
	end := FromBigInt(big.NewInt(10))

	assert.True(t, Between(start, FromBigInt(big.NewInt(150)), end))
	assert.True(t, Between(start, FromBigInt(big.NewInt(5)), end))
	assert.False(t, Between(start, FromBigInt(big.NewInt(50)), end))
}

func TestBetweenNoWrap(t *testing.T) {
	start := FromBigInt(big.NewInt(10))
	end := FromBigInt(big.NewInt(100))

	assert.True(t, Between(start, FromBigInt(big.NewInt(50)), end))
	assert.True(t, Between(start, end, end), "end is included")
	assert.False(t, Between(start, start, end), "start is excluded")
}

func TestAddPow2(t *testing.T) {
	self := FromBigInt(big.NewInt(5))
	finger0 := self.AddPow2(0)
	assert.Equal(t, big.NewInt(6).String(), finger0.String())
}

func TestParseID(t *testing.T) {
	id, err := ParseID("12345")
	assert.NoError(t, err)
	assert.Equal(t, "12345", id.String())

	_, err = ParseID("not-a-number")
	assert.Error(t, err)
}
