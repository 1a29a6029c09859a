package types

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Gas is the unit of execution accounting.
type Gas = uint64

// BalanceSize is the maximum encoded length of a balance value.
const BalanceSize = 32

// DecodeBalance parses a big-endian balance buffer of at most 32 bytes.
// An empty buffer decodes to zero.
func DecodeBalance(b []byte) (*uint256.Int, error) {
	if len(b) > BalanceSize {
		return nil, fmt.Errorf("invalid balance length: got %d, max %d", len(b), BalanceSize)
	}
	return new(uint256.Int).SetBytes(b), nil
}

// EncodeBalance returns the fixed 32-byte big-endian form of v.
// A nil value encodes as zero.
func EncodeBalance(v *uint256.Int) []byte {
	if v == nil {
		v = new(uint256.Int)
	}
	out := v.Bytes32()
	return out[:]
}

// BalanceFromDecimal parses a base-10 balance string.
func BalanceFromDecimal(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", s, err)
	}
	return v, nil
}
