package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"google.golang.org/protobuf/encoding/protowire"
)

// ContractInfo is the persistent record of a deployed contract. Its
// presence is what distinguishes a contract account from a plain account.
type ContractInfo struct {
	CodeHash Hash
	TrieID   TrieID

	// RentAllowance caps the total rent the contract will pay before it
	// becomes evictable.
	RentAllowance *uint256.Int

	// LastWriteHeight is the block height of the last successful frame
	// that modified the contract.
	LastWriteHeight uint64

	// DeductHeight is the block height up to which rent has been paid.
	DeductHeight uint64

	// StorageSize is the sum of key and value lengths held in the trie.
	StorageSize uint64
}

// Clone returns a deep copy of the record.
func (c *ContractInfo) Clone() *ContractInfo {
	if c == nil {
		return nil
	}
	out := *c
	if c.RentAllowance != nil {
		out.RentAllowance = new(uint256.Int).Set(c.RentAllowance)
	}
	return &out
}

// Field numbers of the ContractInfo wire encoding.
const (
	fieldCodeHash        protowire.Number = 1
	fieldTrieID          protowire.Number = 2
	fieldRentAllowance   protowire.Number = 3
	fieldLastWriteHeight protowire.Number = 4
	fieldDeductHeight    protowire.Number = 5
	fieldStorageSize     protowire.Number = 6
)

// Marshal encodes the record in protobuf wire format with a fixed field
// order, so equal records always produce equal bytes.
func (c *ContractInfo) Marshal() []byte {
	b := make([]byte, 0, 128)
	b = protowire.AppendTag(b, fieldCodeHash, protowire.BytesType)
	b = protowire.AppendBytes(b, c.CodeHash[:])
	b = protowire.AppendTag(b, fieldTrieID, protowire.BytesType)
	b = protowire.AppendBytes(b, c.TrieID[:])
	b = protowire.AppendTag(b, fieldRentAllowance, protowire.BytesType)
	b = protowire.AppendBytes(b, EncodeBalance(c.RentAllowance))
	b = protowire.AppendTag(b, fieldLastWriteHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, c.LastWriteHeight)
	b = protowire.AppendTag(b, fieldDeductHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, c.DeductHeight)
	b = protowire.AppendTag(b, fieldStorageSize, protowire.VarintType)
	b = protowire.AppendVarint(b, c.StorageSize)
	return b
}

// ErrMalformedContractInfo is returned when a stored record cannot be decoded.
var ErrMalformedContractInfo = errors.New("types: malformed contract info")

// UnmarshalContractInfo decodes a record produced by Marshal. Unknown
// fields are skipped.
func UnmarshalContractInfo(b []byte) (*ContractInfo, error) {
	c := &ContractInfo{RentAllowance: new(uint256.Int)}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedContractInfo, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && (num == fieldCodeHash || num == fieldTrieID || num == fieldRentAllowance):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedContractInfo, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldCodeHash:
				h, err := HashFromBytes(v)
				if err != nil {
					return nil, fmt.Errorf("%w: code hash: %v", ErrMalformedContractInfo, err)
				}
				c.CodeHash = h
			case fieldTrieID:
				if len(v) != HashSize {
					return nil, fmt.Errorf("%w: trie id length %d", ErrMalformedContractInfo, len(v))
				}
				copy(c.TrieID[:], v)
			case fieldRentAllowance:
				a, err := DecodeBalance(v)
				if err != nil {
					return nil, fmt.Errorf("%w: rent allowance: %v", ErrMalformedContractInfo, err)
				}
				c.RentAllowance = a
			}

		case typ == protowire.VarintType && (num == fieldLastWriteHeight || num == fieldDeductHeight || num == fieldStorageSize):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedContractInfo, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldLastWriteHeight:
				c.LastWriteHeight = v
			case fieldDeductHeight:
				c.DeductHeight = v
			case fieldStorageSize:
				c.StorageSize = v
			}

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedContractInfo, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return c, nil
}
