package crypto

import (
	"encoding/binary"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"golang.org/x/crypto/blake2b"
)

// Domain separators for derived identifiers.
var (
	addressDomain = []byte("contract:address")
	trieDomain    = []byte("contract:trie")
)

// Blake2b256 computes the blake2b-256 hash of data.
func Blake2b256(data []byte) types.Hash {
	return blake2b.Sum256(data)
}

// CodeHash returns the identity of a code blob.
func CodeHash(code []byte) types.Hash {
	return Blake2b256(code)
}

// ContractAddress derives the address of a contract instantiated by
// deployer from codeHash. nonce is the deployer's instantiation counter, so
// repeated deployments of the same code get distinct addresses.
func ContractAddress(deployer types.Address, codeHash types.Hash, nonce uint64) types.Address {
	h, _ := blake2b.New256(nil)
	h.Write(addressDomain)
	h.Write(deployer[:])
	h.Write(codeHash[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])

	var addr types.Address
	copy(addr[:], h.Sum(nil))
	return addr
}

// TrieIDFor derives the storage namespace of a new contract instance.
func TrieIDFor(addr types.Address, nonce uint64) types.TrieID {
	h, _ := blake2b.New256(nil)
	h.Write(trieDomain)
	h.Write(addr[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h.Write(n[:])

	var id types.TrieID
	copy(id[:], h.Sum(nil))
	return id
}
