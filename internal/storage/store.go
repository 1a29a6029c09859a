// Package storage holds the persistent base state beneath the execution
// overlay: contract records, per-contract storage tries, nonces, code blobs,
// compiled artifacts and account balances.
package storage

import (
	"errors"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: store closed")

// Reader is the read side of contract state. Absent entries are reported as
// nil values with a nil error.
type Reader interface {
	ContractInfo(addr types.Address) (*types.ContractInfo, error)
	Storage(trie types.TrieID, key []byte) ([]byte, error)
	Nonce(addr types.Address) (uint64, error)
	Balance(addr types.Address) (*uint256.Int, error)
}

// State is contract state that accepts an atomic change set.
type State interface {
	Reader
	Apply(cs *ChangeSet) error
}

// Store is the full persistent backend.
type Store interface {
	State

	PutCode(hash types.Hash, code []byte) error
	Code(hash types.Hash) ([]byte, error)
	PutArtifact(hash types.Hash, artifact []byte) error
	Artifact(hash types.Hash) ([]byte, error)

	// SetBalance writes one balance outside any change set. It is meant for
	// genesis funding.
	SetBalance(addr types.Address, v *uint256.Int) error

	Meta(name string) ([]byte, error)
	SetMeta(name string, v []byte) error

	// Digest commits to all consensus-relevant state. Two stores holding the
	// same contracts, storage, nonces, code and balances have equal digests.
	Digest() (types.Hash, error)

	Close() error
}

// ContractChange writes or deletes (Info == nil) a contract record.
type ContractChange struct {
	Address types.Address
	Info    *types.ContractInfo
}

// StorageChange writes or deletes (Value == nil) one storage entry.
type StorageChange struct {
	Trie  types.TrieID
	Key   []byte
	Value []byte
}

// NonceChange sets an account's instantiation counter.
type NonceChange struct {
	Address types.Address
	Nonce   uint64
}

// BalanceChange sets an account's free balance. A zero balance is deleted.
type BalanceChange struct {
	Address types.Address
	Balance *uint256.Int
}

// ChangeSet is the flattened result of a committed root overlay. Entries are
// sorted so that applying the same set is byte-for-byte reproducible.
// KilledTries are wiped before Storage is written, so a trie may be killed
// and then repopulated in the same set.
type ChangeSet struct {
	KilledTries []types.TrieID
	Contracts   []ContractChange
	Storage     []StorageChange
	Nonces      []NonceChange
	Balances    []BalanceChange
}

// Empty reports whether the set carries no changes.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.KilledTries) == 0 && len(cs.Contracts) == 0 &&
		len(cs.Storage) == 0 && len(cs.Nonces) == 0 && len(cs.Balances) == 0)
}
