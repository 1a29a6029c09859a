// Package overlay buffers contract state and balance changes in a tree of
// transactional scopes. A scope sees its own writes layered over its parent's; committing
// merges it into the parent and committing the root applies everything to
// the base state as one change set. Discarding drops the scope with no
// observable effect.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/echenim/Bedrock/contracts/internal/storage"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// ErrClosed is returned when a scope is used after Commit or Discard.
var ErrClosed = errors.New("overlay: scope already closed")

// ErrChildOpen is returned when a scope is used while one of its children
// has not been closed.
var ErrChildOpen = errors.New("overlay: child scope still open")

// contractChange is a buffered contract record. info == nil marks removal.
type contractChange struct {
	info *types.ContractInfo
}

// Overlay is one transactional scope.
type Overlay struct {
	parent *Overlay
	base   storage.State

	contracts map[types.Address]contractChange
	storage   map[types.TrieID]map[string][]byte
	killed    map[types.TrieID]bool
	nonces    map[types.Address]uint64
	balances  map[types.Address]*uint256.Int

	children int
	closed   bool
}

// New returns a root scope over base.
func New(base storage.State) *Overlay {
	o := newScope()
	o.base = base
	return o
}

func newScope() *Overlay {
	return &Overlay{
		contracts: make(map[types.Address]contractChange),
		storage:   make(map[types.TrieID]map[string][]byte),
		killed:    make(map[types.TrieID]bool),
		nonces:    make(map[types.Address]uint64),
		balances:  make(map[types.Address]*uint256.Int),
	}
}

// Child opens a nested scope. The parent may not be used until the child is
// committed or discarded.
func (o *Overlay) Child() (*Overlay, error) {
	if err := o.usable(); err != nil {
		return nil, err
	}
	c := newScope()
	c.parent = o
	o.children++
	return c, nil
}

func (o *Overlay) usable() error {
	if o.closed {
		return ErrClosed
	}
	if o.children > 0 {
		return ErrChildOpen
	}
	return nil
}

// GetStorage returns the value stored under key in trie, or nil when absent.
// A present empty value is returned as a non-nil empty slice.
func (o *Overlay) GetStorage(trie types.TrieID, key []byte) ([]byte, error) {
	if err := o.usable(); err != nil {
		return nil, err
	}
	for s := o; s != nil; s = s.parent {
		if entries, ok := s.storage[trie]; ok {
			if v, ok := entries[string(key)]; ok {
				return cloneValue(v), nil
			}
		}
		if s.killed[trie] {
			return nil, nil
		}
		if s.parent == nil {
			v, err := s.base.Storage(trie, key)
			if err != nil {
				return nil, fmt.Errorf("overlay: read storage: %w", err)
			}
			return v, nil
		}
	}
	return nil, nil
}

// SetStorage records a write. A nil value removes the entry.
func (o *Overlay) SetStorage(trie types.TrieID, key, value []byte) error {
	if err := o.usable(); err != nil {
		return err
	}
	entries, ok := o.storage[trie]
	if !ok {
		entries = make(map[string][]byte)
		o.storage[trie] = entries
	}
	entries[string(key)] = cloneValue(value)
	return nil
}

// RemoveStorage records the removal of one entry.
func (o *Overlay) RemoveStorage(trie types.TrieID, key []byte) error {
	return o.SetStorage(trie, key, nil)
}

// ContractInfo returns the contract record at addr, or nil when addr is not
// a contract. The returned record is a copy.
func (o *Overlay) ContractInfo(addr types.Address) (*types.ContractInfo, error) {
	if err := o.usable(); err != nil {
		return nil, err
	}
	for s := o; s != nil; s = s.parent {
		if c, ok := s.contracts[addr]; ok {
			return c.info.Clone(), nil
		}
		if s.parent == nil {
			info, err := s.base.ContractInfo(addr)
			if err != nil {
				return nil, fmt.Errorf("overlay: read contract: %w", err)
			}
			return info, nil
		}
	}
	return nil, nil
}

// SetContractInfo records a contract record write.
func (o *Overlay) SetContractInfo(addr types.Address, info *types.ContractInfo) error {
	if info == nil {
		return errors.New("overlay: nil contract info")
	}
	if err := o.usable(); err != nil {
		return err
	}
	o.contracts[addr] = contractChange{info: info.Clone()}
	return nil
}

// RemoveContract records the removal of the contract at addr together with
// its whole storage trie. Removing a non-contract is a no-op.
func (o *Overlay) RemoveContract(addr types.Address) error {
	info, err := o.ContractInfo(addr)
	if err != nil || info == nil {
		return err
	}
	o.killed[info.TrieID] = true
	delete(o.storage, info.TrieID)
	o.contracts[addr] = contractChange{}
	return nil
}

// Nonce returns the instantiation counter of addr.
func (o *Overlay) Nonce(addr types.Address) (uint64, error) {
	if err := o.usable(); err != nil {
		return 0, err
	}
	for s := o; s != nil; s = s.parent {
		if n, ok := s.nonces[addr]; ok {
			return n, nil
		}
		if s.parent == nil {
			n, err := s.base.Nonce(addr)
			if err != nil {
				return 0, fmt.Errorf("overlay: read nonce: %w", err)
			}
			return n, nil
		}
	}
	return 0, nil
}

// SetNonce records a nonce write.
func (o *Overlay) SetNonce(addr types.Address, n uint64) error {
	if err := o.usable(); err != nil {
		return err
	}
	o.nonces[addr] = n
	return nil
}

// Balance returns the free balance of addr. Unknown accounts hold zero.
func (o *Overlay) Balance(addr types.Address) (*uint256.Int, error) {
	if err := o.usable(); err != nil {
		return nil, err
	}
	for s := o; s != nil; s = s.parent {
		if v, ok := s.balances[addr]; ok {
			return new(uint256.Int).Set(v), nil
		}
		if s.parent == nil {
			v, err := s.base.Balance(addr)
			if err != nil {
				return nil, fmt.Errorf("overlay: read balance: %w", err)
			}
			return v, nil
		}
	}
	return new(uint256.Int), nil
}

// SetBalance records a balance write. With Balance it lets a scope back a
// ledger, so value moved inside the scope shares its fate.
func (o *Overlay) SetBalance(addr types.Address, v *uint256.Int) error {
	if v == nil {
		return errors.New("overlay: nil balance")
	}
	if err := o.usable(); err != nil {
		return err
	}
	o.balances[addr] = new(uint256.Int).Set(v)
	return nil
}

// Commit closes the scope, merging it into its parent, or for the root,
// applying all buffered changes to the base state atomically.
func (o *Overlay) Commit() error {
	if err := o.usable(); err != nil {
		return err
	}
	o.closed = true
	if o.parent == nil {
		if err := o.base.Apply(o.changeSet()); err != nil {
			return fmt.Errorf("overlay: commit root: %w", err)
		}
		return nil
	}

	p := o.parent
	p.children--
	for trie := range o.killed {
		p.killed[trie] = true
		delete(p.storage, trie)
	}
	for trie, entries := range o.storage {
		dst, ok := p.storage[trie]
		if !ok {
			dst = make(map[string][]byte, len(entries))
			p.storage[trie] = dst
		}
		for k, v := range entries {
			dst[k] = v
		}
	}
	for addr, c := range o.contracts {
		p.contracts[addr] = c
	}
	for addr, n := range o.nonces {
		p.nonces[addr] = n
	}
	for addr, v := range o.balances {
		p.balances[addr] = v
	}
	return nil
}

// Discard closes the scope and drops every buffered change.
func (o *Overlay) Discard() error {
	if o.closed {
		return ErrClosed
	}
	if o.children > 0 {
		return ErrChildOpen
	}
	o.closed = true
	if o.parent != nil {
		o.parent.children--
	}
	o.contracts, o.storage, o.killed, o.nonces, o.balances = nil, nil, nil, nil, nil
	return nil
}

// changeSet flattens the root scope into a sorted change set.
func (o *Overlay) changeSet() *storage.ChangeSet {
	cs := &storage.ChangeSet{}

	for trie := range o.killed {
		cs.KilledTries = append(cs.KilledTries, trie)
	}
	sort.Slice(cs.KilledTries, func(i, j int) bool {
		return bytes.Compare(cs.KilledTries[i][:], cs.KilledTries[j][:]) < 0
	})

	for addr, c := range o.contracts {
		cs.Contracts = append(cs.Contracts, storage.ContractChange{Address: addr, Info: c.info})
	}
	sort.Slice(cs.Contracts, func(i, j int) bool {
		return bytes.Compare(cs.Contracts[i].Address[:], cs.Contracts[j].Address[:]) < 0
	})

	for trie, entries := range o.storage {
		for k, v := range entries {
			cs.Storage = append(cs.Storage, storage.StorageChange{Trie: trie, Key: []byte(k), Value: v})
		}
	}
	sort.Slice(cs.Storage, func(i, j int) bool {
		if c := bytes.Compare(cs.Storage[i].Trie[:], cs.Storage[j].Trie[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(cs.Storage[i].Key, cs.Storage[j].Key) < 0
	})

	for addr, n := range o.nonces {
		cs.Nonces = append(cs.Nonces, storage.NonceChange{Address: addr, Nonce: n})
	}
	sort.Slice(cs.Nonces, func(i, j int) bool {
		return bytes.Compare(cs.Nonces[i].Address[:], cs.Nonces[j].Address[:]) < 0
	})

	for addr, v := range o.balances {
		cs.Balances = append(cs.Balances, storage.BalanceChange{Address: addr, Balance: v})
	}
	sort.Slice(cs.Balances, func(i, j int) bool {
		return bytes.Compare(cs.Balances[i].Address[:], cs.Balances[j].Address[:]) < 0
	})

	return cs
}

func cloneValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
