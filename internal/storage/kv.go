package storage

import (
	"fmt"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
)

// backend is the ordered byte keyspace a kvStore is built on.
type backend interface {
	// get returns a copy of the value, or nil when the key is absent.
	get(key []byte) ([]byte, error)
	// commit applies all operations of b atomically and durably.
	commit(b *batch) error
	// iterate visits every entry in ascending key order.
	iterate(fn func(key, value []byte)) error
	close() error
}

type opKind uint8

const (
	opSet opKind = iota
	opDelete
	opDeleteRange
)

type batchOp struct {
	kind  opKind
	key   []byte
	end   []byte
	value []byte
}

// batch is an ordered list of writes applied as one unit.
type batch struct {
	ops []batchOp
}

func (b *batch) set(key, value []byte) {
	b.ops = append(b.ops, batchOp{kind: opSet, key: key, value: value})
}

func (b *batch) delete(key []byte) {
	b.ops = append(b.ops, batchOp{kind: opDelete, key: key})
}

func (b *batch) deleteRange(start, end []byte) {
	b.ops = append(b.ops, batchOp{kind: opDeleteRange, key: start, end: end})
}

// kvStore implements Store over any backend.
type kvStore struct {
	db     backend
	closed bool
}

var _ Store = (*kvStore)(nil)

// ContractInfo implements Reader.
func (s *kvStore) ContractInfo(addr types.Address) (*types.ContractInfo, error) {
	v, err := s.get(contractKey(addr))
	if err != nil || v == nil {
		return nil, err
	}
	info, err := types.UnmarshalContractInfo(v)
	if err != nil {
		return nil, fmt.Errorf("storage: contract %s: %w", addr, err)
	}
	return info, nil
}

// Storage implements Reader.
func (s *kvStore) Storage(trie types.TrieID, key []byte) ([]byte, error) {
	return s.get(storageKey(trie, key))
}

// Nonce implements Reader.
func (s *kvStore) Nonce(addr types.Address) (uint64, error) {
	v, err := s.get(nonceKey(addr))
	if err != nil || v == nil {
		return 0, err
	}
	return decodeNonce(v)
}

// Apply implements State. Killed tries are removed first, then records,
// storage entries, nonces and balances are written, all in one batch.
func (s *kvStore) Apply(cs *ChangeSet) error {
	if s.closed {
		return ErrClosed
	}
	if cs.Empty() {
		return nil
	}
	b := &batch{}
	for _, trie := range cs.KilledTries {
		start, end := triePrefix(trie)
		b.deleteRange(start, end)
	}
	for _, c := range cs.Contracts {
		if c.Info == nil {
			b.delete(contractKey(c.Address))
			continue
		}
		b.set(contractKey(c.Address), c.Info.Marshal())
	}
	for _, e := range cs.Storage {
		if e.Value == nil {
			b.delete(storageKey(e.Trie, e.Key))
			continue
		}
		b.set(storageKey(e.Trie, e.Key), e.Value)
	}
	for _, n := range cs.Nonces {
		b.set(nonceKey(n.Address), encodeNonce(n.Nonce))
	}
	for _, c := range cs.Balances {
		setBalance(b, c.Address, c.Balance)
	}
	if err := s.db.commit(b); err != nil {
		return fmt.Errorf("storage: apply change set: %w", err)
	}
	return nil
}

// PutCode stores a code blob under its hash.
func (s *kvStore) PutCode(hash types.Hash, code []byte) error {
	return s.put(codeKey(hash), compressBlob(code))
}

// Code returns the code blob for hash, or nil.
func (s *kvStore) Code(hash types.Hash) ([]byte, error) {
	v, err := s.get(codeKey(hash))
	if err != nil || v == nil {
		return nil, err
	}
	return decompressBlob(v)
}

// PutArtifact stores a compiled artifact for the code identified by hash.
func (s *kvStore) PutArtifact(hash types.Hash, artifact []byte) error {
	return s.put(artifactKey(hash), compressBlob(artifact))
}

// Artifact returns the compiled artifact for hash, or nil.
func (s *kvStore) Artifact(hash types.Hash) ([]byte, error) {
	v, err := s.get(artifactKey(hash))
	if err != nil || v == nil {
		return nil, err
	}
	return decompressBlob(v)
}

// Balance returns the free balance of addr. Unknown accounts hold zero.
func (s *kvStore) Balance(addr types.Address) (*uint256.Int, error) {
	v, err := s.get(balanceKey(addr))
	if err != nil {
		return nil, err
	}
	return types.DecodeBalance(v)
}

// SetBalance overwrites the balance of addr. Zero balances are deleted.
func (s *kvStore) SetBalance(addr types.Address, v *uint256.Int) error {
	if s.closed {
		return ErrClosed
	}
	b := &batch{}
	setBalance(b, addr, v)
	return s.db.commit(b)
}

func setBalance(b *batch, addr types.Address, v *uint256.Int) {
	if v == nil || v.IsZero() {
		b.delete(balanceKey(addr))
		return
	}
	b.set(balanceKey(addr), types.EncodeBalance(v))
}

// Meta returns a node-local metadata value, or nil.
func (s *kvStore) Meta(name string) ([]byte, error) {
	return s.get(metaKey(name))
}

// SetMeta stores a node-local metadata value.
func (s *kvStore) SetMeta(name string, v []byte) error {
	return s.put(metaKey(name), v)
}

// Digest implements Store.
func (s *kvStore) Digest() (types.Hash, error) {
	if s.closed {
		return types.ZeroHash, ErrClosed
	}
	d := newDigester()
	err := s.db.iterate(func(key, value []byte) {
		if inDigest(key) {
			d.add(key, value)
		}
	})
	if err != nil {
		return types.ZeroHash, fmt.Errorf("storage: digest: %w", err)
	}
	return d.sum(), nil
}

// Close releases the backend. Later calls return ErrClosed.
func (s *kvStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.close()
}

func (s *kvStore) get(key []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	v, err := s.db.get(key)
	if err != nil {
		return nil, fmt.Errorf("storage: get: %w", err)
	}
	return v, nil
}

func (s *kvStore) put(key, value []byte) error {
	if s.closed {
		return ErrClosed
	}
	b := &batch{}
	b.set(key, value)
	return s.db.commit(b)
}
