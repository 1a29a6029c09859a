package storage

import (
	"testing"

	"github.com/echenim/Bedrock/contracts/internal/config"
	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

// backends runs fn against every store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s := NewMemStore()
		defer s.Close()
		fn(t, s)
	})
	t.Run("pebble", func(t *testing.T) {
		s, err := OpenPebble(t.TempDir())
		require.NoError(t, err)
		defer s.Close()
		fn(t, s)
	})
}

func sampleInfo(seed byte) *types.ContractInfo {
	return &types.ContractInfo{
		CodeHash:      types.Hash{seed},
		TrieID:        types.TrieID{seed, seed},
		RentAllowance: uint256.NewInt(uint64(seed) * 100),
	}
}

func TestAbsentEntriesAreNil(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		info, err := s.ContractInfo(types.Address{1})
		require.NoError(t, err)
		require.Nil(t, info)

		v, err := s.Storage(types.TrieID{1}, []byte("k"))
		require.NoError(t, err)
		require.Nil(t, v)

		n, err := s.Nonce(types.Address{1})
		require.NoError(t, err)
		require.Zero(t, n)

		bal, err := s.Balance(types.Address{1})
		require.NoError(t, err)
		require.True(t, bal.IsZero())
	})
}

func TestApplyChangeSet(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		addr := types.Address{7}
		info := sampleInfo(7)
		cs := &ChangeSet{
			Contracts: []ContractChange{{Address: addr, Info: info}},
			Storage: []StorageChange{
				{Trie: info.TrieID, Key: []byte("a"), Value: []byte("1")},
				{Trie: info.TrieID, Key: []byte("empty"), Value: []byte{}},
			},
			Nonces: []NonceChange{{Address: addr, Nonce: 3}},
		}
		require.NoError(t, s.Apply(cs))

		got, err := s.ContractInfo(addr)
		require.NoError(t, err)
		require.Equal(t, info.CodeHash, got.CodeHash)

		v, err := s.Storage(info.TrieID, []byte("a"))
		require.NoError(t, err)
		require.Equal(t, []byte("1"), v)

		// An empty stored value is distinct from an absent one.
		v, err = s.Storage(info.TrieID, []byte("empty"))
		require.NoError(t, err)
		require.NotNil(t, v)
		require.Len(t, v, 0)

		n, err := s.Nonce(addr)
		require.NoError(t, err)
		require.Equal(t, uint64(3), n)
	})
}

func TestApplyChangeSetBalances(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		a, b := types.Address{1}, types.Address{2}
		require.NoError(t, s.SetBalance(b, uint256.NewInt(9)))

		require.NoError(t, s.Apply(&ChangeSet{Balances: []BalanceChange{
			{Address: a, Balance: uint256.NewInt(40)},
			{Address: b, Balance: new(uint256.Int)},
		}}))

		bal, err := s.Balance(a)
		require.NoError(t, err)
		require.Equal(t, uint64(40), bal.Uint64())

		// A zeroed balance is deleted, so the account reads as fresh.
		bal, err = s.Balance(b)
		require.NoError(t, err)
		require.True(t, bal.IsZero())
		require.False(t, (&ChangeSet{Balances: []BalanceChange{{Address: a}}}).Empty())
	})
}

func TestKilledTrieRemovesOnlyThatTrie(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		a, b := types.TrieID{1}, types.TrieID{2}
		require.NoError(t, s.Apply(&ChangeSet{Storage: []StorageChange{
			{Trie: a, Key: []byte("x"), Value: []byte("1")},
			{Trie: a, Key: []byte("y"), Value: []byte("2")},
			{Trie: b, Key: []byte("x"), Value: []byte("3")},
		}}))

		// Kill a and repopulate one key in the same set.
		require.NoError(t, s.Apply(&ChangeSet{
			KilledTries: []types.TrieID{a},
			Storage:     []StorageChange{{Trie: a, Key: []byte("z"), Value: []byte("4")}},
		}))

		v, _ := s.Storage(a, []byte("x"))
		require.Nil(t, v)
		v, _ = s.Storage(a, []byte("z"))
		require.Equal(t, []byte("4"), v)
		v, _ = s.Storage(b, []byte("x"))
		require.Equal(t, []byte("3"), v)
	})
}

func TestCodeAndArtifactCompressed(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		h := types.Hash{9}
		code := make([]byte, 4096)
		require.NoError(t, s.PutCode(h, code))
		require.NoError(t, s.PutArtifact(h, []byte("artifact")))

		got, err := s.Code(h)
		require.NoError(t, err)
		require.Equal(t, code, got)

		art, err := s.Artifact(h)
		require.NoError(t, err)
		require.Equal(t, []byte("artifact"), art)

		missing, err := s.Code(types.Hash{10})
		require.NoError(t, err)
		require.Nil(t, missing)
	})
}

func TestDigestMatchesAcrossBackends(t *testing.T) {
	fill := func(s Store) {
		info := sampleInfo(3)
		require.NoError(t, s.Apply(&ChangeSet{
			Contracts: []ContractChange{{Address: types.Address{3}, Info: info}},
			Storage:   []StorageChange{{Trie: info.TrieID, Key: []byte("k"), Value: []byte("v")}},
		}))
		require.NoError(t, s.SetBalance(types.Address{4}, uint256.NewInt(55)))
		require.NoError(t, s.PutCode(types.Hash{3}, []byte("code")))
	}

	mem := NewMemStore()
	defer mem.Close()
	peb, err := OpenPebble(t.TempDir())
	require.NoError(t, err)
	defer peb.Close()

	fill(mem)
	fill(peb)

	// Artifacts and metadata are excluded from the digest.
	require.NoError(t, peb.PutArtifact(types.Hash{3}, []byte("native")))
	require.NoError(t, peb.SetMeta("genesis", []byte{1}))

	d1, err := mem.Digest()
	require.NoError(t, err)
	d2, err := peb.Digest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	require.NoError(t, mem.SetBalance(types.Address{4}, uint256.NewInt(56)))
	d3, err := mem.Digest()
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)
}

func TestZeroBalanceDeletesEntry(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		before, err := s.Digest()
		require.NoError(t, err)
		require.NoError(t, s.SetBalance(types.Address{1}, uint256.NewInt(10)))
		require.NoError(t, s.SetBalance(types.Address{1}, new(uint256.Int)))
		after, err := s.Digest()
		require.NoError(t, err)
		require.Equal(t, before, after)
	})
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.Close())
	_, err := s.Storage(types.TrieID{}, []byte("k"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, s.Apply(&ChangeSet{Nonces: []NonceChange{{Nonce: 1}}}), ErrClosed)
}

func TestOpenStoreSelectsBackend(t *testing.T) {
	s, err := OpenStore(config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenStore(config.StorageConfig{Backend: "pebble", DBPath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenStore(config.StorageConfig{Backend: "leveldb"})
	require.Error(t, err)
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte{'s', 2}, prefixEnd([]byte{'s', 1}))
	require.Equal(t, []byte{'t'}, prefixEnd([]byte{'s', 0xff}))
	require.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
