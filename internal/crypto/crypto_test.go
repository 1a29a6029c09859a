package crypto_test

import (
	"testing"

	"github.com/echenim/Bedrock/contracts/internal/crypto"
	"github.com/echenim/Bedrock/contracts/internal/types"
)

func TestCodeHashDeterministic(t *testing.T) {
	code := []byte("\x00asm\x01\x00\x00\x00")
	if crypto.CodeHash(code) != crypto.CodeHash(code) {
		t.Fatal("code hash should be deterministic")
	}
	if crypto.CodeHash(code) == crypto.CodeHash(code[:4]) {
		t.Fatal("different code should hash differently")
	}
}

func TestContractAddressDependsOnNonce(t *testing.T) {
	deployer := types.Address{1}
	hash := types.Hash{2}

	a0 := crypto.ContractAddress(deployer, hash, 0)
	a1 := crypto.ContractAddress(deployer, hash, 1)
	if a0 == a1 {
		t.Fatal("addresses for different nonces must differ")
	}
	if a0 != crypto.ContractAddress(deployer, hash, 0) {
		t.Fatal("address derivation not deterministic")
	}
	if a0 == crypto.ContractAddress(types.Address{3}, hash, 0) {
		t.Fatal("address should depend on deployer")
	}
}

func TestTrieIDDistinctFromAddress(t *testing.T) {
	addr := crypto.ContractAddress(types.Address{1}, types.Hash{2}, 0)
	trie := crypto.TrieIDFor(addr, 0)
	if types.Hash(trie) == types.Hash(addr) {
		t.Fatal("trie id must not collide with address")
	}
	if trie == crypto.TrieIDFor(addr, 1) {
		t.Fatal("trie id should depend on nonce")
	}
}
