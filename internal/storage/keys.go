package storage

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/echenim/Bedrock/contracts/internal/types"
	"github.com/golang/snappy"
	"golang.org/x/crypto/blake2b"
)

// Key prefixes. Every entry lives in one keyspace behind a one-byte prefix.
const (
	prefixContract byte = 'i'
	prefixStorage  byte = 's'
	prefixNonce    byte = 'n'
	prefixCode     byte = 'c'
	prefixArtifact byte = 'a'
	prefixBalance  byte = 'b'
	prefixMeta     byte = 'm'
)

func contractKey(addr types.Address) []byte {
	return append([]byte{prefixContract}, addr[:]...)
}

func storageKey(trie types.TrieID, key []byte) []byte {
	k := make([]byte, 0, 1+len(trie)+len(key))
	k = append(k, prefixStorage)
	k = append(k, trie[:]...)
	return append(k, key...)
}

// triePrefix returns the [start, end) bounds covering every key of trie.
func triePrefix(trie types.TrieID) (start, end []byte) {
	start = append([]byte{prefixStorage}, trie[:]...)
	return start, prefixEnd(start)
}

func nonceKey(addr types.Address) []byte {
	return append([]byte{prefixNonce}, addr[:]...)
}

func codeKey(hash types.Hash) []byte {
	return append([]byte{prefixCode}, hash[:]...)
}

func artifactKey(hash types.Hash) []byte {
	return append([]byte{prefixArtifact}, hash[:]...)
}

func balanceKey(addr types.Address) []byte {
	return append([]byte{prefixBalance}, addr[:]...)
}

func metaKey(name string) []byte {
	return append([]byte{prefixMeta}, name...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// inDigest reports whether a key contributes to the state digest. Artifacts
// are engine-specific and metadata is node-local.
func inDigest(key []byte) bool {
	return len(key) > 0 && key[0] != prefixArtifact && key[0] != prefixMeta
}

// digester accumulates length-prefixed key/value pairs in key order.
type digester struct {
	buf [8]byte
	h   hash.Hash
}

func newDigester() *digester {
	h, _ := blake2b.New256(nil)
	return &digester{h: h}
}

func (d *digester) add(key, value []byte) {
	binary.BigEndian.PutUint64(d.buf[:], uint64(len(key)))
	d.h.Write(d.buf[:])
	d.h.Write(key)
	binary.BigEndian.PutUint64(d.buf[:], uint64(len(value)))
	d.h.Write(d.buf[:])
	d.h.Write(value)
}

func (d *digester) sum() types.Hash {
	var out types.Hash
	copy(out[:], d.h.Sum(nil))
	return out
}

func encodeNonce(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func decodeNonce(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("storage: malformed nonce of %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Blobs (code and artifacts) are stored snappy-compressed.
func compressBlob(b []byte) []byte {
	return snappy.Encode(nil, b)
}

func decompressBlob(b []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress blob: %w", err)
	}
	return out, nil
}
