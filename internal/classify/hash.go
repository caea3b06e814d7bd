package classify

import (
	"crypto/md5"
	"crypto/sha512"
	"encoding/hex"
)

// HashFinding fingerprints a matched value for deduplication at the
// control plane. Not used for secrecy; the value itself never leaves the
// agent unmasked.
func HashFinding(value string) string {
	sum := sha512.Sum384([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashChunkBody versions a chunk's content so re-discovery can detect
// mutation. Non-cryptographic use.
func HashChunkBody(body string) string {
	sum := md5.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}
