// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 digest. Entry payload digests and the
// values derived from them (encryption nonces) are this size.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures that the same input bytes produce different
// digests in different contexts. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, which keeps
// the keys inspectable in hex dumps without sacrificing any
// cryptographic property.
type domainKey [32]byte

var (
	entryDomainKey = domainKey{
		'i', 'c', 'e', 'p', 'a', 'c', 'k', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
		'e', 'n', 't', 'r', 'y', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	nonceDomainKey = domainKey{
		'i', 'c', 'e', 'p', 'a', 'c', 'k', '.', 'a', 'r', 'c', 'h', 'i', 'v', 'e', '.',
		'n', 'o', 'n', 'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// HashEntry computes the entry-domain BLAKE3 keyed digest of an
// uncompressed payload. Entry digests feed nonce derivation for
// encrypted archives, so they are always computed on plaintext bytes.
func HashEntry(data []byte) Digest {
	return keyedHash(entryDomainKey, data)
}

// FormatDigest returns the hex-encoded string representation of a
// digest. This is the canonical format used in logs and CLI output.
func FormatDigest(digest Digest) string {
	return hex.EncodeToString(digest[:])
}

// ParseDigest parses a 64-character hex string into a Digest.
func ParseDigest(hexString string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return digest, fmt.Errorf("parsing digest: %w", err)
	}
	if len(decoded) != 32 {
		return digest, fmt.Errorf("digest is %d bytes, want 32", len(decoded))
	}
	copy(digest[:], decoded)
	return digest, nil
}

// keyedHash computes a BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Digest {
	// NewKeyed requires exactly 32 bytes, which domainKey guarantees.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}
