// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/icepack-project/icepack/lib/secret"
)

// KeySize is the size in bytes of the archive encryption key.
const KeySize = 32

// encryptedEntryVersion is the version byte prepended to every
// encrypted entry payload. It is included as additional authenticated
// data, so tampering with the version byte causes authentication
// failure.
const encryptedEntryVersion byte = 0x01

// EncryptedOverhead is the total byte overhead per encrypted entry:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const EncryptedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoEntry is the HKDF info prefix for per-entry key derivation.
// The entry name is appended, so every entry in an archive is
// encrypted under its own key. Changing this string invalidates every
// encrypted archive already shipped.
var hkdfInfoEntry = []byte("icepack.mar.entry.v1:")

// EncryptEntry encrypts a compressed entry payload for storage in an
// encrypted module archive:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The per-entry key is derived from the archive key via HKDF-SHA256
// with the entry name in the info parameter. The nonce is derived
// deterministically from the entry name and the digest of the payload
// (nonce-domain BLAKE3, truncated to 24 bytes), so two builds from
// identical inputs produce byte-identical archives. Determinism is
// safe here: a nonce repeats only when key, name, and payload are all
// identical, in which case the ciphertext is identical too.
//
// The archiveKey is borrowed (read via .Bytes()) and is NOT closed.
func EncryptEntry(archiveKey *secret.Buffer, name string, payload []byte) ([]byte, error) {
	entryKey, err := deriveEntryKey(archiveKey, name)
	if err != nil {
		return nil, err
	}
	defer entryKey.Close()

	aead, err := chacha20poly1305.NewX(entryKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := deriveNonce(name, payload)
	aad := buildEntryAAD(encryptedEntryVersion, name)

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(payload)+aead.Overhead())
	output[0] = encryptedEntryVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], payload, aad), nil
}

// DecryptEntry reverses EncryptEntry. It verifies the version byte,
// extracts the nonce, and authenticates the ciphertext against the
// entry name. A wrong key, a tampered payload, or an entry stored
// under a different name all fail authentication.
//
// The archiveKey is borrowed and NOT closed.
func DecryptEntry(archiveKey *secret.Buffer, name string, encrypted []byte) ([]byte, error) {
	if len(encrypted) < EncryptedOverhead {
		return nil, fmt.Errorf("encrypted entry %q is %d bytes, minimum is %d (version + nonce + tag)",
			name, len(encrypted), EncryptedOverhead)
	}

	version := encrypted[0]
	if version != encryptedEntryVersion {
		return nil, fmt.Errorf("encrypted entry %q version %d is not supported (expected %d)",
			name, version, encryptedEntryVersion)
	}

	entryKey, err := deriveEntryKey(archiveKey, name)
	if err != nil {
		return nil, err
	}
	defer entryKey.Close()

	aead, err := chacha20poly1305.NewX(entryKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := encrypted[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := encrypted[1+chacha20poly1305.NonceSizeX:]
	aad := buildEntryAAD(version, name)

	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("entry %q: AEAD decryption failed (wrong key or tampered data): %w", name, err)
	}
	return plaintext, nil
}

// deriveEntryKey derives the per-entry encryption key from the archive
// key via HKDF-SHA256. The salt is nil: the archive key is already
// uniformly random (generated by lib/keyfile), so the extract phase
// with a zero key is appropriate per RFC 5869.
func deriveEntryKey(archiveKey *secret.Buffer, name string) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoEntry)+len(name))
	info = append(info, hkdfInfoEntry...)
	info = append(info, name...)

	reader := hkdf.New(sha256.New, archiveKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("HKDF key derivation for entry %q failed: %w", name, err)
	}
	// NewFromBytes copies into mmap and zeros the heap slice.
	return secret.NewFromBytes(derived)
}

// deriveNonce computes the deterministic 24-byte nonce for an entry:
// nonce-domain BLAKE3 keyed hash over name || payload, truncated.
func deriveNonce(name string, payload []byte) [chacha20poly1305.NonceSizeX]byte {
	hasher, err := blake3.NewKeyed(nonceDomainKey[:])
	if err != nil {
		panic("archive: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(name))
	hasher.Write([]byte{0})
	hasher.Write(payload)

	var nonce [chacha20poly1305.NonceSizeX]byte
	copy(nonce[:], hasher.Sum(nil))
	return nonce
}

// buildEntryAAD constructs the additional authenticated data: the
// version byte followed by the entry name. Binding the name prevents
// swapping encrypted payloads between entries of the same archive.
func buildEntryAAD(version byte, name string) []byte {
	aad := make([]byte, 0, 1+len(name))
	aad = append(aad, version)
	aad = append(aad, name...)
	return aad
}
