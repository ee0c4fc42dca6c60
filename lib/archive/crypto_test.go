// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"testing"

	"github.com/icepack-project/icepack/lib/secret"
)

func testKey(t *testing.T, fill byte) *secret.Buffer {
	t.Helper()
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{fill}, KeySize))
	if err != nil {
		t.Fatalf("creating key buffer: %v", err)
	}
	t.Cleanup(func() { key.Close() })
	return key
}

func TestEncryptDecryptEntry(t *testing.T) {
	key := testKey(t, 0x42)
	payload := []byte("compressed module payload bytes")

	encrypted, err := EncryptEntry(key, "pkg.main", payload)
	if err != nil {
		t.Fatalf("EncryptEntry: %v", err)
	}
	if len(encrypted) != len(payload)+EncryptedOverhead {
		t.Errorf("encrypted length = %d, want %d", len(encrypted), len(payload)+EncryptedOverhead)
	}

	decrypted, err := DecryptEntry(key, "pkg.main", encrypted)
	if err != nil {
		t.Fatalf("DecryptEntry: %v", err)
	}
	if !bytes.Equal(decrypted, payload) {
		t.Error("roundtrip mismatch")
	}
}

func TestEncryptEntryDeterministic(t *testing.T) {
	key := testKey(t, 0x42)
	payload := []byte("compressed module payload bytes")

	first, err := EncryptEntry(key, "pkg.main", payload)
	if err != nil {
		t.Fatal(err)
	}
	second, err := EncryptEntry(key, "pkg.main", payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical key, name, and payload produced different ciphertext")
	}

	// A different name must produce different ciphertext even for the
	// same payload (per-entry key and nonce both depend on the name).
	other, err := EncryptEntry(key, "pkg.other", payload)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(first[1+24:], other[1+24:]) {
		t.Error("ciphertext does not depend on the entry name")
	}
}

func TestDecryptEntryRejectsWrongName(t *testing.T) {
	key := testKey(t, 0x42)

	encrypted, err := EncryptEntry(key, "pkg.main", []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := DecryptEntry(key, "pkg.other", encrypted); err == nil {
		t.Fatal("decryption under a different entry name succeeded")
	}
}

func TestDecryptEntryRejectsTampering(t *testing.T) {
	key := testKey(t, 0x42)

	encrypted, err := EncryptEntry(key, "pkg.main", []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}

	tampered := append([]byte{}, encrypted...)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := DecryptEntry(key, "pkg.main", tampered); err == nil {
		t.Fatal("tampered ciphertext passed authentication")
	}

	// Tampering with the version byte must also fail (it is AAD).
	versionFlipped := append([]byte{}, encrypted...)
	versionFlipped[0] = 0x02
	if _, err := DecryptEntry(key, "pkg.main", versionFlipped); err == nil {
		t.Fatal("flipped version byte passed authentication")
	}
}

func TestDecryptEntryRejectsShortInput(t *testing.T) {
	key := testKey(t, 0x42)
	if _, err := DecryptEntry(key, "pkg.main", []byte{0x01, 0x02}); err == nil {
		t.Fatal("short input accepted")
	}
}
