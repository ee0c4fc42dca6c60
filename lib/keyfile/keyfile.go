// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

// Package keyfile manages the module archive encryption key at rest.
//
// A key file carries two things: an age x25519 identity and the
// 32-byte archive key sealed to that identity's recipient. The archive
// key never touches disk in plaintext; `icepack keygen` creates the
// file and the freeze pipeline unseals the key into mmap-backed memory
// (lib/secret) for the duration of the build.
//
// File layout (text, one item per line):
//
//	# icepack archive key file
//	# recipient: age1...
//	AGE-SECRET-KEY-1...
//	sealed:BASE64-AGE-CIPHERTEXT
//
// Comment lines are ignored on load, so the header is free-form.
package keyfile

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/icepack-project/icepack/lib/secret"
)

// KeySize is the size in bytes of the archive encryption key.
const KeySize = 32

// sealedPrefix marks the line holding the base64 age ciphertext of
// the archive key.
const sealedPrefix = "sealed:"

// File is a loaded (or freshly generated) archive key file. Both
// secret fields are mmap-backed; call Close when the build is done.
type File struct {
	// Recipient is the age public key the archive key is sealed to.
	// Safe to log.
	Recipient string

	// Identity is the age secret key in AGE-SECRET-KEY-1 format.
	Identity *secret.Buffer

	// Key is the unsealed 32-byte archive encryption key.
	Key *secret.Buffer
}

// Close releases both secret buffers. Idempotent.
func (f *File) Close() error {
	var firstError error
	if f.Identity != nil {
		if err := f.Identity.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	if f.Key != nil {
		if err := f.Key.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}

// Generate creates a new age identity and a random archive key. The
// result is in memory only; call Write to persist it.
func Generate() (*File, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age identity: %w", err)
	}

	// Move the identity string into mmap-backed memory immediately.
	// The heap string age returns will be garbage collected; the
	// buffer is the durable copy.
	identityBuffer, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting age identity: %w", err)
	}

	keyBytes := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, keyBytes); err != nil {
		identityBuffer.Close()
		return nil, fmt.Errorf("generating archive key: %w", err)
	}
	keyBuffer, err := secret.NewFromBytes(keyBytes)
	if err != nil {
		identityBuffer.Close()
		return nil, fmt.Errorf("protecting archive key: %w", err)
	}

	return &File{
		Recipient: identity.Recipient().String(),
		Identity:  identityBuffer,
		Key:       keyBuffer,
	}, nil
}

// Write seals the archive key to the file's recipient and writes the
// key file with mode 0600. The parent directory must exist.
func (f *File) Write(path string) error {
	recipient, err := age.ParseX25519Recipient(f.Recipient)
	if err != nil {
		return fmt.Errorf("parsing recipient %q: %w", f.Recipient, err)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(f.Key.Bytes()); err != nil {
		return fmt.Errorf("sealing archive key: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing seal: %w", err)
	}

	var content strings.Builder
	content.WriteString("# icepack archive key file\n")
	content.WriteString("# recipient: " + f.Recipient + "\n")
	content.WriteString(f.Identity.String() + "\n")
	content.WriteString(sealedPrefix + base64.StdEncoding.EncodeToString(ciphertext.Bytes()) + "\n")

	if err := os.WriteFile(path, []byte(content.String()), 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

// Load reads a key file and unseals the archive key. A path of "-"
// reads the key file from stdin. The returned File must be closed by
// the caller.
func Load(path string) (*File, error) {
	raw, err := secret.ReadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	defer raw.Close()

	var identityLine, sealedLine string
	for _, line := range strings.Split(raw.String(), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "AGE-SECRET-KEY-"):
			identityLine = line
		case strings.HasPrefix(line, sealedPrefix):
			sealedLine = strings.TrimPrefix(line, sealedPrefix)
		}
	}
	if identityLine == "" {
		return nil, fmt.Errorf("%s: no age identity line", path)
	}
	if sealedLine == "" {
		return nil, fmt.Errorf("%s: no sealed archive key line", path)
	}

	identity, err := age.ParseX25519Identity(identityLine)
	if err != nil {
		return nil, fmt.Errorf("%s: parsing identity: %w", path, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(sealedLine)
	if err != nil {
		return nil, fmt.Errorf("%s: decoding sealed key: %w", path, err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("%s: unsealing archive key: %w", path, err)
	}
	keyBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%s: reading unsealed key: %w", path, err)
	}
	if len(keyBytes) != KeySize {
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("%s: archive key is %d bytes, want %d", path, len(keyBytes), KeySize)
	}

	identityBuffer, err := secret.NewFromBytes([]byte(identityLine))
	if err != nil {
		secret.Zero(keyBytes)
		return nil, fmt.Errorf("protecting identity: %w", err)
	}
	keyBuffer, err := secret.NewFromBytes(keyBytes)
	if err != nil {
		identityBuffer.Close()
		return nil, fmt.Errorf("protecting archive key: %w", err)
	}

	return &File{
		Recipient: identity.Recipient().String(),
		Identity:  identityBuffer,
		Key:       keyBuffer,
	}, nil
}
