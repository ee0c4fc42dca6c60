// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Mach-O constants for the post-append fixup. Only 64-bit
// little-endian images are handled; that covers every darwin loader
// this pipeline ships (x86_64 and arm64).
const (
	machoMagic64       = 0xfeedfacf
	machoHeaderSize    = 32
	machoSegment64     = 0x19
	machoCodeSignature = 0x1d
	machoPageSize      = 0x4000
)

// fixupMachO adjusts a darwin loader after the container has been
// appended to it. Two edits keep the output a well-formed, signable
// image:
//
//   - the __LINKEDIT segment's file size (and vm size, page rounded)
//     is extended to the new end of file, so the appended bytes fall
//     inside the linker-visible span instead of dangling past it;
//   - any LC_CODE_SIGNATURE load command is removed, since the
//     signature it points at no longer covers the file.
func fixupMachO(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading executable for Mach-O fixup: %w", err)
	}
	if len(data) < machoHeaderSize {
		return fmt.Errorf("%s: too small to be a Mach-O image", path)
	}
	if binary.LittleEndian.Uint32(data[0:]) != machoMagic64 {
		return fmt.Errorf("%s: not a 64-bit little-endian Mach-O image", path)
	}

	ncmds := binary.LittleEndian.Uint32(data[16:])
	sizeofcmds := binary.LittleEndian.Uint32(data[20:])
	commandsEnd := machoHeaderSize + int(sizeofcmds)
	if commandsEnd > len(data) {
		return fmt.Errorf("%s: load commands extend past end of file", path)
	}

	signatureStart, signatureSize := -1, 0
	offset := machoHeaderSize
	for i := uint32(0); i < ncmds; i++ {
		if offset+8 > commandsEnd {
			return fmt.Errorf("%s: load command %d is truncated", path, i)
		}
		command := binary.LittleEndian.Uint32(data[offset:])
		commandSize := int(binary.LittleEndian.Uint32(data[offset+4:]))
		if commandSize < 8 || offset+commandSize > commandsEnd {
			return fmt.Errorf("%s: load command %d has invalid size %d", path, i, commandSize)
		}

		switch command {
		case machoSegment64:
			if commandSize < 72 {
				return fmt.Errorf("%s: segment command %d is truncated", path, i)
			}
			name := string(trimNUL(data[offset+8 : offset+24]))
			if name == "__LINKEDIT" {
				fileOffset := binary.LittleEndian.Uint64(data[offset+40:])
				if fileOffset > uint64(len(data)) {
					return fmt.Errorf("%s: __LINKEDIT starts past end of file", path)
				}
				newFileSize := uint64(len(data)) - fileOffset
				newVMSize := (newFileSize + machoPageSize - 1) &^ (machoPageSize - 1)
				binary.LittleEndian.PutUint64(data[offset+32:], newVMSize)
				binary.LittleEndian.PutUint64(data[offset+48:], newFileSize)
			}
		case machoCodeSignature:
			signatureStart, signatureSize = offset, commandSize
		}
		offset += commandSize
	}

	if signatureStart >= 0 {
		copy(data[signatureStart:], data[signatureStart+signatureSize:commandsEnd])
		zero(data[commandsEnd-signatureSize : commandsEnd])
		binary.LittleEndian.PutUint32(data[16:], ncmds-1)
		binary.LittleEndian.PutUint32(data[20:], sizeofcmds-uint32(signatureSize))
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat executable for Mach-O fixup: %w", err)
	}
	if err := os.WriteFile(path, data, info.Mode()); err != nil {
		return fmt.Errorf("writing Mach-O fixup: %w", err)
	}
	return nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
