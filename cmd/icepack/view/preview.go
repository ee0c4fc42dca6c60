// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package view

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/icepack-project/icepack/lib/codeobj"
)

// previewLimit caps how much of a payload the preview renders. Large
// payloads are truncated with a trailing note; the viewer is a browser,
// not a pager.
const previewLimit = 64 * 1024

// hexDumpLimit caps the hex dump for binary payloads.
const hexDumpLimit = 4 * 1024

// renderPreview produces the preview pane content for one payload.
// Code blobs show their header and a dump of the body; text payloads
// get syntax highlighting; everything else gets a hex dump.
func renderPreview(name string, payload []byte) string {
	if len(payload) == 0 {
		return "(empty payload)"
	}

	if blob, err := codeobj.Decode(payload); err == nil {
		header := fmt.Sprintf("code blob: source %s, flags 0x%02x, body %d bytes\n\n",
			blob.SourcePath, blob.Flags, len(blob.Body))
		if isText(blob.Body) {
			return header + highlight(blob.SourcePath, truncateText(blob.Body))
		}
		return header + hexDump(blob.Body)
	}

	if isText(payload) {
		return highlight(name, truncateText(payload))
	}
	return hexDump(payload)
}

// isText reports whether data looks like renderable text: valid UTF-8
// with no NUL bytes in the sniff window.
func isText(data []byte) bool {
	window := data
	if len(window) > 1024 {
		window = window[:1024]
	}
	if bytes.IndexByte(window, 0) >= 0 {
		return false
	}
	if len(window) == len(data) {
		return utf8.Valid(window)
	}
	// The window may end mid-rune; tolerate a truncated tail.
	for len(window) > 0 && !utf8.Valid(window) {
		window = window[:len(window)-1]
		if len(data)-len(window) > utf8.UTFMax {
			return false
		}
	}
	return len(window) > 0
}

func truncateText(data []byte) string {
	if len(data) <= previewLimit {
		return string(data)
	}
	return string(data[:previewLimit]) + "\n… (truncated)"
}

// highlight renders text with ANSI syntax colors. The lexer is chosen
// by file name first, then by content analysis; unknown content falls
// through to plain text.
func highlight(name, text string) string {
	lexer := lexers.Match(name)
	if lexer == nil {
		lexer = lexers.Analyse(text)
	}
	if lexer == nil {
		return text
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, text)
	if err != nil {
		return text
	}

	formatter := formatters.Get("terminal256")
	style := styles.Get("monokai")
	var output strings.Builder
	if err := formatter.Format(&output, style, iterator); err != nil {
		return text
	}
	return output.String()
}

// hexDump renders a conventional 16-bytes-per-row hex dump.
func hexDump(data []byte) string {
	total := len(data)
	if len(data) > hexDumpLimit {
		data = data[:hexDumpLimit]
	}

	var output strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		row := data[offset:min(offset+16, len(data))]

		fmt.Fprintf(&output, "%08x  ", offset)
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&output, "%02x ", row[i])
			} else {
				output.WriteString("   ")
			}
			if i == 7 {
				output.WriteByte(' ')
			}
		}
		output.WriteString(" |")
		for _, b := range row {
			if b >= 0x20 && b < 0x7f {
				output.WriteByte(b)
			} else {
				output.WriteByte('.')
			}
		}
		output.WriteString("|\n")
	}
	if total > len(data) {
		fmt.Fprintf(&output, "… (%d bytes total)\n", total)
	}
	return output.String()
}
