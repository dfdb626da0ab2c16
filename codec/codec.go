// Package codec implements the binary/textual encoding used for chunk
// payloads on the wire, and the fixed chunk size the transfer engine
// reads and writes at.
package codec

import (
	"encoding/base64"
	"strings"
)

// BlockSize is the maximum number of plaintext bytes carried in a
// single chunk. It is chosen so the base64-expanded payload plus the
// surrounding JSON envelope fits comfortably inside a typical small
// RPC frame.
const BlockSize = 450

// Encode returns data as base64 text, without line breaks.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode returns the bytes represented by the given base64 text. It
// rejects any text containing characters outside the standard base64
// alphabet.
func Decode(text string) ([]byte, error) {
	// StdEncoding silently skips line breaks, so reject them here.
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		return nil, base64.CorruptInputError(i)
	}
	return base64.StdEncoding.DecodeString(text)
}
