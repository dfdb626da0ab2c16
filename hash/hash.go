// Package hash computes the canonical version identifier for a
// scratch file: a streaming SHA-1 digest rendered as 40 lowercase hex
// digits. It follows the same bounded-buffer streaming idiom as
// util.HashWriter, but is built directly on an io.Reader since the
// transfer engine only ever needs the final digest, not a pass-through
// writer.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"log"
	"os"
)

// maxReliableSize is the historical 2^32 byte limit of the reference
// SHA-1 implementation this protocol's ids were first produced with.
// Files larger than this still hash correctly; we only warn.
const maxReliableSize = 1 << 32

// bufSize bounds the size of a single read from disk while hashing.
const bufSize = 64 * 1024

// File computes the SHA-1 digest of the file at path and renders it as
// 40 lowercase hex digits, the canonical version id.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if fi, err := f.Stat(); err == nil && fi.Size() > maxReliableSize {
		log.Printf("hash: %s is larger than 2^32 bytes, digest may not be portable", path)
	}

	return Reader(f)
}

// Reader computes the SHA-1 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := sha1.New()
	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
