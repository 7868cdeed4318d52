// Package checksum computes the SHA-256 digests recorded for archive objects. Every storage
// backend reports the same hex form so the retention job can compare what it sent with what
// the backend stored.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// SHA256Bytes returns the hex SHA-256 of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Writer forwards writes to an underlying writer while hashing them.
type Writer struct {
	w io.Writer
	h hash.Hash
	n int64
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, h: sha256.New()}
}

func (cw *Writer) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.h.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

// Sum returns the hex SHA-256 of everything written so far.
func (cw *Writer) Sum() string {
	return hex.EncodeToString(cw.h.Sum(nil))
}

// Written returns the number of bytes written so far.
func (cw *Writer) Written() int64 {
	return cw.n
}
