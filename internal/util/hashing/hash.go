package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// ComputeSHA256 reads from r and returns the hex-encoded SHA256 hash and bytes read.
func ComputeSHA256(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, fmt.Errorf("computing hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Writer wraps a writer and computes SHA256 as data passes through.
type Writer struct {
	w io.Writer
	h hash.Hash
}

// NewWriter creates a hashing Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: w,
		h: sha256.New(),
	}
}

func (hw *Writer) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	if n > 0 {
		hw.h.Write(p[:n])
	}
	return n, err
}

// Sum returns the lower-case hex digest of everything written so far.
func (hw *Writer) Sum() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}
