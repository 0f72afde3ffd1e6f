// Package hashing computes and validates the SHA-256 content digests used as
// deduplication keys and integrity fingerprints.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// DigestLength is the hex length of a SHA-256 digest.
const DigestLength = sha256.Size * 2

// Sum streams reader through SHA-256 and returns the lowercase hex digest.
func Sum(reader io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// SumBytes hashes an in-memory buffer.
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Normalize lowercases a digest so equal content always yields equal keys.
func Normalize(digest string) string {
	return strings.ToLower(strings.TrimSpace(digest))
}

// Valid reports whether digest is a well-formed hex digest. Clients may
// submit digests from other algorithms, so any even-length hex string up to
// DigestLength is accepted; only the empty string and non-hex input are
// rejected.
func Valid(digest string) bool {
	if digest == "" || len(digest) > DigestLength || len(digest)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}
