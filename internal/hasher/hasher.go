// Package hasher provides the content digests used for cache keys and
// cache-busted output filenames.
//
// Digests are SHA-256 hex strings truncated to a configured length. The
// Hasher type adds a metadata memo keyed by path, modification time and size
// so that unchanged files are not re-read on every build tick.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
)

const (
	// DefaultLength matches the truncation used for cache-busted filenames.
	DefaultLength = 10
	// MaxLength is the length of a full hex SHA-256 digest.
	MaxLength = sha256.Size * 2
)

// Digest is a truncated hex content hash.
type Digest string

// String returns the digest as a plain string.
func (d Digest) String() string { return string(d) }

// Sum hashes data and truncates the hex digest to length characters.
// Out-of-range lengths fall back to DefaultLength or MaxLength.
func Sum(data []byte, length int) Digest {
	sum := sha256.Sum256(data)
	full := hex.EncodeToString(sum[:])

	return Digest(full[:clamp(length)])
}

func clamp(length int) int {
	if length <= 0 {
		return DefaultLength
	}
	if length > MaxLength {
		return MaxLength
	}
	return length
}

// HashedName inserts the digest before the final extension:
// "css/main.css" becomes "css/main.<digest>.css".
func HashedName(name string, d Digest) string {
	dir, base := path.Split(name)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	return dir + stem + "." + string(d) + ext
}

type memoEntry struct {
	metadataKey string
	digest      Digest
}

// Hasher computes digests of a fixed length and memoises file digests.
type Hasher struct {
	length int
	memo   map[string]memoEntry
	mu     sync.RWMutex
}

// New creates a hasher producing digests of the given length.
func New(length int) *Hasher {
	return &Hasher{
		length: clamp(length),
		memo:   make(map[string]memoEntry),
	}
}

// Length returns the digest length in characters.
func (h *Hasher) Length() int {
	return h.length
}

// Sum hashes data with the configured length.
func (h *Hasher) Sum(data []byte) Digest {
	return Sum(data, h.length)
}

// File hashes the contents of the file at path. A stat call is made first and
// the previous digest is reused when modification time and size are unchanged.
func (h *Hasher) File(filePath string) (Digest, error) {
	stat, err := os.Stat(filePath)
	if err != nil {
		return "", err
	}

	metadataKey := fmt.Sprintf("%d:%d", stat.ModTime().UnixNano(), stat.Size())

	h.mu.RLock()
	entry, found := h.memo[filePath]
	h.mu.RUnlock()

	if found && entry.metadataKey == metadataKey {
		return entry.digest, nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}

	digest := h.Sum(content)

	h.mu.Lock()
	h.memo[filePath] = memoEntry{metadataKey: metadataKey, digest: digest}
	h.mu.Unlock()

	return digest, nil
}

// Forget drops the memoised digest for path.
func (h *Hasher) Forget(filePath string) {
	h.mu.Lock()
	delete(h.memo, filePath)
	h.mu.Unlock()
}
