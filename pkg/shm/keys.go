package shm

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"
)

const (
	// DefaultKeyLength is the length of generated segment key strings.
	DefaultKeyLength = 10

	// DefaultProject is the project identifier mixed into every key.
	DefaultProject = 'N'
)

const keyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// KeySource produces the strings from which segment IPC keys are derived.
type KeySource interface {
	NextKey() (string, error)
}

// RandomKeys returns a KeySource producing alphanumeric strings of the given
// length from crypto/rand.
func RandomKeys(length int) KeySource {
	return randomKeys{length: length}
}

type randomKeys struct {
	length int
}

func (r randomKeys) NextKey() (string, error) {
	if r.length <= 0 {
		return "", fmt.Errorf("invalid key length %d", r.length)
	}
	// 248 is the largest multiple of 62 that fits in a byte; rejecting
	// bytes above it keeps the distribution uniform.
	const limit = 248
	out := make([]byte, 0, r.length)
	buf := make([]byte, r.length*2)
	for len(out) < r.length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, keyAlphabet[int(b)%len(keyAlphabet)])
			if len(out) == r.length {
				break
			}
		}
	}
	return string(out), nil
}

// FixedKeys hands out a predetermined sequence of keys, then fails.
type FixedKeys struct {
	mu   sync.Mutex
	keys []string
	next int
}

func NewFixedKeys(keys ...string) *FixedKeys {
	return &FixedKeys{keys: keys}
}

func (f *FixedKeys) NextKey() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.next >= len(f.keys) {
		return "", fmt.Errorf("fixed key source exhausted after %d keys", len(f.keys))
	}
	k := f.keys[f.next]
	f.next++
	return k, nil
}

// DeriveKey maps a key string and project byte onto a SysV IPC key. The
// result is never IPC_PRIVATE (0).
func DeriveKey(key string, project byte) int {
	buf := make([]byte, 0, len(key)+1)
	buf = append(buf, key...)
	buf = append(buf, project)
	sum := blake3.Sum256(buf)
	k := int32(binary.LittleEndian.Uint32(sum[:4]))
	if k == 0 {
		k = 1
	}
	return int(k)
}
