package shm

import (
	"strings"
	"testing"
)

func TestRandomKeys(t *testing.T) {
	keys := RandomKeys(DefaultKeyLength)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k, err := keys.NextKey()
		if err != nil {
			t.Fatalf("NextKey: %v", err)
		}
		if len(k) != DefaultKeyLength {
			t.Fatalf("expected key of length %d, got %q", DefaultKeyLength, k)
		}
		for _, c := range k {
			if !strings.ContainsRune(keyAlphabet, c) {
				t.Fatalf("key %q contains non-alphanumeric %q", k, c)
			}
		}
		seen[k] = true
	}
	// 62^10 possibilities; any repeat in 100 draws means the source is broken.
	if len(seen) != 100 {
		t.Errorf("expected 100 distinct keys, got %d", len(seen))
	}
}

func TestFixedKeysExhaust(t *testing.T) {
	keys := NewFixedKeys("one")
	if k, err := keys.NextKey(); err != nil || k != "one" {
		t.Fatalf("NextKey = %q, %v", k, err)
	}
	if _, err := keys.NextKey(); err == nil {
		t.Fatalf("expected exhausted key source to fail")
	}
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("AAAAAAAAAA", 'N')
	if a != DeriveKey("AAAAAAAAAA", 'N') {
		t.Errorf("DeriveKey is not deterministic")
	}
	if a == 0 {
		t.Errorf("DeriveKey returned IPC_PRIVATE")
	}
	if a == DeriveKey("AAAAAAAAAA", 'M') {
		t.Errorf("project byte does not affect the key")
	}
	if a == DeriveKey("AAAAAAAAAB", 'N') {
		t.Errorf("key string does not affect the key")
	}
}
