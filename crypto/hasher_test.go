package crypto

import (
	"encoding/hex"
	"testing"
)

func TestNewHasherResolvesNames(t *testing.T) {
	cases := map[string]string{
		"":          HashKeccak256,
		"KECCAK256": HashKeccak256,
		"sha256":    HashSHA256,
		" blake3 ":  HashBlake3,
	}
	for input, want := range cases {
		h, err := NewHasher(input)
		if err != nil {
			t.Fatalf("NewHasher(%q): %v", input, err)
		}
		if h.Name() != want {
			t.Fatalf("NewHasher(%q) = %s, want %s", input, h.Name(), want)
		}
	}
	if _, err := NewHasher("md5"); err == nil {
		t.Fatalf("expected error for unsupported hash")
	}
}

func TestKnownVectors(t *testing.T) {
	// keccak256("") and sha256("") are fixed reference values.
	keccakEmpty := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if got := hex.EncodeToString(Keccak256().Hash().Bytes()); got != keccakEmpty {
		t.Fatalf("keccak256 empty = %s", got)
	}
	shaEmpty := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := hex.EncodeToString(SHA256().Hash().Bytes()); got != shaEmpty {
		t.Fatalf("sha256 empty = %s", got)
	}
}

func TestHashConcatenatesParts(t *testing.T) {
	for _, h := range []Hasher{Keccak256(), SHA256(), Blake3()} {
		joined := h.Hash([]byte("ab"), []byte("cd"))
		whole := h.Hash([]byte("abcd"))
		if joined != whole {
			t.Fatalf("%s: multi-part digest differs from concatenated digest", h.Name())
		}
		if h.Hash([]byte("abcd")) == h.Hash([]byte("abce")) {
			t.Fatalf("%s: distinct inputs collided", h.Name())
		}
	}
}
