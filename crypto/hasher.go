package crypto

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"lukechampine.com/blake3"
)

// Supported digest names. The wallet binds every commitment, Merkle node and
// operation hash to a single configured digest.
const (
	HashKeccak256 = "keccak256"
	HashSHA256    = "sha256"
	HashBlake3    = "blake3"
)

// DefaultHash is used when configuration leaves the digest unset.
const DefaultHash = HashKeccak256

// Hasher produces 32-byte digests over the concatenation of its inputs.
type Hasher interface {
	Name() string
	Hash(parts ...[]byte) common.Hash
}

// NewHasher resolves a digest by name. Names are case-insensitive.
func NewHasher(name string) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", HashKeccak256:
		return Keccak256(), nil
	case HashSHA256:
		return SHA256(), nil
	case HashBlake3:
		return Blake3(), nil
	default:
		return nil, fmt.Errorf("crypto: unsupported hash %q", name)
	}
}

// MustHasher is NewHasher for static names; it panics on unknown input.
func MustHasher(name string) Hasher {
	h, err := NewHasher(name)
	if err != nil {
		panic(err)
	}
	return h
}

// Keccak256 returns the legacy Ethereum keccak digest.
func Keccak256() Hasher { return keccakHasher{} }

// SHA256 returns the FIPS SHA-256 digest.
func SHA256() Hasher { return sha256Hasher{} }

// Blake3 returns a 256-bit BLAKE3 digest.
func Blake3() Hasher { return blake3Hasher{} }

type keccakHasher struct{}

func (keccakHasher) Name() string { return HashKeccak256 }

func (keccakHasher) Hash(parts ...[]byte) common.Hash {
	return ethcrypto.Keccak256Hash(parts...)
}

type sha256Hasher struct{}

func (sha256Hasher) Name() string { return HashSHA256 }

func (sha256Hasher) Hash(parts ...[]byte) common.Hash {
	h := sha256.New()
	for _, part := range parts {
		h.Write(part)
	}
	return common.BytesToHash(h.Sum(nil))
}

type blake3Hasher struct{}

func (blake3Hasher) Name() string { return HashBlake3 }

func (blake3Hasher) Hash(parts ...[]byte) common.Hash {
	h := blake3.New(32, nil)
	for _, part := range parts {
		h.Write(part)
	}
	return common.BytesToHash(h.Sum(nil))
}
