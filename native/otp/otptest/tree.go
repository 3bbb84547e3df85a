// Package otptest builds OTP trees the way a wallet client would, so tests can
// produce roots and proofs without the real client.
package otptest

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"otpwallet/crypto"
	"otpwallet/native/otp"
)

// Tree is a fully materialised OTP Merkle tree.
type Tree struct {
	auth   *otp.Authenticator
	eotps  []common.Hash
	levels [][]common.Hash
}

// New builds a tree of 2^height leaves whose EOTPs derive from seed.
func New(h crypto.Hasher, height uint8, seed string) *Tree {
	return NewWithAuthenticator(otp.NewAuthenticator(h), height, seed)
}

// NewWithAuthenticator builds the tree with the authenticator's hash and
// parity convention.
func NewWithAuthenticator(auth *otp.Authenticator, height uint8, seed string) *Tree {
	n := 1 << height
	eotps := make([]common.Hash, n)
	leaves := make([]common.Hash, n)
	var idx [4]byte
	for i := 0; i < n; i++ {
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		eotps[i] = auth.Hasher().Hash([]byte(seed), idx[:])
		leaves[i] = auth.Leaf(eotps[i])
	}
	levels := [][]common.Hash{leaves}
	for len(levels[len(levels)-1]) > 1 {
		prev := levels[len(levels)-1]
		next := make([]common.Hash, len(prev)/2)
		for j := range next {
			next[j] = auth.Combine(uint64(2*j), prev[2*j], prev[2*j+1])
		}
		levels = append(levels, next)
	}
	return &Tree{auth: auth, eotps: eotps, levels: levels}
}

// Root is the commitment published at wallet creation.
func (t *Tree) Root() common.Hash {
	return t.levels[len(t.levels)-1][0]
}

// Height is the number of proof levels.
func (t *Tree) Height() uint8 {
	return uint8(len(t.levels) - 1)
}

// EOTP returns the effective OTP of leaf i.
func (t *Tree) EOTP(i uint32) common.Hash {
	return t.eotps[i]
}

// Proof returns the authentication path for leaf i.
func (t *Tree) Proof(i uint32) otp.Proof {
	neighbors := make([]common.Hash, 0, len(t.levels)-1)
	index := int(i)
	for level := 0; level < len(t.levels)-1; level++ {
		neighbors = append(neighbors, t.levels[level][index^1])
		index /= 2
	}
	return otp.Proof{LeafIndex: i, Neighbors: neighbors, EOTP: t.eotps[i]}
}

// Core wraps the tree root in a schedule.
func (t *Tree) Core(effective, interval int64, slotSize uint32) otp.Core {
	slots := int64(len(t.eotps)) / int64(slotSize)
	return otp.Core{
		Root:          t.Root(),
		Height:        t.Height(),
		Interval:      interval,
		EffectiveTime: effective,
		Duration:      slots * interval,
		SlotSize:      slotSize,
	}
}
