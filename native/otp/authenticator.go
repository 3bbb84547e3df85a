package otp

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"otpwallet/crypto"
)

var (
	// ErrBadProof is the umbrella reason for every proof rejection below.
	ErrBadProof = errors.New("otp: bad proof")

	ErrIndexOutOfRange = fmt.Errorf("%w: leaf index out of range", ErrBadProof)
	ErrProofLength     = fmt.Errorf("%w: neighbor count does not match tree height", ErrBadProof)
	ErrRootMismatch    = fmt.Errorf("%w: root mismatch", ErrBadProof)
	ErrSlotOutOfWindow = fmt.Errorf("%w: slot outside root validity window", ErrBadProof)
	ErrSlotInFuture    = fmt.Errorf("%w: slot has not started", ErrBadProof)
)

// Proof authenticates one leaf of the OTP tree.
type Proof struct {
	LeafIndex uint32
	Neighbors []common.Hash
	EOTP      common.Hash
}

// Clone returns a copy that does not share the neighbor slice.
func (p Proof) Clone() Proof {
	p.Neighbors = append([]common.Hash(nil), p.Neighbors...)
	return p
}

// Convention selects which side the running hash takes when the current
// index is even.
type Convention uint8

const (
	// EvenLeft hashes (current, neighbor) on even indices.
	EvenLeft Convention = iota
	// EvenRight hashes (neighbor, current) on even indices.
	EvenRight
)

// Authenticator verifies Merkle proofs against a Core. It is stateless and
// safe for concurrent use.
type Authenticator struct {
	hasher     crypto.Hasher
	convention Convention
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithConvention overrides the neighbor parity convention.
func WithConvention(c Convention) Option {
	return func(a *Authenticator) { a.convention = c }
}

// NewAuthenticator binds the authenticator to a digest. A nil hasher falls
// back to keccak256.
func NewAuthenticator(h crypto.Hasher, opts ...Option) *Authenticator {
	if h == nil {
		h = crypto.Keccak256()
	}
	a := &Authenticator{hasher: h, convention: EvenLeft}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Hasher exposes the configured digest.
func (a *Authenticator) Hasher() crypto.Hasher { return a.hasher }

// Leaf derives the tree leaf committed for an EOTP.
func (a *Authenticator) Leaf(eotp common.Hash) common.Hash {
	return a.hasher.Hash(eotp[:])
}

// Combine folds one level of the path.
func (a *Authenticator) Combine(index uint64, current, neighbor common.Hash) common.Hash {
	even := index%2 == 0
	if a.convention == EvenRight {
		even = !even
	}
	if even {
		return a.hasher.Hash(current[:], neighbor[:])
	}
	return a.hasher.Hash(neighbor[:], current[:])
}

// ComputeRoot recomputes the root implied by the proof.
func (a *Authenticator) ComputeRoot(p Proof) common.Hash {
	current := a.Leaf(p.EOTP)
	index := uint64(p.LeafIndex)
	for _, neighbor := range p.Neighbors {
		current = a.Combine(index, current, neighbor)
		index /= 2
	}
	return current
}

// Check returns nil iff the proof authenticates a leaf of core whose slot has
// started by now and lies within the root's validity window.
func (a *Authenticator) Check(p Proof, core Core, now int64) error {
	if core.IsZero() || core.Height > MaxHeight {
		return ErrRootMismatch
	}
	if uint64(p.LeafIndex) >= core.Leaves() {
		return ErrIndexOutOfRange
	}
	if len(p.Neighbors) != int(core.Height) {
		return ErrProofLength
	}
	if a.ComputeRoot(p) != core.Root {
		return ErrRootMismatch
	}
	start, ok := core.SlotStart(core.SlotOf(p.LeafIndex))
	if !ok {
		return ErrSlotOutOfWindow
	}
	if start > now {
		return ErrSlotInFuture
	}
	return nil
}

// Verify is the boolean form of Check.
func (a *Authenticator) Verify(p Proof, core Core, now int64) bool {
	return a.Check(p, core, now) == nil
}
