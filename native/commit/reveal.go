package commit

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"otpwallet/crypto"
	"otpwallet/native/otp"
)

var (
	ErrHashMismatch = errors.New("commit: reveal does not match commitment")
	ErrTooEarly     = errors.New("commit: reveal before minimum delay")
	ErrExpired      = errors.New("commit: reveal window expired")
	ErrStaleSlot    = fmt.Errorf("%w: otp slot does not match commit time", otp.ErrBadProof)
)

// Params bound the reveal timing.
type Params struct {
	MinDelay      int64  // seconds between commit and earliest reveal
	MaxWindow     int64  // seconds after commit at which the reveal expires
	SlotTolerance uint32 // slots an OTP may drift from the commit's slot
}

// Validator binds reveals to their commitments.
type Validator struct {
	auth   *otp.Authenticator
	params Params
}

// NewValidator creates a validator delegating proof checks to auth.
func NewValidator(auth *otp.Authenticator, params Params) *Validator {
	return &Validator{auth: auth, params: params}
}

// Params returns the timing configuration.
func (v *Validator) Params() Params { return v.params }

func (v *Validator) hasher() crypto.Hasher { return v.auth.Hasher() }

// CommitHash is the value a client commits: H(H(operation) || eotp).
func (v *Validator) CommitHash(opHash, eotp common.Hash) common.Hash {
	return v.hasher().Hash(opHash[:], eotp[:])
}

// Cutoff is the oldest commit timestamp still revealable at now.
func (v *Validator) Cutoff(now int64) int64 {
	return now - v.params.MaxWindow
}

// Validate checks a reveal against the commitment stored under commitHash.
// The store is not mutated.
func (v *Validator) Validate(store *Store, commitHash, opHash common.Hash, proof otp.Proof, core otp.Core, now int64) error {
	entry, ok := store.Get(commitHash)
	if !ok {
		return ErrCommitNotFound
	}
	if entry.Completed {
		return ErrAlreadyCompleted
	}
	if v.CommitHash(opHash, proof.EOTP) != commitHash {
		return ErrHashMismatch
	}
	if now < entry.Timestamp+v.params.MinDelay {
		return ErrTooEarly
	}
	if now > entry.Timestamp+v.params.MaxWindow {
		return ErrExpired
	}
	if err := v.auth.Check(proof, core, now); err != nil {
		return err
	}
	return v.checkSlot(proof, core, entry.Timestamp)
}

// checkSlot ties the OTP to the time it was committed, so a leaf observed in
// one reveal cannot be recommitted much later.
func (v *Validator) checkSlot(proof otp.Proof, core otp.Core, committedAt int64) error {
	commitSlot, ok := core.SlotAt(committedAt)
	if !ok {
		return ErrStaleSlot
	}
	leafSlot := core.SlotOf(proof.LeafIndex)
	tolerance := uint64(v.params.SlotTolerance)
	if leafSlot+tolerance < commitSlot || commitSlot+tolerance < leafSlot {
		return ErrStaleSlot
	}
	return nil
}
