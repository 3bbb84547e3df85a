package commit_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"otpwallet/crypto"
	"otpwallet/native/commit"
	"otpwallet/native/otp"
	"otpwallet/native/otp/otptest"
)

const (
	effective = int64(1_700_000_000)
	interval  = int64(30)
)

type fixture struct {
	validator *commit.Validator
	store     *commit.Store
	tree      *otptest.Tree
	core      otp.Core
	opHash    common.Hash
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	h := crypto.Keccak256()
	auth := otp.NewAuthenticator(h)
	tree := otptest.New(h, 4, "reveal")
	return &fixture{
		validator: commit.NewValidator(auth, commit.Params{MinDelay: 2, MaxWindow: 60, SlotTolerance: 1}),
		store:     commit.NewStore(0),
		tree:      tree,
		core:      tree.Core(effective, interval, 1),
		opHash:    h.Hash([]byte("operation")),
	}
}

// commitLeaf commits leaf i at the start of its own slot.
func (f *fixture) commitLeaf(t *testing.T, i uint32) (common.Hash, int64) {
	t.Helper()
	at := effective + int64(i)*interval
	hash := f.validator.CommitHash(f.opHash, f.tree.EOTP(i))
	require.NoError(t, f.store.Commit(hash, at, 0))
	return hash, at
}

func TestValidateAcceptsBoundReveal(t *testing.T) {
	f := newFixture(t)
	hash, at := f.commitLeaf(t, 3)
	require.NoError(t, f.validator.Validate(f.store, hash, f.opHash, f.tree.Proof(3), f.core, at+5))
	entry, ok := f.store.Get(hash)
	require.True(t, ok)
	require.False(t, entry.Completed, "validation must not mutate the store")
}

func TestValidateRejections(t *testing.T) {
	f := newFixture(t)
	hash, at := f.commitLeaf(t, 3)
	proof := f.tree.Proof(3)

	err := f.validator.Validate(f.store, common.Hash{0x99}, f.opHash, proof, f.core, at+5)
	require.ErrorIs(t, err, commit.ErrCommitNotFound)

	otherOp := crypto.Keccak256().Hash([]byte("operation!"))
	err = f.validator.Validate(f.store, hash, otherOp, proof, f.core, at+5)
	require.ErrorIs(t, err, commit.ErrHashMismatch)

	err = f.validator.Validate(f.store, hash, f.opHash, proof, f.core, at+1)
	require.ErrorIs(t, err, commit.ErrTooEarly)

	err = f.validator.Validate(f.store, hash, f.opHash, proof, f.core, at+61)
	require.ErrorIs(t, err, commit.ErrExpired)

	wrongCore := f.core
	wrongCore.Root = common.Hash{0x01}
	err = f.validator.Validate(f.store, hash, f.opHash, proof, wrongCore, at+5)
	require.ErrorIs(t, err, otp.ErrBadProof)

	require.NoError(t, f.store.Complete(hash))
	err = f.validator.Validate(f.store, hash, f.opHash, proof, f.core, at+5)
	require.ErrorIs(t, err, commit.ErrAlreadyCompleted)
}

func TestValidateRejectsStaleSlot(t *testing.T) {
	f := newFixture(t)
	// Leaf 2 committed five slots after its own time.
	at := effective + 7*interval
	hash := f.validator.CommitHash(f.opHash, f.tree.EOTP(2))
	require.NoError(t, f.store.Commit(hash, at, 0))

	err := f.validator.Validate(f.store, hash, f.opHash, f.tree.Proof(2), f.core, at+5)
	require.True(t, errors.Is(err, commit.ErrStaleSlot))
	require.ErrorIs(t, err, otp.ErrBadProof)
}

func TestValidateAllowsToleratedDrift(t *testing.T) {
	f := newFixture(t)
	// Leaf 4 committed late in slot 5: within a tolerance of one slot.
	at := effective + 5*interval + 20
	hash := f.validator.CommitHash(f.opHash, f.tree.EOTP(4))
	require.NoError(t, f.store.Commit(hash, at, 0))
	require.NoError(t, f.validator.Validate(f.store, hash, f.opHash, f.tree.Proof(4), f.core, at+3))
}
