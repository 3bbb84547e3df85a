package wallet_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"otpwallet/crypto"
	"otpwallet/native/otp/otptest"
	"otpwallet/native/tokens"
	"otpwallet/native/wallet"
	"otpwallet/state/bank"
)

const (
	// Day aligned so spending windows start at slot 0.
	testEffective = int64(1_700_006_400)
	testInterval  = int64(3600)
	testHeight    = uint8(10)
	testSlotSize  = uint32(8)
)

var (
	walletAddr   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	recoveryAddr = common.HexToAddress("0x000000000000000000000000000000000000b0b0")
	payee        = common.HexToAddress("0x000000000000000000000000000000000000ca01")
	tokenA       = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	tokenB       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	tokenC       = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	engine  *wallet.Engine
	ledger  *bank.Ledger
	tree    *otptest.Tree
	standby *otptest.Tree
	now     int64
}

type harnessOption func(*wallet.Params, *wallet.CreateParams)

func withLimit(limit uint64) harnessOption {
	return func(_ *wallet.Params, cp *wallet.CreateParams) { cp.SpendingLimit = uint256.NewInt(limit) }
}

func withParams(fn func(*wallet.Params)) harnessOption {
	return func(p *wallet.Params, _ *wallet.CreateParams) { fn(p) }
}

func withoutRecovery() harnessOption {
	return func(_ *wallet.Params, cp *wallet.CreateParams) { cp.RecoveryAddress = common.Address{} }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	hasher := crypto.Keccak256()
	tree := otptest.New(hasher, testHeight, "active")
	standby := otptest.New(hasher, testHeight, "standby")

	params := wallet.DefaultParams()
	params.Reveal.MinDelay = 1
	params.Reveal.MaxWindow = 60
	create := wallet.CreateParams{
		Address:         walletAddr,
		Core:            tree.Core(testEffective, testInterval, testSlotSize),
		Standby:         standby.Core(testEffective, testInterval, testSlotSize),
		SpendingLimit:   uint256.NewInt(1_000_000),
		RecoveryAddress: recoveryAddr,
	}
	for _, opt := range opts {
		opt(&params, &create)
	}

	ledger := bank.NewLedger()
	engine := wallet.NewEngine(ledger, hasher, params)
	engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		engine:  engine,
		ledger:  ledger,
		tree:    tree,
		standby: standby,
		now:     testEffective,
	}
	engine.SetNowFunc(func() int64 { return h.now })
	require.NoError(t, engine.Create(h.ctx, create))
	return h
}

// setSlot moves the clock to the start of slot n of the active schedule.
func (h *harness) setSlot(n int64) {
	h.now = testEffective + n*testInterval
}

// leaf is the next unused leaf of the active core at the current time.
func (h *harness) leaf() uint32 {
	h.t.Helper()
	w, err := h.engine.Wallet(walletAddr)
	require.NoError(h.t, err)
	leaf, ok := w.NextLeaf(h.now)
	require.True(h.t, ok, "no unused leaf left in the current slot")
	return leaf
}

func (h *harness) nonce() uint64 {
	n, err := h.engine.Nonce(walletAddr)
	require.NoError(h.t, err)
	return n
}

// prepareWith commits op with a proof from tree and advances the clock past
// the minimum delay.
func (h *harness) prepareWith(tree *otptest.Tree, op wallet.Operation) wallet.RevealRequest {
	h.t.Helper()
	proof := tree.Proof(h.leaf())
	hash, err := h.engine.CommitHash(op, proof.EOTP)
	require.NoError(h.t, err)
	require.NoError(h.t, h.engine.Commit(h.ctx, walletAddr, hash))
	h.now += 2
	return wallet.RevealRequest{Operation: op, Proof: proof}
}

// prepare binds op to the current nonce and commits it.
func (h *harness) prepare(op wallet.Operation) wallet.RevealRequest {
	h.t.Helper()
	op.Nonce = h.nonce()
	return h.prepareWith(h.tree, op)
}

func (h *harness) reveal(req wallet.RevealRequest) error {
	return h.engine.Reveal(h.ctx, walletAddr, req)
}

// apply commits and reveals op.
func (h *harness) apply(op wallet.Operation) error {
	h.t.Helper()
	return h.reveal(h.prepare(op))
}

func (h *harness) mustApply(op wallet.Operation) {
	h.t.Helper()
	require.NoError(h.t, h.apply(op))
}

func (h *harness) native(addr common.Address) uint64 {
	return h.ledger.NativeBalance(addr).Uint64()
}

func (h *harness) tokenBalance(key tokens.Key, owner common.Address) uint64 {
	bal, err := h.ledger.TokenBalance(key, owner)
	require.NoError(h.t, err)
	return bal.Uint64()
}

func amount(v uint64) uint256.Int { return *uint256.NewInt(v) }

func transfer(to common.Address, v uint64) wallet.Operation {
	return wallet.Operation{Kind: wallet.OpTransfer, Dest: to, Amount: amount(v)}
}

func noop() wallet.Operation { return wallet.Operation{Kind: wallet.OpNoop} }

func otptestTree(t *testing.T, seed string) *otptest.Tree {
	t.Helper()
	return otptest.New(crypto.Keccak256(), testHeight, seed)
}
