package rpc

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"otpwallet/crypto"
	"otpwallet/native/otp/otptest"
	"otpwallet/native/tokens"
	"otpwallet/native/wallet"
	"otpwallet/observability/eventlog"
	"otpwallet/state/bank"
)

const (
	testEffective = int64(1_700_006_400)
	testInterval  = int64(3600)
	testSlotSize  = uint32(4)
)

var (
	walletAddr   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	recoveryKey  = mustKey("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	strangerKey  = mustKey("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	recoveryAddr = ethcrypto.PubkeyToAddress(recoveryKey.PublicKey)
	payee        = common.HexToAddress("0x000000000000000000000000000000000000ca01")
)

func mustKey(hex string) *ecdsa.PrivateKey {
	key, err := ethcrypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return key
}

type fixture struct {
	t       *testing.T
	engine  *wallet.Engine
	ledger  *bank.Ledger
	tree    *otptest.Tree
	handler http.Handler
	journal *eventlog.Journal
	now     int64
}

func newFixture(t *testing.T, rps float64, burst int) *fixture {
	t.Helper()
	hasher := crypto.Keccak256()
	ledger := bank.NewLedger()
	engine := wallet.NewEngine(ledger, hasher, wallet.DefaultParams())
	engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))

	journal, err := eventlog.Open("file:" + filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	engine.SetEmitter(journal)

	f := &fixture{
		t:       t,
		engine:  engine,
		ledger:  ledger,
		tree:    otptest.New(hasher, 6, "rpc"),
		journal: journal,
		now:     testEffective,
	}
	engine.SetNowFunc(func() int64 { return f.now })
	f.handler = New(Config{
		Engine:            engine,
		Events:            journal,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequestsPerSecond: rps,
		Burst:             burst,
	}).Handler()
	return f
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) create() {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/v1/wallets", CreateWalletRequest{
		Address: walletAddr,
		Core: CoreRequest{
			Root:          f.tree.Root(),
			Height:        f.tree.Height(),
			Interval:      testInterval,
			EffectiveTime: testEffective,
			SlotSize:      testSlotSize,
		},
		SpendingLimit:   "1000",
		RecoveryAddress: recoveryAddr,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) walletPath(suffix string) string {
	return "/v1/wallets/" + walletAddr.Hex() + suffix
}

// commitOp commits body with the next unused leaf and returns the matching
// reveal body.
func (f *fixture) commitOp(body OperationRequest) RevealRequest {
	f.t.Helper()
	w, err := f.engine.Wallet(walletAddr)
	require.NoError(f.t, err)
	leaf, ok := w.NextLeaf(f.now)
	require.True(f.t, ok, "no unused leaf left in the current slot")
	proof := f.tree.Proof(leaf)
	op, err := body.operation()
	require.NoError(f.t, err)
	hash, err := f.engine.CommitHash(op, proof.EOTP)
	require.NoError(f.t, err)

	rec := f.do(http.MethodPost, f.walletPath("/commits"), CommitRequest{Hash: hash})
	require.Equal(f.t, http.StatusAccepted, rec.Code, rec.Body.String())
	f.now += 2
	return RevealRequest{
		Operation: body,
		Proof:     ProofRequest{LeafIndex: proof.LeafIndex, Neighbors: proof.Neighbors, EOTP: proof.EOTP},
	}
}

// commitTransfer commits a transfer to payee at nonce.
func (f *fixture) commitTransfer(amount uint64, nonce uint64) RevealRequest {
	f.t.Helper()
	return f.commitOp(OperationRequest{Kind: "TRANSFER", Dest: payee, Amount: uint256.NewInt(amount).Dec(), Nonce: nonce})
}

func (f *fixture) signRecoverSelected(key *ecdsa.PrivateKey, expiry int64, raw ...TokenKeyJSON) RecoverSelectedRequest {
	f.t.Helper()
	keys := make([]tokens.Key, 0, len(raw))
	for _, r := range raw {
		k, err := r.key()
		require.NoError(f.t, err)
		keys = append(keys, k)
	}
	digest, err := RecoverSelectedDigest(walletAddr, expiry, keys)
	require.NoError(f.t, err)
	sig, err := ethcrypto.Sign(digest[:], key)
	require.NoError(f.t, err)
	return RecoverSelectedRequest{Tokens: raw, Expiry: expiry, Signature: sig}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCommitRevealOverHTTP(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.create()
	f.ledger.Mint(walletAddr, uint256.NewInt(500))

	reveal := f.commitTransfer(100, 0)
	rec := f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(100), f.ledger.NativeBalance(payee).Uint64())

	// Replaying the reveal is a conflict and moves nothing.
	rec = f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusConflict, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	require.Equal(t, "replay_or_race", errResp.Class)
	require.Equal(t, uint64(100), f.ledger.NativeBalance(payee).Uint64())

	rec = f.do(http.MethodGet, f.walletPath("/nonce"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(1), decode[map[string]uint64](t, rec)["nonce"])

	rec = f.do(http.MethodGet, f.walletPath("/commits"), nil)
	commits := decode[[]CommitJSON](t, rec)
	require.Len(t, commits, 1)
	require.True(t, commits[0].Completed)

	rec = f.do(http.MethodGet, f.walletPath("/spending"), nil)
	spent := decode[SpendingJSON](t, rec)
	require.Equal(t, "100", spent.SpentAmount)
	require.Equal(t, "900", spent.Remaining)

	rec = f.do(http.MethodGet, f.walletPath("/balance"), nil)
	require.Equal(t, "400", decode[map[string]string](t, rec)["balance"])

	rec = f.do(http.MethodGet, f.walletPath("/last-operation-time"), nil)
	require.Equal(t, testEffective+2, decode[map[string]int64](t, rec)["lastOperationTime"])

	rec = f.do(http.MethodGet, f.walletPath("/events?type=wallet.operation_applied"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	evts := decode[[]EventJSON](t, rec)
	require.Len(t, evts, 1)
	require.Equal(t, "TRANSFER", evts[0].Attributes["kind"])
}

func TestRevealErrorStatuses(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.create()

	// No funds: dispatch precondition failure.
	reveal := f.commitTransfer(10, 0)
	rec := f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Spending limit.
	f.ledger.Mint(walletAddr, uint256.NewInt(5000))
	reveal = f.commitTransfer(1001, 0)
	rec = f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "limit_exceeded", decode[ErrorResponse](t, rec).Class)

	// Revealed too late.
	reveal = f.commitTransfer(1, 0)
	f.now += 120
	rec = f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusTooEarly, rec.Code)

	// Unknown kind and malformed bodies are client errors.
	reveal.Operation.Kind = "SELFDESTRUCT"
	rec = f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	req := httptest.NewRequest(http.MethodPost, f.walletPath("/commits"), bytes.NewBufferString(`{"hash":"0x01","extra":1}`))
	resp := httptest.NewRecorder()
	f.handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusBadRequest, resp.Code)

	rec = f.do(http.MethodGet, "/v1/wallets/"+payee.Hex()+"/nonce", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodGet, "/v1/wallets/not-an-address/nonce", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecoverSelectedRequiresRecoverySignature(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.create()
	contract := common.HexToAddress("0x00000000000000000000000000000000000000b0")
	token := TokenKeyJSON{Type: "ERC721", Contract: contract, TokenID: "7"}
	key := tokens.NewKey(tokens.ERC721, contract, uint256.NewInt(7))
	expiry := f.now + 600

	// Tokens the wallet does not hold are not tracked.
	rec := f.do(http.MethodPost, f.walletPath("/inbound/token"), token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[map[string]bool](t, rec)["tracked"])

	rec = f.do(http.MethodPost, f.walletPath("/recover-selected"), f.signRecoverSelected(recoveryKey, expiry, token))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, "wallet is still active")

	reveal := f.commitOp(OperationRequest{Kind: "RECOVER", Nonce: 0})
	rec = f.do(http.MethodPost, f.walletPath("/reveals"), reveal)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	f.ledger.MintToken(key, walletAddr, uint256.NewInt(1))
	rec = f.do(http.MethodPost, f.walletPath("/inbound/token"), token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[map[string]bool](t, rec)["tracked"])
	rec = f.do(http.MethodGet, f.walletPath("/tokens"), nil)
	require.Equal(t, []TokenKeyJSON{token}, decode[[]TokenKeyJSON](t, rec))

	// Anyone other than the recovery address is refused.
	rec = f.do(http.MethodPost, f.walletPath("/recover-selected"), f.signRecoverSelected(strangerKey, expiry, token))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "auth_failure", decode[ErrorResponse](t, rec).Class)

	// A signature does not carry over to a different token list.
	other := TokenKeyJSON{Type: "ERC721", Contract: contract, TokenID: "8"}
	tampered := f.signRecoverSelected(recoveryKey, expiry, other)
	tampered.Tokens = []TokenKeyJSON{token}
	rec = f.do(http.MethodPost, f.walletPath("/recover-selected"), tampered)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, f.walletPath("/recover-selected"), f.signRecoverSelected(recoveryKey, f.now-1, token))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	short := f.signRecoverSelected(recoveryKey, expiry, token)
	short.Signature = short.Signature[:64]
	rec = f.do(http.MethodPost, f.walletPath("/recover-selected"), short)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	bal, err := f.ledger.TokenBalance(key, recoveryAddr)
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	rec = f.do(http.MethodPost, f.walletPath("/recover-selected"), f.signRecoverSelected(recoveryKey, expiry, token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bal, err = f.ledger.TokenBalance(key, recoveryAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), bal.Uint64())
}

func TestInboundNativeIsNotRouted(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.create()
	f.ledger.Mint(walletAddr, uint256.NewInt(1000))
	rec := f.do(http.MethodPost, f.walletPath("/inbound/native"), map[string]string{"from": payee.Hex(), "amount": "1000"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, uint64(1000), f.ledger.NativeBalance(walletAddr).Uint64())
}

func TestCreateRejectsDuplicate(t *testing.T) {
	f := newFixture(t, 0, 0)
	f.create()
	rec := f.do(http.MethodPost, "/v1/wallets", CreateWalletRequest{
		Address:         walletAddr,
		Core:            CoreRequest{Root: f.tree.Root(), Height: 6, Interval: testInterval, EffectiveTime: testEffective},
		RecoveryAddress: recoveryAddr,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodGet, f.walletPath(""), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[map[string]any](t, rec)
	require.Equal(t, false, summary["disabled"])
	require.Equal(t, float64(0), summary["nextLeaf"])
}

func TestRateLimitedCommits(t *testing.T) {
	f := newFixture(t, 0.001, 2)
	f.create()
	hash := common.Hash{0x01}
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		hash[1] = byte(i)
		codes = append(codes, f.do(http.MethodPost, f.walletPath("/commits"), CommitRequest{Hash: hash}).Code)
	}
	// Creation consumed one token from the same bucket.
	require.Equal(t, []int{http.StatusAccepted, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, 0, 0)
	rec := f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "otpwallet_api_requests_total")
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Unix(testEffective, 0)
	rl.clockNow = func() time.Time { return now }
	require.True(t, rl.Allow("a"))
	require.False(t, rl.Allow("a"))
	now = now.Add(visitorTTL + time.Second)
	require.True(t, rl.Allow("b"))
	require.Len(t, rl.visitors, 1)
	require.True(t, NewRateLimiter(0, 0).Allow("anyone"))
}

