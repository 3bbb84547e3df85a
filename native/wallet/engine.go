package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"otpwallet/core/events"
	"otpwallet/crypto"
	"otpwallet/native/commit"
	nativecommon "otpwallet/native/common"
	"otpwallet/native/otp"
	"otpwallet/native/spending"
	"otpwallet/native/tokens"
	"otpwallet/observability"
)

const tracerName = "otpwallet/native/wallet"

type walletEntry struct {
	mu     sync.Mutex
	wallet *Wallet
}

// Engine owns every wallet and serialises commits and reveals per wallet.
// Dispatch into the shared ledger is additionally serialised across wallets
// so snapshots never interleave.
type Engine struct {
	mu      sync.RWMutex
	wallets map[common.Address]*walletEntry

	execMu sync.Mutex
	ledger Ledger
	store  Store

	params    Params
	hasher    crypto.Hasher
	auth      *otp.Authenticator
	validator *commit.Validator

	emitter events.Emitter
	logger  *slog.Logger
	metrics *observability.WalletMetrics
	tracer  trace.Tracer
	nowFn   func() int64
}

// NewEngine creates an engine over ledger. A nil hasher selects keccak256.
func NewEngine(ledger Ledger, hasher crypto.Hasher, params Params, opts ...otp.Option) *Engine {
	if hasher == nil {
		hasher = crypto.Keccak256()
	}
	auth := otp.NewAuthenticator(hasher, opts...)
	return &Engine{
		wallets:   make(map[common.Address]*walletEntry),
		ledger:    ledger,
		params:    params,
		hasher:    hasher,
		auth:      auth,
		validator: commit.NewValidator(auth, params.Reveal),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default().With("component", "wallet"),
		metrics:   observability.Wallets(),
		tracer:    otel.Tracer(tracerName),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetStore configures persistence. A nil store keeps state in memory only.
func (e *Engine) SetStore(store Store) { e.store = store }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets to a no-op emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("component", "wallet")
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Hasher exposes the configured digest so clients can derive commitments.
func (e *Engine) Hasher() crypto.Hasher { return e.hasher }

// Params returns the engine limits.
func (e *Engine) Params() Params { return e.params }

// CommitHash derives the commitment for op and eotp.
func (e *Engine) CommitHash(op Operation, eotp common.Hash) (common.Hash, error) {
	opHash, err := op.Hash(e.hasher)
	if err != nil {
		return common.Hash{}, err
	}
	return e.validator.CommitHash(opHash, eotp), nil
}

// Now returns the engine clock in unix seconds.
func (e *Engine) Now() int64 { return e.now() }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) entry(addr common.Address) (*walletEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.wallets[addr]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return entry, nil
}

func (e *Engine) persist(w *Wallet) error {
	if e.store == nil {
		return nil
	}
	if err := e.store.PutWallet(w); err != nil {
		return fmt.Errorf("wallet: persist %s: %w", w.Address.Hex(), err)
	}
	return nil
}

func (e *Engine) newWallet(p CreateParams, now int64) (*Wallet, error) {
	if p.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: wallet address required", ErrInvalidOperation)
	}
	if err := p.Core.Validate(); err != nil {
		return nil, err
	}
	if !p.Standby.IsZero() {
		if err := p.Standby.Validate(); err != nil {
			return nil, fmt.Errorf("standby: %w", err)
		}
	}
	if p.RecoveryAddress == p.Address {
		return nil, ErrSelfRecovery
	}
	w := &Wallet{
		Address:         p.Address,
		Active:          p.Core,
		Standby:         p.Standby,
		Spending:        spending.NewState(p.SpendingLimit, p.SpendingInterval),
		RecoveryAddress: p.RecoveryAddress,
		Tokens:          tokens.NewRegistry(e.params.MaxTrackedTokens),
		Commits:         commit.NewStore(e.params.MaxPendingCommits),
		Signatures:      make(map[common.Hash]Signature),
		CreatedAt:       now,
	}
	if err := w.setBacklinks(p.Backlinks, e.params.MaxBacklinks); err != nil {
		return nil, err
	}
	return w, nil
}

// Create registers a new wallet.
func (e *Engine) Create(ctx context.Context, p CreateParams) error {
	w, err := e.newWallet(p, e.now())
	if err != nil {
		return classify(err)
	}
	e.mu.Lock()
	if _, exists := e.wallets[w.Address]; exists {
		e.mu.Unlock()
		return classify(ErrWalletExists)
	}
	if err := e.persist(w); err != nil {
		e.mu.Unlock()
		return err
	}
	e.wallets[w.Address] = &walletEntry{wallet: w}
	count := len(e.wallets)
	e.mu.Unlock()

	e.metrics.SetWallets(count)
	e.emit(events.WalletCreated{Wallet: w.Address, Root: w.Active.Root, Recovery: w.RecoveryAddress})
	e.logger.InfoContext(ctx, "wallet created", "wallet", w.Address.Hex(), "height", w.Active.Height)
	return nil
}

// Restore loads every persisted wallet, replacing in-memory state.
func (e *Engine) Restore() (int, error) {
	if e.store == nil {
		return 0, nil
	}
	loaded, err := e.store.LoadWallets()
	if err != nil {
		return 0, err
	}
	wallets := make(map[common.Address]*walletEntry, len(loaded))
	for _, w := range loaded {
		if w == nil {
			continue
		}
		registry := tokens.NewRegistry(e.params.MaxTrackedTokens)
		if w.Tokens != nil {
			if err := registry.Override(w.Tokens.List()); err != nil {
				return 0, fmt.Errorf("wallet: restore %s: %w", w.Address.Hex(), err)
			}
		}
		w.Tokens = registry
		var commits []commit.Commit
		if w.Commits != nil {
			commits = w.Commits.All()
		}
		w.Commits = commit.Restore(e.params.MaxPendingCommits, commits)
		if w.Signatures == nil {
			w.Signatures = make(map[common.Hash]Signature)
		}
		wallets[w.Address] = &walletEntry{wallet: w}
	}
	e.mu.Lock()
	e.wallets = wallets
	e.mu.Unlock()
	e.metrics.SetWallets(len(wallets))
	return len(wallets), nil
}

// Commit records a commitment for the wallet at addr.
func (e *Engine) Commit(ctx context.Context, addr common.Address, hash common.Hash) (err error) {
	defer func() { e.metrics.RecordCommit(nativecommon.ClassName(err)) }()

	entry, err := e.entry(addr)
	if err != nil {
		return classify(err)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	w := entry.wallet
	if w.Disabled {
		return classify(ErrWalletDisabled)
	}
	now := e.now()
	next := w.Clone()
	if err := next.Commits.Commit(hash, now, e.validator.Cutoff(now)); err != nil {
		return classify(err)
	}
	if err := e.persist(next); err != nil {
		return err
	}
	entry.wallet = next
	e.emit(events.CommitRecorded{Wallet: addr, Hash: hash, Timestamp: now})
	e.logger.DebugContext(ctx, "commit recorded", "wallet", addr.Hex(), "commit", hash.Hex())
	return nil
}

// Reveal authenticates req against its commitment and applies the operation.
// A rejected reveal leaves wallet and ledger untouched apart from the invalid
// attempt counter.
func (e *Engine) Reveal(ctx context.Context, addr common.Address, req RevealRequest) (err error) {
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "wallet.Reveal", trace.WithAttributes(
		attribute.String("wallet.address", addr.Hex()),
		attribute.String("wallet.operation", req.Operation.Kind.String()),
	))
	defer func() {
		outcome := nativecommon.ClassName(err)
		e.metrics.RecordReveal(outcome, time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}()

	entry, err := e.entry(addr)
	if err != nil {
		return classify(err)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return e.reveal(ctx, entry, req)
}

func (e *Engine) reveal(ctx context.Context, entry *walletEntry, req RevealRequest) error {
	w := entry.wallet
	if w.Disabled {
		return classify(ErrWalletDisabled)
	}
	now := e.now()
	op := req.Operation
	if !op.Kind.Valid() {
		return e.rejectReveal(ctx, entry, req.CommitHash, fmt.Errorf("%w: %d", ErrUnknownKind, op.Kind))
	}
	opHash, err := op.Hash(e.hasher)
	if err != nil {
		return e.rejectReveal(ctx, entry, req.CommitHash, fmt.Errorf("%w: %v", ErrInvalidOperation, err))
	}
	commitHash := req.CommitHash
	if commitHash == (common.Hash{}) {
		commitHash = e.validator.CommitHash(opHash, req.Proof.EOTP)
	}
	if err := e.validator.Validate(w.Commits, commitHash, opHash, req.Proof, w.Active, now); err != nil {
		return e.rejectReveal(ctx, entry, commitHash, err)
	}
	if err := w.OTPUsage.Check(w.Active, req.Proof.LeafIndex); err != nil {
		return e.rejectReveal(ctx, entry, commitHash, err)
	}
	if op.Nonce != w.Nonce {
		e.spendLeaf(ctx, entry, req.Proof.LeafIndex)
		return e.rejectReveal(ctx, entry, commitHash, fmt.Errorf("%w: got %d, want %d", ErrStaleNonce, op.Nonce, w.Nonce))
	}

	next, pending, err := e.execute(ctx, w, commitHash, req.Proof.LeafIndex, op, now)
	if err != nil {
		e.spendLeaf(ctx, entry, req.Proof.LeafIndex)
		return e.rejectReveal(ctx, entry, commitHash, err)
	}
	entry.wallet = next

	for _, evt := range pending {
		e.emit(evt)
	}
	amount := op.Amount
	e.emit(events.OperationApplied{
		Wallet: next.Address,
		Commit: commitHash,
		Kind:   op.Kind.String(),
		Nonce:  next.Nonce,
		Dest:   op.Dest,
		Amount: &amount,
	})
	e.metrics.RecordOperation(op.Kind.String())
	attrs := []any{"wallet", next.Address.Hex(), "kind", op.Kind.String(), "nonce", next.Nonce}
	if op.Kind.movesNativeValue() {
		attrs = append(attrs, "value", op.Amount.Dec())
	}
	e.logger.InfoContext(ctx, "operation applied", attrs...)
	return nil
}

// execute applies op to a copy of w inside a ledger snapshot and marks leaf
// consumed. The copy is returned only when dispatch and persistence both
// succeed.
func (e *Engine) execute(ctx context.Context, w *Wallet, commitHash common.Hash, leaf uint32, op Operation, now int64) (*Wallet, []events.Event, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	working := w.Clone()
	if err := working.Commits.Complete(commitHash); err != nil {
		return nil, nil, err
	}
	working.OTPUsage = working.OTPUsage.Consume(working.Active, leaf)
	snap := e.ledger.Snapshot()
	tx := &txn{engine: e, ctx: ctx, wallet: working, now: now}
	if err := tx.apply(op, false); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, nil, err
	}
	working.Nonce++
	working.LastOperationTime = now
	working.InvalidAttempts = 0
	if err := e.persist(working); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, nil, err
	}
	e.ledger.Finalise()
	return working, tx.events, nil
}

// spendLeaf consumes the leaf of an authenticated reveal whose operation was
// refused. Its EOTP is public from here on and must not open another commit.
func (e *Engine) spendLeaf(ctx context.Context, entry *walletEntry, leaf uint32) {
	next := entry.wallet.Clone()
	next.OTPUsage = next.OTPUsage.Consume(next.Active, leaf)
	if err := e.persist(next); err != nil {
		e.logger.ErrorContext(ctx, "persist spent leaf", "wallet", next.Address.Hex(), "error", err)
		return
	}
	entry.wallet = next
}

// rejectReveal classifies reason and, for authentication failures, counts
// the attempt. Reaching the configured threshold sweeps the wallet.
func (e *Engine) rejectReveal(ctx context.Context, entry *walletEntry, commitHash common.Hash, reason error) error {
	err := classify(reason)
	w := entry.wallet
	attempts := w.InvalidAttempts
	if countsAsInvalidAttempt(reason) {
		attempts++
		if next, recovered := e.recordInvalidAttempt(ctx, w, attempts); next != nil {
			entry.wallet = next
			if recovered {
				e.logger.WarnContext(ctx, "invalid reveal threshold reached, wallet recovered",
					"wallet", w.Address.Hex(),
					"attempts", attempts)
			}
		}
	}
	e.emit(events.RevealRejected{
		Wallet:   w.Address,
		Commit:   commitHash,
		Class:    nativecommon.ClassName(err),
		Reason:   reason.Error(),
		Attempts: attempts,
	})
	e.logger.WarnContext(ctx, "reveal rejected",
		"wallet", w.Address.Hex(),
		"class", nativecommon.ClassName(err),
		"reason", reason.Error())
	return err
}

func (e *Engine) recordInvalidAttempt(ctx context.Context, w *Wallet, attempts uint32) (*Wallet, bool) {
	next := w.Clone()
	next.InvalidAttempts = attempts
	threshold := e.params.InvalidRevealThreshold
	if threshold > 0 && attempts >= threshold && next.RecoveryAddress != (common.Address{}) {
		recovered, pending, err := e.autoRecover(ctx, next)
		if err == nil {
			for _, evt := range pending {
				e.emit(evt)
			}
			return recovered, true
		}
		e.logger.ErrorContext(ctx, "automatic recovery failed", "wallet", w.Address.Hex(), "error", err)
	}
	if err := e.persist(next); err != nil {
		e.logger.ErrorContext(ctx, "persist invalid attempt", "wallet", w.Address.Hex(), "error", err)
		return nil, false
	}
	return next, false
}

// Nonce returns the number of operations applied to the wallet.
func (e *Engine) Nonce(addr common.Address) (uint64, error) {
	var nonce uint64
	err := e.view(addr, func(w *Wallet) { nonce = w.Nonce })
	return nonce, err
}

// AllCommits returns every retained commitment ordered by time.
func (e *Engine) AllCommits(addr common.Address) ([]commit.Commit, error) {
	var out []commit.Commit
	err := e.view(addr, func(w *Wallet) { out = w.Commits.All() })
	return out, err
}

// TrackedTokens returns the tracked asset keys.
func (e *Engine) TrackedTokens(addr common.Address) ([]tokens.Key, error) {
	var out []tokens.Key
	err := e.view(addr, func(w *Wallet) { out = w.Tokens.List() })
	return out, err
}

// SpendingState returns the spending window with any matured raise applied.
func (e *Engine) SpendingState(addr common.Address) (spending.State, error) {
	var out spending.State
	now := e.now()
	err := e.view(addr, func(w *Wallet) { out = w.Spending.Settle(now) })
	return out, err
}

// LastOperationTime is the timestamp of the last applied operation.
func (e *Engine) LastOperationTime(addr common.Address) (int64, error) {
	var out int64
	err := e.view(addr, func(w *Wallet) { out = w.LastOperationTime })
	return out, err
}

// Wallet returns a deep copy of the wallet state.
func (e *Engine) Wallet(addr common.Address) (*Wallet, error) {
	var out *Wallet
	err := e.view(addr, func(w *Wallet) { out = w.Clone() })
	return out, err
}

// Balance reads the wallet's balance of key from the ledger. Keys of type
// NONE address the native balance.
func (e *Engine) Balance(addr common.Address, key tokens.Key) (*uint256.Int, error) {
	if _, err := e.entry(addr); err != nil {
		return nil, classify(err)
	}
	if key.Type == tokens.NONE {
		return e.ledger.NativeBalance(addr), nil
	}
	if err := key.Validate(); err != nil {
		return nil, classify(err)
	}
	return e.ledger.TokenBalance(key.Normalize(), addr)
}

// IsValidSignature reports whether sig was recorded for hash and has not
// expired.
func (e *Engine) IsValidSignature(addr common.Address, hash common.Hash, sig []byte) bool {
	now := e.now()
	valid := false
	_ = e.view(addr, func(w *Wallet) {
		stored, ok := w.Signatures[hash]
		valid = ok && !stored.Expired(now) && string(stored.Sig) == string(sig)
	})
	return valid
}

// Addresses lists the loaded wallets.
func (e *Engine) Addresses() []common.Address {
	e.mu.RLock()
	out := make([]common.Address, 0, len(e.wallets))
	for addr := range e.wallets {
		out = append(out, addr)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (e *Engine) view(addr common.Address, fn func(*Wallet)) error {
	entry, err := e.entry(addr)
	if err != nil {
		return classify(err)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.wallet)
	return nil
}

// PruneCommits drops commitments older than the reveal window and returns how
// many were removed across all wallets.
func (e *Engine) PruneCommits(ctx context.Context) int {
	cutoff := e.validator.Cutoff(e.now())
	total := 0
	for _, addr := range e.Addresses() {
		entry, err := e.entry(addr)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		next := entry.wallet.Clone()
		if n := next.Commits.Prune(cutoff); n > 0 {
			if err := e.persist(next); err != nil {
				e.logger.ErrorContext(ctx, "persist pruned commits", "wallet", addr.Hex(), "error", err)
			} else {
				entry.wallet = next
				total += n
			}
		}
		entry.mu.Unlock()
	}
	return total
}

// OnNativeReceived moves amount from the sender into the wallet and, when a
// forward address is set, on to it in the same ledger step. Value the wallet
// already held is never forwarded. Disabled wallets keep what they receive.
func (e *Engine) OnNativeReceived(ctx context.Context, addr, from common.Address, amount *uint256.Int) error {
	entry, err := e.entry(addr)
	if err != nil {
		return classify(err)
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	w := entry.wallet
	forward := w.ForwardAddress
	if w.Disabled {
		forward = common.Address{}
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()
	snap := e.ledger.Snapshot()
	if err := e.ledger.TransferNative(from, addr, amount); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return classify(fmt.Errorf("%w: receive from %s: %v", ErrInsufficientBalance, from.Hex(), err))
	}
	if forward != (common.Address{}) {
		if err := e.ledger.TransferNative(addr, forward, amount); err != nil {
			e.ledger.RevertToSnapshot(snap)
			e.logger.WarnContext(ctx, "forward failed", "wallet", addr.Hex(), "from", from.Hex(), "error", err)
			return classify(fmt.Errorf("%w: forward: %v", ErrCallFailed, err))
		}
	}
	e.ledger.Finalise()
	if forward != (common.Address{}) {
		e.emit(events.NativeForwarded{Wallet: addr, To: forward, Amount: new(uint256.Int).Set(amount)})
	}
	return nil
}

// OnTokenReceived auto-tracks inbound non-fungible receipts the wallet
// actually holds. It never fails the inbound transfer and reports whether the
// token is tracked afterwards.
func (e *Engine) OnTokenReceived(ctx context.Context, addr common.Address, key tokens.Key) bool {
	if key.Type != tokens.ERC721 && key.Type != tokens.ERC1155 {
		return false
	}
	entry, err := e.entry(addr)
	if err != nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.wallet.Tokens.Contains(key) {
		return true
	}
	if bal, err := e.ledger.TokenBalance(key, addr); err != nil || bal.IsZero() {
		return false
	}
	next := entry.wallet.Clone()
	if !next.Tokens.AutoTrack(key) {
		e.metrics.RecordAutoTrackSkipped()
		e.emit(events.TokenAutoTrackSkipped{Wallet: addr, Token: key.String()})
		return false
	}
	if err := e.persist(next); err != nil {
		e.logger.ErrorContext(ctx, "persist auto-tracked token", "wallet", addr.Hex(), "error", err)
		return false
	}
	entry.wallet = next
	return true
}
