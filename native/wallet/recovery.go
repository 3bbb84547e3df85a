package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/core/events"
	"otpwallet/native/otp"
	"otpwallet/native/tokens"
)

const (
	triggerOperation = "operation"
	triggerThreshold = "threshold"
	triggerSelected  = "selected"
)

type sweepResult struct {
	native  uint256.Int
	swept   int
	skipped int
}

// sweepNative moves the full native balance to the recovery address. Failure
// aborts the recovery.
func (tx *txn) sweepNative(res *sweepResult) error {
	w := tx.wallet
	balance := tx.ledger().NativeBalance(w.Address)
	if balance == nil || balance.IsZero() {
		return nil
	}
	amount := new(uint256.Int).Set(balance)
	if err := tx.ledger().TransferNative(w.Address, w.RecoveryAddress, amount); err != nil {
		return fmt.Errorf("%w: native sweep: %v", ErrCallFailed, err)
	}
	res.native.Set(amount)
	return nil
}

// sweepTokens moves every positive balance among keys to the recovery
// address. A token whose balance query or transfer fails is skipped so one
// hostile contract cannot block recovery.
func (tx *txn) sweepTokens(keys []tokens.Key, res *sweepResult) {
	w := tx.wallet
	ledger := tx.ledger()
	for _, key := range keys {
		if key.Validate() != nil {
			res.skipped++
			continue
		}
		balance, err := ledger.TokenBalance(key, w.Address)
		if err != nil {
			res.skipped++
			tx.skipToken(key, nil, err)
			continue
		}
		if balance == nil || balance.IsZero() {
			continue
		}
		amount := new(uint256.Int).Set(balance)
		snap := ledger.Snapshot()
		if err := ledger.TransferToken(key, w.Address, w.RecoveryAddress, amount, nil); err != nil {
			ledger.RevertToSnapshot(snap)
			res.skipped++
			tx.skipToken(key, amount, err)
			continue
		}
		res.swept++
		tx.record(events.TokenSwept{Wallet: w.Address, Token: key.String(), Amount: amount})
	}
}

func (tx *txn) skipToken(key tokens.Key, amount *uint256.Int, err error) {
	tx.engine.logger.WarnContext(tx.ctx, "recovery skipped token",
		"wallet", tx.wallet.Address.Hex(),
		"token", key.String(),
		"error", err)
	tx.record(events.TokenSwept{Wallet: tx.wallet.Address, Token: key.String(), Amount: amount, Error: err.Error()})
}

func (tx *txn) requireRecoveryAddress() error {
	if tx.wallet.RecoveryAddress == (common.Address{}) {
		return ErrNoRecoveryAddress
	}
	return nil
}

// recoverAll sweeps native value and every tracked token, then disables the
// wallet.
func (tx *txn) recoverAll(trigger string) error {
	if err := tx.requireRecoveryAddress(); err != nil {
		return err
	}
	var res sweepResult
	if err := tx.sweepNative(&res); err != nil {
		return err
	}
	tx.sweepTokens(tx.wallet.Tokens.List(), &res)
	tx.wallet.Disabled = true
	tx.wallet.Commits.InvalidatePending()
	tx.record(events.Recovered{
		Wallet:   tx.wallet.Address,
		Recovery: tx.wallet.RecoveryAddress,
		Trigger:  trigger,
		Native:   &res.native,
		Swept:    res.swept,
		Skipped:  res.skipped,
	})
	tx.engine.metrics.RecordRecovery(trigger)
	return nil
}

func (tx *txn) recover() error {
	return tx.recoverAll(triggerOperation)
}

func (tx *txn) recoverSelected(op Operation) error {
	if err := tx.requireRecoveryAddress(); err != nil {
		return err
	}
	keys, err := tx.keys(op)
	if err != nil {
		return err
	}
	var res sweepResult
	tx.sweepTokens(keys, &res)
	tx.record(events.Recovered{
		Wallet:   tx.wallet.Address,
		Recovery: tx.wallet.RecoveryAddress,
		Trigger:  triggerSelected,
		Swept:    res.swept,
		Skipped:  res.skipped,
	})
	return nil
}

// displace promotes the standby root. Data may carry a replacement standby
// core that is installed first.
func (tx *txn) displace(op Operation) error {
	w := tx.wallet
	if len(op.Data) > 0 {
		core, err := DecodeCore(op.Data)
		if err != nil {
			return err
		}
		w.Standby = core
	}
	if w.Standby.IsZero() {
		return ErrNoStandbyRoot
	}
	if err := w.Standby.Validate(); err != nil {
		return err
	}
	if w.Standby.Expired(tx.now) {
		return ErrStandbyExpired
	}
	old := w.Active.Root
	w.Active = w.Standby
	w.Standby = otp.Core{}
	w.OTPUsage = otp.Usage{}
	invalidated := w.Commits.InvalidatePending()
	tx.record(events.RootDisplaced{
		Wallet:      w.Address,
		OldRoot:     old,
		NewRoot:     w.Active.Root,
		Invalidated: invalidated,
	})
	return nil
}

// autoRecover runs the full sweep after too many invalid reveals. w is
// already a working copy.
func (e *Engine) autoRecover(ctx context.Context, w *Wallet) (*Wallet, []events.Event, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	snap := e.ledger.Snapshot()
	tx := &txn{engine: e, ctx: ctx, wallet: w, now: e.now()}
	if err := tx.recoverAll(triggerThreshold); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, nil, err
	}
	if err := e.persist(w); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return nil, nil, err
	}
	e.ledger.Finalise()
	return w, tx.events, nil
}

// RecoverSelectedTokens sweeps keys from a disabled wallet. Only the
// recovery address may call it; no OTP is needed since the wallet no longer
// accepts reveals.
func (e *Engine) RecoverSelectedTokens(ctx context.Context, addr, caller common.Address, keys []tokens.Key) error {
	entry, err := e.entry(addr)
	if err != nil {
		return classify(err)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	w := entry.wallet
	if !w.Disabled {
		return classify(ErrWalletNotDisabled)
	}
	if caller != w.RecoveryAddress {
		return classify(ErrNotRecoveryAddress)
	}

	e.execMu.Lock()
	defer e.execMu.Unlock()

	working := w.Clone()
	snap := e.ledger.Snapshot()
	tx := &txn{engine: e, ctx: ctx, wallet: working, now: e.now()}
	var res sweepResult
	tx.sweepTokens(keys, &res)
	tx.record(events.Recovered{
		Wallet:   addr,
		Recovery: w.RecoveryAddress,
		Trigger:  triggerSelected,
		Swept:    res.swept,
		Skipped:  res.skipped,
	})
	working.LastOperationTime = tx.now
	if err := e.persist(working); err != nil {
		e.ledger.RevertToSnapshot(snap)
		return err
	}
	e.ledger.Finalise()
	entry.wallet = working
	for _, evt := range tx.events {
		e.emit(evt)
	}
	e.metrics.RecordRecovery(triggerSelected)
	e.logger.InfoContext(ctx, "selected tokens recovered",
		"wallet", addr.Hex(),
		"swept", res.swept,
		"skipped", res.skipped)
	return nil
}
