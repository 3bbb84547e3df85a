package wallet

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/core/events"
	"otpwallet/native/spending"
	"otpwallet/native/tokens"
)

// txn is one in-flight transition: a working copy of the wallet plus the
// events to publish if it commits.
type txn struct {
	engine *Engine
	ctx    context.Context
	wallet *Wallet
	now    int64
	events []events.Event
}

func (tx *txn) ledger() Ledger { return tx.engine.ledger }

func (tx *txn) record(evt events.Event) { tx.events = append(tx.events, evt) }

// apply dispatches op against the working wallet. Any error leaves the
// working copy in an undefined state; the caller discards it.
func (tx *txn) apply(op Operation, inBatch bool) error {
	if tx.wallet.Disabled {
		return ErrWalletDisabled
	}
	switch op.Kind {
	case OpTrack:
		return tx.track(op)
	case OpUntrack:
		return tx.untrack(op)
	case OpOverrideTrack:
		return tx.overrideTrack(op)
	case OpTransferToken:
		return tx.transferToken(op)
	case OpTransfer:
		return tx.transfer(op)
	case OpSetRecoveryAddress:
		return tx.setRecoveryAddress(op)
	case OpRecover:
		return tx.recover()
	case OpDisplace:
		return tx.displace(op)
	case OpForward:
		return tx.forward(op)
	case OpRecoverSelectedTokens:
		return tx.recoverSelected(op)
	case OpBuyDomain, OpRenewDomain:
		return tx.valueCall(op.Contract, &op.Amount, op.Data)
	case OpTransferDomain:
		if op.Dest == (common.Address{}) {
			return ErrZeroDestination
		}
		return tx.call(op.Contract, nil, op.Data)
	case OpReclaimReverseDomain:
		return tx.call(op.Contract, nil, op.Data)
	case OpReclaimDomainFromBacklink:
		if !tx.wallet.IsBacklink(op.Dest) {
			return fmt.Errorf("%w: %s", ErrNotBacklink, op.Dest.Hex())
		}
		return tx.call(op.Dest, nil, op.Data)
	case OpCommand:
		if !tx.wallet.IsBacklink(op.Contract) {
			return fmt.Errorf("%w: %s", ErrNotBacklink, op.Contract.Hex())
		}
		return tx.call(op.Contract, nil, op.Data)
	case OpBacklinkAdd:
		return tx.backlinkAdd(op)
	case OpBacklinkDelete:
		return tx.backlinkDelete(op)
	case OpBacklinkOverride:
		addrs, err := DecodeAddresses(op.Data)
		if err != nil {
			return err
		}
		return tx.wallet.setBacklinks(addrs, tx.engine.params.MaxBacklinks)
	case OpSign:
		return tx.sign(op)
	case OpRevoke:
		return tx.revoke(op)
	case OpCall:
		return tx.valueCall(op.Contract, &op.Amount, op.Data)
	case OpBatch:
		if inBatch {
			return ErrNestedBatch
		}
		return tx.batch(op)
	case OpNoop:
		return nil
	case OpChangeSpendingLimit:
		next, err := spending.ChangeLimit(tx.wallet.Spending, &op.Amount, tx.now)
		if err != nil {
			return err
		}
		tx.wallet.Spending = next
		return nil
	case OpJumpSpendingLimit:
		next, err := spending.JumpLimit(tx.wallet.Spending, &op.Amount, tx.now)
		if err != nil {
			return err
		}
		tx.wallet.Spending = next
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, op.Kind)
	}
}

// keys reads a key list from Data, falling back to the single key in the
// token fields.
func (tx *txn) keys(op Operation) ([]tokens.Key, error) {
	if len(op.Data) > 0 {
		return DecodeTokenKeys(op.Data)
	}
	return []tokens.Key{op.TokenKey()}, nil
}

func (tx *txn) track(op Operation) error {
	keys, err := tx.keys(op)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := tx.wallet.Tokens.Track(key); err != nil {
			return err
		}
	}
	return nil
}

func (tx *txn) untrack(op Operation) error {
	keys, err := tx.keys(op)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := tx.wallet.Tokens.Untrack(key); err != nil {
			return fmt.Errorf("%w: %s", err, key)
		}
	}
	return nil
}

func (tx *txn) overrideTrack(op Operation) error {
	keys, err := tx.keys(op)
	if err != nil {
		return err
	}
	return tx.wallet.Tokens.Override(keys)
}

// spend charges native value against the spending window.
func (tx *txn) spend(amount *uint256.Int) error {
	next, err := spending.CheckAndSpend(tx.wallet.Spending, amount, tx.now)
	if err != nil {
		return err
	}
	tx.wallet.Spending = next
	return nil
}

func (tx *txn) requireNative(amount *uint256.Int) error {
	balance := tx.ledger().NativeBalance(tx.wallet.Address)
	if balance == nil || balance.Lt(amount) {
		return fmt.Errorf("%w: native", ErrInsufficientBalance)
	}
	return nil
}

func (tx *txn) transfer(op Operation) error {
	if op.Dest == (common.Address{}) {
		return ErrZeroDestination
	}
	if op.Amount.IsZero() {
		return ErrZeroAmount
	}
	if err := tx.spend(&op.Amount); err != nil {
		return err
	}
	if err := tx.requireNative(&op.Amount); err != nil {
		return err
	}
	if err := tx.ledger().TransferNative(tx.wallet.Address, op.Dest, &op.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	return nil
}

func (tx *txn) transferToken(op Operation) error {
	key := op.TokenKey()
	if err := key.Validate(); err != nil {
		return err
	}
	if op.Dest == (common.Address{}) {
		return ErrZeroDestination
	}
	if op.Amount.IsZero() {
		return ErrZeroAmount
	}
	balance, err := tx.ledger().TokenBalance(key, tx.wallet.Address)
	if err != nil {
		return fmt.Errorf("%w: balance of %s: %v", ErrCallFailed, key, err)
	}
	if balance == nil || balance.Lt(&op.Amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, key)
	}
	if err := tx.ledger().TransferToken(key, tx.wallet.Address, op.Dest, &op.Amount, op.Data); err != nil {
		return fmt.Errorf("%w: transfer %s: %v", ErrCallFailed, key, err)
	}
	if !tx.wallet.Tokens.AutoTrack(key) {
		tx.engine.metrics.RecordAutoTrackSkipped()
		tx.record(events.TokenAutoTrackSkipped{Wallet: tx.wallet.Address, Token: key.String()})
	}
	return nil
}

func (tx *txn) setRecoveryAddress(op Operation) error {
	if op.Dest == (common.Address{}) {
		return ErrZeroDestination
	}
	if op.Dest == tx.wallet.Address {
		return ErrSelfRecovery
	}
	tx.wallet.RecoveryAddress = op.Dest
	return nil
}

func (tx *txn) forward(op Operation) error {
	if op.Dest == tx.wallet.Address {
		return fmt.Errorf("%w: cannot forward to self", ErrInvalidOperation)
	}
	tx.wallet.ForwardAddress = op.Dest
	return nil
}

func (tx *txn) call(to common.Address, value *uint256.Int, data []byte) error {
	if to == (common.Address{}) {
		return ErrZeroDestination
	}
	if value == nil {
		value = new(uint256.Int)
	}
	if !value.IsZero() {
		if err := tx.requireNative(value); err != nil {
			return err
		}
	}
	if _, err := tx.ledger().Call(tx.ctx, tx.wallet.Address, to, value, data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCallFailed, to.Hex(), err)
	}
	return nil
}

// valueCall is a call whose value is charged to the spending window.
func (tx *txn) valueCall(to common.Address, value *uint256.Int, data []byte) error {
	if to == (common.Address{}) {
		return ErrZeroDestination
	}
	if err := tx.spend(value); err != nil {
		return err
	}
	return tx.call(to, value, data)
}

func (tx *txn) backlinkAdd(op Operation) error {
	addrs, err := DecodeAddresses(op.Data)
	if err != nil {
		return err
	}
	return tx.wallet.setBacklinks(append(append([]common.Address(nil), tx.wallet.Backlinks...), addrs...), tx.engine.params.MaxBacklinks)
}

func (tx *txn) backlinkDelete(op Operation) error {
	addrs, err := DecodeAddresses(op.Data)
	if err != nil {
		return err
	}
	for _, addr := range addrs {
		idx := -1
		for i, b := range tx.wallet.Backlinks {
			if b == addr {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrNotBacklink, addr.Hex())
		}
		tx.wallet.Backlinks = append(tx.wallet.Backlinks[:idx], tx.wallet.Backlinks[idx+1:]...)
	}
	return nil
}

// setBacklinks replaces the backlink set, dropping duplicates.
func (w *Wallet) setBacklinks(addrs []common.Address, limit int) error {
	seen := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, addr := range addrs {
		if addr == (common.Address{}) || addr == w.Address {
			return fmt.Errorf("%w: invalid backlink %s", ErrInvalidOperation, addr.Hex())
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	if limit > 0 && len(out) > limit {
		return fmt.Errorf("%w: %d > %d", ErrTooManyBacklinks, len(out), limit)
	}
	w.Backlinks = out
	return nil
}

func (tx *txn) sign(op Operation) error {
	if len(op.Data) == 0 {
		return fmt.Errorf("%w: empty signature", ErrInvalidOperation)
	}
	if !op.Amount.IsUint64() || op.Amount.Uint64() > 1<<62 {
		return fmt.Errorf("%w: expiry out of range", ErrInvalidOperation)
	}
	hash := common.Hash(op.TokenID.Bytes32())
	sigs := tx.wallet.Signatures
	if _, exists := sigs[hash]; !exists {
		if limit := tx.engine.params.MaxSignatures; limit > 0 && len(sigs) >= limit {
			tx.pruneSignatures()
			if len(sigs) >= limit {
				return ErrTooManySignatures
			}
		}
	}
	sigs[hash] = Signature{
		Hash:     hash,
		Sig:      append([]byte(nil), op.Data...),
		ExpireAt: int64(op.Amount.Uint64()),
	}
	return nil
}

func (tx *txn) pruneSignatures() int {
	removed := 0
	for hash, sig := range tx.wallet.Signatures {
		if sig.Expired(tx.now) {
			delete(tx.wallet.Signatures, hash)
			removed++
		}
	}
	return removed
}

func (tx *txn) revoke(op Operation) error {
	if op.TokenID.IsZero() {
		tx.pruneSignatures()
		return nil
	}
	hash := common.Hash(op.TokenID.Bytes32())
	if _, ok := tx.wallet.Signatures[hash]; !ok {
		return ErrSignatureNotFound
	}
	delete(tx.wallet.Signatures, hash)
	return nil
}

func (tx *txn) batch(op Operation) error {
	ops, err := DecodeBatch(op.Data)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return ErrEmptyBatch
	}
	for i, sub := range ops {
		if !sub.Kind.Valid() {
			return fmt.Errorf("batch[%d]: %w: %d", i, ErrUnknownKind, sub.Kind)
		}
		if err := tx.apply(sub, true); err != nil {
			return fmt.Errorf("batch[%d] %s: %w", i, sub.Kind, err)
		}
	}
	return nil
}
