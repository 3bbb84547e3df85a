package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/native/tokens"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrTokenReverted     = errors.New("bank: token transfer reverted")
	ErrUnknownSnapshot   = errors.New("bank: unknown snapshot")
)

// CallHandler is the code behind a contract address. It runs without the
// ledger lock held and may move funds through l.
type CallHandler func(ctx context.Context, l *Ledger, from common.Address, value *uint256.Int, data []byte) ([]byte, error)

type holding struct {
	key   tokens.Key
	owner common.Address
}

// Ledger is an in-memory host ledger with a geth-style undo journal.
// Mutations after Snapshot are reverted by RevertToSnapshot.
type Ledger struct {
	mu        sync.Mutex
	native    map[common.Address]uint256.Int
	holdings  map[holding]uint256.Int
	contracts map[common.Address]CallHandler
	reverting map[common.Address]error
	journal   []func()
	revisions []int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		native:    make(map[common.Address]uint256.Int),
		holdings:  make(map[holding]uint256.Int),
		contracts: make(map[common.Address]CallHandler),
		reverting: make(map[common.Address]error),
	}
}

// RegisterContract installs handler at addr.
func (l *Ledger) RegisterContract(addr common.Address, handler CallHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.contracts[addr] = handler
}

// SetTokenFailure makes every transfer of contract's tokens fail with err.
// A nil err clears the failure.
func (l *Ledger) SetTokenFailure(contract common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.reverting, contract)
		return
	}
	l.reverting[contract] = err
}

// Mint credits native value outside of any snapshot.
func (l *Ledger) Mint(addr common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.native[addr]
	bal.Add(&bal, amount)
	l.native[addr] = bal
}

// MintToken credits a token balance outside of any snapshot.
func (l *Ledger) MintToken(key tokens.Key, owner common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := holding{key: key.Normalize(), owner: owner}
	bal := l.holdings[h]
	bal.Add(&bal, amount)
	l.holdings[h] = bal
}

// NativeBalance returns a copy of addr's native balance.
func (l *Ledger) NativeBalance(addr common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.native[addr]
	return new(uint256.Int).Set(&bal)
}

func (l *Ledger) setNative(addr common.Address, v uint256.Int) {
	prev, existed := l.native[addr]
	l.journal = append(l.journal, func() {
		if existed {
			l.native[addr] = prev
		} else {
			delete(l.native, addr)
		}
	})
	l.native[addr] = v
}

func (l *Ledger) setHolding(h holding, v uint256.Int) {
	prev, existed := l.holdings[h]
	l.journal = append(l.journal, func() {
		if existed {
			l.holdings[h] = prev
		} else {
			delete(l.holdings, h)
		}
	})
	l.holdings[h] = v
}

func (l *Ledger) transferNativeLocked(from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	src := l.native[from]
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), src.Dec(), amount.Dec())
	}
	dst := l.native[to]
	var nextSrc, nextDst uint256.Int
	nextSrc.Sub(&src, amount)
	nextDst.Add(&dst, amount)
	l.setNative(from, nextSrc)
	l.setNative(to, nextDst)
	return nil
}

// TransferNative moves native value between accounts.
func (l *Ledger) TransferNative(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferNativeLocked(from, to, amount)
}

// TokenBalance returns owner's balance of key.
func (l *Ledger) TokenBalance(key tokens.Key, owner common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.holdings[holding{key: key.Normalize(), owner: owner}]
	return new(uint256.Int).Set(&bal), nil
}

// TransferToken moves amount of key from one owner to another.
func (l *Ledger) TransferToken(key tokens.Key, from, to common.Address, amount *uint256.Int, _ []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key = key.Normalize()
	if err, ok := l.reverting[key.Contract]; ok {
		return fmt.Errorf("%w: %v", ErrTokenReverted, err)
	}
	if amount == nil || amount.IsZero() || from == to {
		return nil
	}
	srcKey := holding{key: key, owner: from}
	dstKey := holding{key: key, owner: to}
	src := l.holdings[srcKey]
	if src.Lt(amount) {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, key)
	}
	dst := l.holdings[dstKey]
	var nextSrc, nextDst uint256.Int
	nextSrc.Sub(&src, amount)
	nextDst.Add(&dst, amount)
	l.setHolding(srcKey, nextSrc)
	l.setHolding(dstKey, nextDst)
	return nil
}

// Call transfers value to to and runs its handler, if any. A failing handler
// reverts the value transfer and everything it did.
func (l *Ledger) Call(ctx context.Context, from, to common.Address, value *uint256.Int, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := l.Snapshot()
	l.mu.Lock()
	err := l.transferNativeLocked(from, to, value)
	handler := l.contracts[to]
	l.mu.Unlock()
	if err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	if handler == nil {
		return nil, nil
	}
	if value == nil {
		value = new(uint256.Int)
	}
	out, err := handler(ctx, l, from, value, data)
	if err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

// Snapshot returns an id for the current journal position.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revisions = append(l.revisions, len(l.journal))
	return len(l.revisions) - 1
}

// RevertToSnapshot undoes every mutation since id was taken and invalidates
// id and any later snapshot.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id < 0 || id >= len(l.revisions) {
		panic(fmt.Errorf("%w: %d", ErrUnknownSnapshot, id))
	}
	mark := l.revisions[id]
	for i := len(l.journal) - 1; i >= mark; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:mark]
	l.revisions = l.revisions[:id]
}

// Finalise drops the journal, making all mutations permanent.
func (l *Ledger) Finalise() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal = nil
	l.revisions = nil
}
