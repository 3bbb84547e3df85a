package wallet

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/native/tokens"
)

// Ledger is the execution environment holding balances and executing
// external calls. Every mutation between Snapshot and RevertToSnapshot is
// undone by the revert; Finalise discards the journal once a transition is
// committed.
type Ledger interface {
	NativeBalance(addr common.Address) *uint256.Int
	TransferNative(from, to common.Address, amount *uint256.Int) error
	TokenBalance(key tokens.Key, owner common.Address) (*uint256.Int, error)
	TransferToken(key tokens.Key, from, to common.Address, amount *uint256.Int, data []byte) error
	Call(ctx context.Context, from, to common.Address, value *uint256.Int, data []byte) ([]byte, error)

	Snapshot() int
	RevertToSnapshot(id int)
	Finalise()
}

// Store persists wallet state across restarts.
type Store interface {
	PutWallet(w *Wallet) error
	LoadWallets() ([]*Wallet, error)
}
