package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/core/types"
)

const (
	// TypeWalletCreated is emitted once per wallet at creation.
	TypeWalletCreated = "wallet.created"
	// TypeCommitRecorded is emitted when a commitment is accepted.
	TypeCommitRecorded = "wallet.commit_recorded"
	// TypeOperationApplied is emitted for each accepted reveal.
	TypeOperationApplied = "wallet.operation_applied"
	// TypeRevealRejected is emitted when a reveal fails validation or dispatch.
	TypeRevealRejected = "wallet.reveal_rejected"
	// TypeRootDisplaced is emitted when the standby root becomes active.
	TypeRootDisplaced = "wallet.root_displaced"
	// TypeRecovered is emitted when a wallet sweeps its assets and disables.
	TypeRecovered = "wallet.recovered"
	// TypeTokenSwept is emitted for every asset moved by a recovery sweep.
	TypeTokenSwept = "wallet.token_swept"
	// TypeTokenAutoTrackSkipped is emitted when an inbound token is not tracked.
	TypeTokenAutoTrackSkipped = "wallet.token_autotrack_skipped"
	// TypeNativeForwarded is emitted when inbound value is forwarded.
	TypeNativeForwarded = "wallet.native_forwarded"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

type WalletCreated struct {
	Wallet   common.Address
	Root     common.Hash
	Recovery common.Address
}

func (WalletCreated) EventType() string { return TypeWalletCreated }

func (e WalletCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeWalletCreated,
		Attributes: map[string]string{
			"wallet":   e.Wallet.Hex(),
			"root":     e.Root.Hex(),
			"recovery": addressString(e.Recovery),
		},
	}
}

type CommitRecorded struct {
	Wallet    common.Address
	Hash      common.Hash
	Timestamp int64
}

func (CommitRecorded) EventType() string { return TypeCommitRecorded }

func (e CommitRecorded) Event() *types.Event {
	return &types.Event{
		Type: TypeCommitRecorded,
		Attributes: map[string]string{
			"wallet":    e.Wallet.Hex(),
			"commit":    e.Hash.Hex(),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

type OperationApplied struct {
	Wallet common.Address
	Commit common.Hash
	Kind   string
	Nonce  uint64
	Dest   common.Address
	Amount *uint256.Int
}

func (OperationApplied) EventType() string { return TypeOperationApplied }

func (e OperationApplied) Event() *types.Event {
	return &types.Event{
		Type: TypeOperationApplied,
		Attributes: map[string]string{
			"wallet": e.Wallet.Hex(),
			"commit": e.Commit.Hex(),
			"kind":   e.Kind,
			"nonce":  strconv.FormatUint(e.Nonce, 10),
			"dest":   addressString(e.Dest),
			"amount": amountString(e.Amount),
		},
	}
}

// RevealRejected carries the rejection class and reason, never the proof.
type RevealRejected struct {
	Wallet   common.Address
	Commit   common.Hash
	Class    string
	Reason   string
	Attempts uint32
}

func (RevealRejected) EventType() string { return TypeRevealRejected }

func (e RevealRejected) Event() *types.Event {
	return &types.Event{
		Type: TypeRevealRejected,
		Attributes: map[string]string{
			"wallet":   e.Wallet.Hex(),
			"commit":   e.Commit.Hex(),
			"class":    e.Class,
			"reason":   e.Reason,
			"attempts": strconv.FormatUint(uint64(e.Attempts), 10),
		},
	}
}

type RootDisplaced struct {
	Wallet      common.Address
	OldRoot     common.Hash
	NewRoot     common.Hash
	Invalidated int
}

func (RootDisplaced) EventType() string { return TypeRootDisplaced }

func (e RootDisplaced) Event() *types.Event {
	return &types.Event{
		Type: TypeRootDisplaced,
		Attributes: map[string]string{
			"wallet":      e.Wallet.Hex(),
			"oldRoot":     e.OldRoot.Hex(),
			"newRoot":     e.NewRoot.Hex(),
			"invalidated": strconv.Itoa(e.Invalidated),
		},
	}
}

// Recovered reports a sweep. Trigger is "operation", "threshold" or
// "selected".
type Recovered struct {
	Wallet   common.Address
	Recovery common.Address
	Trigger  string
	Native   *uint256.Int
	Swept    int
	Skipped  int
}

func (Recovered) EventType() string { return TypeRecovered }

func (e Recovered) Event() *types.Event {
	return &types.Event{
		Type: TypeRecovered,
		Attributes: map[string]string{
			"wallet":   e.Wallet.Hex(),
			"recovery": addressString(e.Recovery),
			"trigger":  e.Trigger,
			"native":   amountString(e.Native),
			"swept":    strconv.Itoa(e.Swept),
			"skipped":  strconv.Itoa(e.Skipped),
		},
	}
}

type TokenSwept struct {
	Wallet common.Address
	Token  string
	Amount *uint256.Int
	Error  string
}

func (TokenSwept) EventType() string { return TypeTokenSwept }

func (e TokenSwept) Event() *types.Event {
	attrs := map[string]string{
		"wallet": e.Wallet.Hex(),
		"token":  e.Token,
		"amount": amountString(e.Amount),
	}
	if e.Error != "" {
		attrs["error"] = e.Error
	}
	return &types.Event{Type: TypeTokenSwept, Attributes: attrs}
}

type TokenAutoTrackSkipped struct {
	Wallet common.Address
	Token  string
}

func (TokenAutoTrackSkipped) EventType() string { return TypeTokenAutoTrackSkipped }

func (e TokenAutoTrackSkipped) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenAutoTrackSkipped,
		Attributes: map[string]string{
			"wallet": e.Wallet.Hex(),
			"token":  e.Token,
		},
	}
}

type NativeForwarded struct {
	Wallet common.Address
	To     common.Address
	Amount *uint256.Int
}

func (NativeForwarded) EventType() string { return TypeNativeForwarded }

func (e NativeForwarded) Event() *types.Event {
	return &types.Event{
		Type: TypeNativeForwarded,
		Attributes: map[string]string{
			"wallet": e.Wallet.Hex(),
			"to":     e.To.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}
