package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/native/commit"
	"otpwallet/native/otp"
	"otpwallet/native/spending"
	"otpwallet/native/tokens"
)

// OpKind enumerates the operations a reveal can carry. The numbering is
// stable and part of the operation hash.
type OpKind uint8

const (
	OpTrack OpKind = iota
	OpUntrack
	OpTransferToken
	OpOverrideTrack
	OpTransfer
	OpSetRecoveryAddress
	OpRecover
	OpDisplace
	OpForward
	OpRecoverSelectedTokens
	OpBuyDomain
	OpCommand
	OpBacklinkAdd
	OpBacklinkDelete
	OpBacklinkOverride
	OpRenewDomain
	OpTransferDomain
	OpReclaimReverseDomain
	OpReclaimDomainFromBacklink
	OpSign
	OpRevoke
	OpCall
	OpBatch
	OpNoop
	OpChangeSpendingLimit
	OpJumpSpendingLimit

	opKindCount
)

var opKindNames = [...]string{
	OpTrack:                     "TRACK",
	OpUntrack:                   "UNTRACK",
	OpTransferToken:             "TRANSFER_TOKEN",
	OpOverrideTrack:             "OVERRIDE_TRACK",
	OpTransfer:                  "TRANSFER",
	OpSetRecoveryAddress:        "SET_RECOVERY_ADDRESS",
	OpRecover:                   "RECOVER",
	OpDisplace:                  "DISPLACE",
	OpForward:                   "FORWARD",
	OpRecoverSelectedTokens:     "RECOVER_SELECTED_TOKENS",
	OpBuyDomain:                 "BUY_DOMAIN",
	OpCommand:                   "COMMAND",
	OpBacklinkAdd:               "BACKLINK_ADD",
	OpBacklinkDelete:            "BACKLINK_DELETE",
	OpBacklinkOverride:          "BACKLINK_OVERRIDE",
	OpRenewDomain:               "RENEW_DOMAIN",
	OpTransferDomain:            "TRANSFER_DOMAIN",
	OpReclaimReverseDomain:      "RECLAIM_REVERSE_DOMAIN",
	OpReclaimDomainFromBacklink: "RECLAIM_DOMAIN_FROM_BACKLINK",
	OpSign:                      "SIGN",
	OpRevoke:                    "REVOKE",
	OpCall:                      "CALL",
	OpBatch:                     "BATCH",
	OpNoop:                      "NOOP",
	OpChangeSpendingLimit:       "CHANGE_SPENDING_LIMIT",
	OpJumpSpendingLimit:         "JUMP_SPENDING_LIMIT",
}

func (k OpKind) String() string {
	if k < opKindCount {
		return opKindNames[k]
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// Valid reports whether k is a known operation.
func (k OpKind) Valid() bool { return k < opKindCount }

// ParseOpKind resolves a kind by its canonical name.
func ParseOpKind(name string) (OpKind, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for i, n := range opKindNames {
		if n == name {
			return OpKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// movesNativeValue lists the kinds whose Amount leaves the wallet as native
// value and is therefore charged against the spending limit.
func (k OpKind) movesNativeValue() bool {
	switch k {
	case OpTransfer, OpCall, OpBuyDomain, OpRenewDomain:
		return true
	}
	return false
}

// Operation is the payload of a reveal. Nonce must equal the wallet nonce at
// reveal time.
type Operation struct {
	Kind      OpKind
	TokenType tokens.Type
	Contract  common.Address
	TokenID   uint256.Int
	Dest      common.Address
	Amount    uint256.Int
	Data      []byte
	Nonce     uint64
}

// Clone returns a deep copy.
func (op Operation) Clone() Operation {
	op.Data = append([]byte(nil), op.Data...)
	return op
}

// TokenKey is the asset addressed by the operation's token fields.
func (op Operation) TokenKey() tokens.Key {
	return tokens.NewKey(op.TokenType, op.Contract, &op.TokenID)
}

// Signature is a message approval recorded by SIGN.
type Signature struct {
	Hash     common.Hash
	Sig      []byte
	ExpireAt int64 // zero never expires
}

// Expired reports whether the signature has lapsed at now.
func (s Signature) Expired(now int64) bool {
	return s.ExpireAt != 0 && now >= s.ExpireAt
}

// Wallet is the full authorization state of one account.
type Wallet struct {
	Address           common.Address
	Active            otp.Core
	Standby           otp.Core
	OTPUsage          otp.Usage // consumed leaves of Active
	Nonce             uint64
	Spending          spending.State
	RecoveryAddress   common.Address
	ForwardAddress    common.Address
	Tokens            *tokens.Registry
	Commits           *commit.Store
	Backlinks         []common.Address
	Signatures        map[common.Hash]Signature
	LastOperationTime int64
	InvalidAttempts   uint32
	Disabled          bool
	CreatedAt         int64
}

// Clone returns a deep copy that shares no mutable state with w.
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	clone := *w
	clone.Tokens = w.Tokens.Clone()
	clone.Commits = w.Commits.Clone()
	clone.Backlinks = append([]common.Address(nil), w.Backlinks...)
	clone.Signatures = make(map[common.Hash]Signature, len(w.Signatures))
	for hash, sig := range w.Signatures {
		sig.Sig = append([]byte(nil), sig.Sig...)
		clone.Signatures[hash] = sig
	}
	return &clone
}

// NextLeaf returns the leaf index the next reveal must present when it is
// committed at now. It is false when the current slot has no unused leaves.
func (w *Wallet) NextLeaf(now int64) (uint32, bool) {
	slot, ok := w.Active.SlotAt(now)
	if !ok {
		return 0, false
	}
	return w.OTPUsage.Expected(w.Active, slot)
}

// IsBacklink reports whether addr is a registered backlink.
func (w *Wallet) IsBacklink(addr common.Address) bool {
	for _, b := range w.Backlinks {
		if b == addr {
			return true
		}
	}
	return false
}

// CreateParams configure a new wallet.
type CreateParams struct {
	Address          common.Address
	Core             otp.Core
	Standby          otp.Core
	SpendingLimit    *uint256.Int
	SpendingInterval uint64
	RecoveryAddress  common.Address
	Backlinks        []common.Address
}

// Params are engine-wide limits.
type Params struct {
	Reveal                 commit.Params
	MaxTrackedTokens       int
	MaxPendingCommits      int
	MaxBacklinks           int
	MaxSignatures          int
	InvalidRevealThreshold uint32 // zero disables automatic recovery
}

// DefaultParams returns the engine defaults.
func DefaultParams() Params {
	return Params{
		Reveal:            commit.Params{MinDelay: 1, MaxWindow: 60, SlotTolerance: 1},
		MaxTrackedTokens:  64,
		MaxPendingCommits: 128,
		MaxBacklinks:      32,
		MaxSignatures:     512,
	}
}

// RevealRequest is the second phase of an operation. A zero CommitHash is
// derived from the operation and EOTP.
type RevealRequest struct {
	CommitHash common.Hash
	Operation  Operation
	Proof      otp.Proof
}
