package rpc

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"otpwallet/native/commit"
	"otpwallet/native/otp"
	"otpwallet/native/spending"
	"otpwallet/native/tokens"
	"otpwallet/native/wallet"
)

// CoreRequest describes an OTP root and its schedule.
type CoreRequest struct {
	Root          common.Hash `json:"root"`
	Height        uint8       `json:"height"`
	Interval      int64       `json:"interval"`
	EffectiveTime int64       `json:"effectiveTime"`
	Duration      int64       `json:"duration,omitempty"`
	SlotSize      uint32      `json:"slotSize,omitempty"`
}

func (c *CoreRequest) core() otp.Core {
	if c == nil {
		return otp.Core{}
	}
	core := otp.Core{
		Root:          c.Root,
		Height:        c.Height,
		Interval:      c.Interval,
		EffectiveTime: c.EffectiveTime,
		Duration:      c.Duration,
		SlotSize:      c.SlotSize,
	}
	if core.SlotSize == 0 {
		core.SlotSize = 1
	}
	if core.Duration == 0 && core.Height <= otp.MaxHeight {
		core.Duration = int64(core.Leaves()/uint64(core.SlotSize)) * core.Interval
	}
	return core
}

// CreateWalletRequest is the body of POST /v1/wallets.
type CreateWalletRequest struct {
	Address          common.Address   `json:"address"`
	Core             CoreRequest      `json:"core"`
	Standby          *CoreRequest     `json:"standby,omitempty"`
	SpendingLimit    string           `json:"spendingLimit"`
	SpendingInterval uint64           `json:"spendingInterval,omitempty"`
	RecoveryAddress  common.Address   `json:"recoveryAddress"`
	Backlinks        []common.Address `json:"backlinks,omitempty"`
}

func (r CreateWalletRequest) params() (wallet.CreateParams, error) {
	limit, err := parseAmount(r.SpendingLimit)
	if err != nil {
		return wallet.CreateParams{}, fmt.Errorf("spendingLimit: %w", err)
	}
	return wallet.CreateParams{
		Address:          r.Address,
		Core:             r.Core.core(),
		Standby:          r.Standby.core(),
		SpendingLimit:    limit,
		SpendingInterval: r.SpendingInterval,
		RecoveryAddress:  r.RecoveryAddress,
		Backlinks:        r.Backlinks,
	}, nil
}

// CommitRequest is the body of POST /v1/wallets/{address}/commits.
type CommitRequest struct {
	Hash common.Hash `json:"hash"`
}

// OperationRequest is the JSON form of a wallet operation. Amounts and ids are
// decimal strings; kind and tokenType accept their canonical names.
type OperationRequest struct {
	Kind      string         `json:"kind"`
	TokenType string         `json:"tokenType,omitempty"`
	Contract  common.Address `json:"contract"`
	TokenID   string         `json:"tokenId,omitempty"`
	Dest      common.Address `json:"dest"`
	Amount    string         `json:"amount,omitempty"`
	Data      hexutil.Bytes  `json:"data,omitempty"`
	Nonce     uint64         `json:"nonce"`
}

func (r OperationRequest) operation() (wallet.Operation, error) {
	kind, err := wallet.ParseOpKind(r.Kind)
	if err != nil {
		return wallet.Operation{}, err
	}
	tokenType := tokens.ERC20
	if strings.TrimSpace(r.TokenType) != "" {
		if tokenType, err = tokens.ParseType(r.TokenType); err != nil {
			return wallet.Operation{}, err
		}
	}
	id, err := parseAmount(r.TokenID)
	if err != nil {
		return wallet.Operation{}, fmt.Errorf("tokenId: %w", err)
	}
	amount, err := parseAmount(r.Amount)
	if err != nil {
		return wallet.Operation{}, fmt.Errorf("amount: %w", err)
	}
	return wallet.Operation{
		Kind:      kind,
		TokenType: tokenType,
		Contract:  r.Contract,
		TokenID:   *id,
		Dest:      r.Dest,
		Amount:    *amount,
		Data:      []byte(r.Data),
		Nonce:     r.Nonce,
	}, nil
}

// ProofRequest carries the revealed OTP material.
type ProofRequest struct {
	LeafIndex uint32        `json:"leafIndex"`
	Neighbors []common.Hash `json:"neighbors"`
	EOTP      common.Hash   `json:"eotp"`
}

// RevealRequest is the body of POST /v1/wallets/{address}/reveals.
type RevealRequest struct {
	CommitHash common.Hash      `json:"commitHash"`
	Operation  OperationRequest `json:"operation"`
	Proof      ProofRequest     `json:"proof"`
}

func (r RevealRequest) request() (wallet.RevealRequest, error) {
	op, err := r.Operation.operation()
	if err != nil {
		return wallet.RevealRequest{}, err
	}
	return wallet.RevealRequest{
		CommitHash: r.CommitHash,
		Operation:  op,
		Proof: otp.Proof{
			LeafIndex: r.Proof.LeafIndex,
			Neighbors: r.Proof.Neighbors,
			EOTP:      r.Proof.EOTP,
		},
	}, nil
}

// TokenKeyJSON is the wire form of a tracked asset.
type TokenKeyJSON struct {
	Type     string         `json:"type"`
	Contract common.Address `json:"contract"`
	TokenID  string         `json:"tokenId"`
}

func newTokenKeyJSON(k tokens.Key) TokenKeyJSON {
	return TokenKeyJSON{Type: k.Type.String(), Contract: k.Contract, TokenID: k.TokenID.Dec()}
}

func (k TokenKeyJSON) key() (tokens.Key, error) {
	t, err := tokens.ParseType(k.Type)
	if err != nil {
		return tokens.Key{}, err
	}
	id, err := parseAmount(k.TokenID)
	if err != nil {
		return tokens.Key{}, fmt.Errorf("tokenId: %w", err)
	}
	return tokens.NewKey(t, k.Contract, id), nil
}

// RecoverSelectedRequest is the body of POST /v1/wallets/{address}/recover-selected.
// Signature is the recovery address's secp256k1 signature over
// RecoverSelectedDigest(wallet, Expiry, Tokens).
type RecoverSelectedRequest struct {
	Tokens    []TokenKeyJSON `json:"tokens"`
	Expiry    int64          `json:"expiry"`
	Signature hexutil.Bytes  `json:"signature"`
}

// CommitJSON is the wire form of a stored commitment.
type CommitJSON struct {
	Hash      common.Hash `json:"hash"`
	Timestamp int64       `json:"timestamp"`
	Completed bool        `json:"completed"`
}

func newCommitJSON(c commit.Commit) CommitJSON {
	return CommitJSON{Hash: c.Hash, Timestamp: c.Timestamp, Completed: c.Completed}
}

// SpendingJSON is the wire form of the spending window.
type SpendingJSON struct {
	SpentAmount          string `json:"spentAmount"`
	LastSpendingInterval uint64 `json:"lastSpendingInterval"`
	Limit                string `json:"limit"`
	HighestSpendingLimit string `json:"highestSpendingLimit"`
	PendingLimit         string `json:"pendingLimit,omitempty"`
	LimitEffectiveTime   int64  `json:"limitEffectiveTime,omitempty"`
	SpendingInterval     uint64 `json:"spendingInterval"`
	Remaining            string `json:"remaining"`
}

func newSpendingJSON(s spending.State, now int64) SpendingJSON {
	out := SpendingJSON{
		SpentAmount:          s.SpentAmount.Dec(),
		LastSpendingInterval: s.LastSpendingInterval,
		Limit:                s.Limit.Dec(),
		HighestSpendingLimit: s.HighestSpendingLimit.Dec(),
		SpendingInterval:     s.SpendingInterval,
	}
	if s.HasPendingRaise() {
		out.PendingLimit = s.PendingLimit.Dec()
		out.LimitEffectiveTime = s.LimitEffectiveTime
	}
	remaining := spending.Remaining(s, now)
	out.Remaining = remaining.Dec()
	return out
}

// EventJSON is one journal row.
type EventJSON struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt int64             `json:"recordedAt"`
}

// ErrorResponse is written for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
}

// parseAmount reads a decimal or 0x-prefixed hex quantity. Empty means zero.
func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(uint256.Int), nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		return uint256.FromHex(raw)
	}
	return uint256.FromDecimal(raw)
}
