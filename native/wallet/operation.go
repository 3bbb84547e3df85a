package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"otpwallet/crypto"
	"otpwallet/native/otp"
	"otpwallet/native/tokens"
)

type operationRLP struct {
	Kind      uint8
	TokenType uint8
	Contract  common.Address
	TokenID   *big.Int
	Dest      common.Address
	Amount    *big.Int
	Data      []byte
	Nonce     uint64
}

type tokenKeyRLP struct {
	Type     uint8
	Contract common.Address
	TokenID  *big.Int
}

type coreRLP struct {
	Root          common.Hash
	Height        uint8
	Interval      uint64
	EffectiveTime uint64
	Duration      uint64
	SlotSize      uint32
}

func toUint256(v *big.Int) (uint256.Int, error) {
	var out uint256.Int
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 {
		return out, fmt.Errorf("%w: negative integer", ErrInvalidOperation)
	}
	if out.SetFromBig(v) {
		return out, fmt.Errorf("%w: integer overflows 256 bits", ErrInvalidOperation)
	}
	return out, nil
}

func (op Operation) toRLP() operationRLP {
	return operationRLP{
		Kind:      uint8(op.Kind),
		TokenType: uint8(op.TokenType),
		Contract:  op.Contract,
		TokenID:   op.TokenID.ToBig(),
		Dest:      op.Dest,
		Amount:    op.Amount.ToBig(),
		Data:      op.Data,
		Nonce:     op.Nonce,
	}
}

func operationFromRLP(dto operationRLP) (Operation, error) {
	tokenID, err := toUint256(dto.TokenID)
	if err != nil {
		return Operation{}, err
	}
	amount, err := toUint256(dto.Amount)
	if err != nil {
		return Operation{}, err
	}
	return Operation{
		Kind:      OpKind(dto.Kind),
		TokenType: tokens.Type(dto.TokenType),
		Contract:  dto.Contract,
		TokenID:   tokenID,
		Dest:      dto.Dest,
		Amount:    amount,
		Data:      dto.Data,
		Nonce:     dto.Nonce,
	}, nil
}

// Encode returns the canonical byte form the operation hash is taken over.
func (op Operation) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(op.toRLP())
}

// Hash is the operation digest a client binds into its commitment.
func (op Operation) Hash(h crypto.Hasher) (common.Hash, error) {
	enc, err := op.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return h.Hash(enc), nil
}

// DecodeOperation parses the canonical form produced by Encode.
func DecodeOperation(b []byte) (Operation, error) {
	var dto operationRLP
	if err := rlp.DecodeBytes(b, &dto); err != nil {
		return Operation{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return operationFromRLP(dto)
}

// EncodeBatch packs sub-operations into the Data of a BATCH operation.
func EncodeBatch(ops []Operation) ([]byte, error) {
	dtos := make([]operationRLP, len(ops))
	for i, op := range ops {
		dtos[i] = op.toRLP()
	}
	return rlp.EncodeToBytes(dtos)
}

// DecodeBatch unpacks BATCH data.
func DecodeBatch(b []byte) ([]Operation, error) {
	var dtos []operationRLP
	if err := rlp.DecodeBytes(b, &dtos); err != nil {
		return nil, fmt.Errorf("%w: batch: %v", ErrInvalidOperation, err)
	}
	ops := make([]Operation, len(dtos))
	for i, dto := range dtos {
		op, err := operationFromRLP(dto)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

// EncodeTokenKeys packs a key list for TRACK, UNTRACK, OVERRIDE_TRACK and
// RECOVER_SELECTED_TOKENS.
func EncodeTokenKeys(keys []tokens.Key) ([]byte, error) {
	dtos := make([]tokenKeyRLP, len(keys))
	for i, k := range keys {
		dtos[i] = tokenKeyRLP{Type: uint8(k.Type), Contract: k.Contract, TokenID: k.TokenID.ToBig()}
	}
	return rlp.EncodeToBytes(dtos)
}

// DecodeTokenKeys unpacks a key list.
func DecodeTokenKeys(b []byte) ([]tokens.Key, error) {
	var dtos []tokenKeyRLP
	if err := rlp.DecodeBytes(b, &dtos); err != nil {
		return nil, fmt.Errorf("%w: token keys: %v", ErrInvalidOperation, err)
	}
	keys := make([]tokens.Key, len(dtos))
	for i, dto := range dtos {
		id, err := toUint256(dto.TokenID)
		if err != nil {
			return nil, err
		}
		keys[i] = tokens.NewKey(tokens.Type(dto.Type), dto.Contract, &id)
	}
	return keys, nil
}

// EncodeAddresses packs a backlink list.
func EncodeAddresses(addrs []common.Address) ([]byte, error) {
	return rlp.EncodeToBytes(addrs)
}

// DecodeAddresses unpacks a backlink list.
func DecodeAddresses(b []byte) ([]common.Address, error) {
	var addrs []common.Address
	if err := rlp.DecodeBytes(b, &addrs); err != nil {
		return nil, fmt.Errorf("%w: addresses: %v", ErrInvalidOperation, err)
	}
	return addrs, nil
}

// EncodeCore packs a replacement root for DISPLACE.
func EncodeCore(c otp.Core) ([]byte, error) {
	if c.Interval < 0 || c.EffectiveTime < 0 || c.Duration < 0 {
		return nil, fmt.Errorf("%w: negative core schedule", ErrInvalidOperation)
	}
	return rlp.EncodeToBytes(coreRLP{
		Root:          c.Root,
		Height:        c.Height,
		Interval:      uint64(c.Interval),
		EffectiveTime: uint64(c.EffectiveTime),
		Duration:      uint64(c.Duration),
		SlotSize:      c.SlotSize,
	})
}

// DecodeCore unpacks DISPLACE data.
func DecodeCore(b []byte) (otp.Core, error) {
	var dto coreRLP
	if err := rlp.DecodeBytes(b, &dto); err != nil {
		return otp.Core{}, fmt.Errorf("%w: core: %v", ErrInvalidOperation, err)
	}
	const maxInt64 = uint64(1<<63 - 1)
	if dto.Interval > maxInt64 || dto.EffectiveTime > maxInt64 || dto.Duration > maxInt64 {
		return otp.Core{}, fmt.Errorf("%w: core schedule out of range", ErrInvalidOperation)
	}
	return otp.Core{
		Root:          dto.Root,
		Height:        dto.Height,
		Interval:      int64(dto.Interval),
		EffectiveTime: int64(dto.EffectiveTime),
		Duration:      int64(dto.Duration),
		SlotSize:      dto.SlotSize,
	}, nil
}
