package wallet_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"otpwallet/crypto"
	"otpwallet/native/tokens"
	"otpwallet/native/wallet"
)

func TestOperationHashBindsEveryField(t *testing.T) {
	hasher := crypto.Keccak256()
	base := wallet.Operation{
		Kind:      wallet.OpTransferToken,
		TokenType: tokens.ERC1155,
		Contract:  tokenA,
		TokenID:   amount(7),
		Dest:      payee,
		Amount:    amount(3),
		Data:      []byte{0x01},
		Nonce:     4,
	}
	ref, err := base.Hash(hasher)
	require.NoError(t, err)

	mutations := map[string]func(*wallet.Operation){
		"kind":     func(op *wallet.Operation) { op.Kind = wallet.OpTransfer },
		"type":     func(op *wallet.Operation) { op.TokenType = tokens.ERC721 },
		"contract": func(op *wallet.Operation) { op.Contract = tokenB },
		"id":       func(op *wallet.Operation) { op.TokenID = amount(8) },
		"dest":     func(op *wallet.Operation) { op.Dest = recoveryAddr },
		"amount":   func(op *wallet.Operation) { op.Amount = amount(4) },
		"data":     func(op *wallet.Operation) { op.Data = []byte{0x02} },
		"nonce":    func(op *wallet.Operation) { op.Nonce = 5 },
	}
	for name, mutate := range mutations {
		op := base.Clone()
		mutate(&op)
		got, err := op.Hash(hasher)
		require.NoError(t, err)
		require.NotEqual(t, ref, got, name)
	}

	enc, err := base.Encode()
	require.NoError(t, err)
	decoded, err := wallet.DecodeOperation(enc)
	require.NoError(t, err)
	require.Equal(t, base, decoded)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := wallet.DecodeOperation([]byte{0xff, 0x00})
	require.ErrorIs(t, err, wallet.ErrInvalidOperation)
	_, err = wallet.DecodeBatch([]byte{0x01})
	require.ErrorIs(t, err, wallet.ErrInvalidOperation)
	_, err = wallet.DecodeAddresses([]byte{0xc1})
	require.ErrorIs(t, err, wallet.ErrInvalidOperation)
}

func TestTokenKeyListNormalises(t *testing.T) {
	keys := []tokens.Key{
		{Type: tokens.ERC20, Contract: tokenA, TokenID: *uint256.NewInt(99)},
		tokens.NewKey(tokens.ERC721, tokenB, uint256.NewInt(1)),
	}
	data, err := wallet.EncodeTokenKeys(keys)
	require.NoError(t, err)
	got, err := wallet.DecodeTokenKeys(data)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].TokenID.IsZero(), "fungible ids are dropped")
	require.Equal(t, keys[1], got[1])
}

func TestParseOpKind(t *testing.T) {
	for k := wallet.OpTrack; k <= wallet.OpJumpSpendingLimit; k++ {
		parsed, err := wallet.ParseOpKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
	kind, err := wallet.ParseOpKind(" transfer ")
	require.NoError(t, err)
	require.Equal(t, wallet.OpTransfer, kind)

	_, err = wallet.ParseOpKind("SELFDESTRUCT")
	require.ErrorIs(t, err, wallet.ErrUnknownKind)
	require.False(t, wallet.OpKind(26).Valid())
	require.Equal(t, "OpKind(200)", wallet.OpKind(200).String())
}

func TestUnknownKindIsPreconditionFailure(t *testing.T) {
	h := newHarness(t)
	op := wallet.Operation{Kind: wallet.OpKind(40), Dest: common.Address{0x01}}
	err := h.apply(op)
	require.ErrorIs(t, err, wallet.ErrUnknownKind)
	require.Zero(t, h.nonce())
}
