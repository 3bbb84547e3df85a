package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nativecommon "otpwallet/native/common"
	"otpwallet/native/tokens"
	"otpwallet/native/wallet"
)

const recoverSelectedTag = "otpwallet/recover-selected/v1"

var errRequestExpired = errors.New("rpc: signed request expired")

// RecoverSelectedDigest is the hash the recovery address signs to authorize a
// selected-token sweep of walletAddr. The signature is valid until expiry
// (unix seconds).
func RecoverSelectedDigest(walletAddr common.Address, expiry int64, keys []tokens.Key) (common.Hash, error) {
	encoded, err := wallet.EncodeTokenKeys(keys)
	if err != nil {
		return common.Hash{}, err
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(expiry))
	return ethcrypto.Keccak256Hash([]byte(recoverSelectedTag), walletAddr.Bytes(), ts[:], encoded), nil
}

// signerOf recovers the address behind a 65-byte [R || S || V] signature.
// V may be 0/1 or 27/28.
func signerOf(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, badRequest("signature must be %d bytes, got %d", ethcrypto.SignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[ethcrypto.RecoveryIDOffset] >= 27 {
		normalized[ethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, badRequest("signature: %v", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// authorizeRecoverSelected returns the caller that signed req.
func (s *Server) authorizeRecoverSelected(walletAddr common.Address, req RecoverSelectedRequest, keys []tokens.Key) (common.Address, error) {
	if req.Expiry < s.engine.Now() {
		return common.Address{}, nativecommon.Reject(nativecommon.ErrAuthFailure,
			fmt.Errorf("%w at %d", errRequestExpired, req.Expiry))
	}
	digest, err := RecoverSelectedDigest(walletAddr, req.Expiry, keys)
	if err != nil {
		return common.Address{}, badRequest("tokens: %v", err)
	}
	return signerOf(digest, req.Signature)
}
