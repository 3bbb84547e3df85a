package wallet

import (
	"errors"

	"otpwallet/native/commit"
	nativecommon "otpwallet/native/common"
	"otpwallet/native/otp"
	"otpwallet/native/spending"
)

var (
	ErrWalletExists        = errors.New("wallet: wallet already exists")
	ErrWalletNotFound      = errors.New("wallet: wallet not found")
	ErrWalletDisabled      = errors.New("wallet: wallet disabled")
	ErrWalletNotDisabled   = errors.New("wallet: wallet not disabled")
	ErrStaleNonce          = errors.New("wallet: stale nonce")
	ErrUnknownKind         = errors.New("wallet: unknown operation kind")
	ErrInvalidOperation    = errors.New("wallet: malformed operation")
	ErrZeroAmount          = errors.New("wallet: amount must be positive")
	ErrZeroDestination     = errors.New("wallet: destination required")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrSelfRecovery        = errors.New("wallet: recovery address cannot be the wallet")
	ErrNoRecoveryAddress   = errors.New("wallet: recovery address not set")
	ErrNotRecoveryAddress  = errors.New("wallet: caller is not the recovery address")
	ErrNoStandbyRoot       = errors.New("wallet: no standby root")
	ErrStandbyExpired      = errors.New("wallet: standby root expired")
	ErrNotBacklink         = errors.New("wallet: target is not a backlink")
	ErrTooManyBacklinks    = errors.New("wallet: too many backlinks")
	ErrTooManySignatures   = errors.New("wallet: too many signatures")
	ErrSignatureNotFound   = errors.New("wallet: signature not found")
	ErrNestedBatch         = errors.New("wallet: nested batch")
	ErrEmptyBatch          = errors.New("wallet: empty batch")
	ErrCallFailed          = errors.New("wallet: external call failed")
)

// classify wraps a reason with its rejection class. Errors that already carry
// a class pass through unchanged.
func classify(err error) error {
	if err == nil || nativecommon.Class(err) != nil {
		return err
	}
	return nativecommon.Reject(classOf(err), err)
}

func classOf(err error) error {
	switch {
	case errors.Is(err, otp.ErrBadProof),
		errors.Is(err, ErrNotRecoveryAddress):
		return nativecommon.ErrAuthFailure
	case errors.Is(err, commit.ErrCommitNotFound),
		errors.Is(err, commit.ErrAlreadyCompleted),
		errors.Is(err, commit.ErrAlreadyPending),
		errors.Is(err, commit.ErrHashMismatch),
		errors.Is(err, otp.ErrLeafUsed),
		errors.Is(err, ErrStaleNonce):
		return nativecommon.ErrReplayOrRace
	case errors.Is(err, commit.ErrTooEarly),
		errors.Is(err, commit.ErrExpired):
		return nativecommon.ErrTimingViolation
	case errors.Is(err, spending.ErrLimitExceeded),
		errors.Is(err, spending.ErrAmountOverflow),
		errors.Is(err, commit.ErrTooManyCommits):
		return nativecommon.ErrLimitExceeded
	case errors.Is(err, ErrCallFailed):
		return nativecommon.ErrExternalCallFailure
	case errors.Is(err, ErrWalletDisabled):
		return nativecommon.ErrTerminalState
	default:
		return nativecommon.ErrPreconditionFailure
	}
}

// countsAsInvalidAttempt reports whether a rejected reveal presented a wrong
// OTP or a reveal that does not open its commitment.
func countsAsInvalidAttempt(err error) bool {
	return errors.Is(err, otp.ErrBadProof) || errors.Is(err, commit.ErrHashMismatch)
}
