package spending

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

const day = int64(86400)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestCheckAndSpendWithinWindow(t *testing.T) {
	s := NewState(u(100), 0)
	if s.SpendingInterval != DefaultInterval {
		t.Fatalf("expected default interval, got %d", s.SpendingInterval)
	}

	next, err := CheckAndSpend(s, u(60), 10*day)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.SpentAmount.Uint64() != 60 || next.LastSpendingInterval != 10 {
		t.Fatalf("unexpected state: %+v", next)
	}

	denied, err := CheckAndSpend(next, u(41), 10*day+5)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("state must be unchanged on denial")
	}

	full, err := CheckAndSpend(next, u(40), 10*day+5)
	if err != nil {
		t.Fatalf("spending up to the limit: %v", err)
	}
	if rem := Remaining(full, 10*day+6); !rem.IsZero() {
		t.Fatalf("expected nothing remaining, got %s", rem.Dec())
	}
}

func TestCheckAndSpendResetsOnNewInterval(t *testing.T) {
	s := NewState(u(100), 86400)
	s, err := CheckAndSpend(s, u(90), 3*day+100)
	if err != nil {
		t.Fatalf("first spend: %v", err)
	}
	s, err = CheckAndSpend(s, u(90), 4*day+1)
	if err != nil {
		t.Fatalf("spend in the next window should reset: %v", err)
	}
	if s.SpentAmount.Uint64() != 90 || s.LastSpendingInterval != 4 {
		t.Fatalf("unexpected state after reset: %+v", s)
	}
}

func TestCheckAndSpendOverflow(t *testing.T) {
	top := new(uint256.Int).SetAllOne()
	s := NewState(top, 0)
	s, err := CheckAndSpend(s, top, day)
	if err != nil {
		t.Fatalf("spend top: %v", err)
	}
	if _, err := CheckAndSpend(s, u(1), day); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
}

func TestChangeLimitLowerIsImmediate(t *testing.T) {
	s := NewState(u(100), 0)
	s, err := ChangeLimit(s, u(10), day)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if s.Limit.Uint64() != 10 || s.HighestSpendingLimit.Uint64() != 100 {
		t.Fatalf("unexpected limits after lowering: %+v", s)
	}
	if _, err := CheckAndSpend(s, u(11), day); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("lowered limit not enforced: %v", err)
	}
}

func TestChangeLimitRaiseIsTimeLocked(t *testing.T) {
	s := NewState(u(100), 0)
	s, err := ChangeLimit(s, u(500), day)
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	if !s.HasPendingRaise() || s.Limit.Uint64() != 100 || s.LimitEffectiveTime != 2*day {
		t.Fatalf("raise should be pending: %+v", s)
	}
	if _, err := CheckAndSpend(s, u(200), day+10); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("pending raise applied early: %v", err)
	}
	s, err = CheckAndSpend(s, u(200), 2*day)
	if err != nil {
		t.Fatalf("matured raise not applied: %v", err)
	}
	if s.Limit.Uint64() != 500 || s.HighestSpendingLimit.Uint64() != 500 || s.HasPendingRaise() {
		t.Fatalf("unexpected state after maturity: %+v", s)
	}
}

func TestChangeLimitLowerCancelsPendingRaise(t *testing.T) {
	s := NewState(u(100), 0)
	s, _ = ChangeLimit(s, u(500), day)
	s, err := ChangeLimit(s, u(50), day+1)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if s.HasPendingRaise() {
		t.Fatalf("lowering must cancel the pending raise")
	}
	s = s.Settle(10 * day)
	if s.Limit.Uint64() != 50 {
		t.Fatalf("cancelled raise resurfaced: %s", s.Limit.Dec())
	}
}

func TestJumpLimit(t *testing.T) {
	s := NewState(u(100), 0)
	s, _ = ChangeLimit(s, u(5), day)
	s, err := JumpLimit(s, u(100), day+1)
	if err != nil {
		t.Fatalf("jump: %v", err)
	}
	if s.Limit.Uint64() != 100 {
		t.Fatalf("jump did not restore limit: %s", s.Limit.Dec())
	}
	if _, err := JumpLimit(s, u(101), day+2); !errors.Is(err, ErrAboveHighest) {
		t.Fatalf("expected ErrAboveHighest, got %v", err)
	}
}
