package otp_test

import (
	"errors"
	"testing"

	"otpwallet/crypto"
	"otpwallet/native/otp"
	"otpwallet/native/otp/otptest"
)

func TestUsageConsumesLeavesInOrder(t *testing.T) {
	tree := otptest.New(crypto.Keccak256(), 4, "usage")
	core := tree.Core(testEffective, testInterval, 4)

	var u otp.Usage
	for i := uint32(0); i < 4; i++ {
		if err := u.Check(core, i); err != nil {
			t.Fatalf("leaf %d: %v", i, err)
		}
		u = u.Consume(core, i)
	}
	if u.Slot != 0 || u.Used != 4 {
		t.Fatalf("usage = %+v", u)
	}
	if _, ok := u.Expected(core, 0); ok {
		t.Fatalf("slot 0 should be exhausted")
	}
	if err := u.Check(core, 3); !errors.Is(err, otp.ErrLeafUsed) {
		t.Fatalf("reused leaf: %v", err)
	}
	if next, ok := u.Expected(core, 1); !ok || next != 4 {
		t.Fatalf("next leaf in slot 1 = %d, %v", next, ok)
	}
}

func TestUsageRejectsReuseAndSkips(t *testing.T) {
	tree := otptest.New(crypto.Keccak256(), 4, "usage")
	core := tree.Core(testEffective, testInterval, 2)

	var u otp.Usage
	if err := u.Check(core, 1); !errors.Is(err, otp.ErrLeafUsed) {
		t.Fatalf("skipping leaf 0 must fail: %v", err)
	}
	u = u.Consume(core, 0)
	if err := u.Check(core, 0); !errors.Is(err, otp.ErrLeafUsed) {
		t.Fatalf("reused leaf 0: %v", err)
	}
	// Moving to a later slot starts at its first leaf.
	if err := u.Check(core, 6); !errors.Is(err, otp.ErrLeafUsed) {
		t.Fatalf("second leaf of slot 3 before the first: %v", err)
	}
	if err := u.Check(core, 5); err == nil {
		t.Fatalf("leaf 5 is the second leaf of slot 2")
	}
	if err := u.Check(core, 4); err != nil {
		t.Fatalf("first leaf of slot 2: %v", err)
	}
	u = u.Consume(core, 4)
	if u.Slot != 2 || u.Used != 1 {
		t.Fatalf("usage = %+v", u)
	}
	// Earlier slots are closed once a later one was used.
	if err := u.Check(core, 1); !errors.Is(err, otp.ErrLeafUsed) {
		t.Fatalf("going back to slot 0: %v", err)
	}
	if errors.Is(otp.ErrLeafUsed, otp.ErrBadProof) {
		t.Fatalf("leaf reuse is not a proof failure")
	}
}

func TestUsageStopsAtTreeEnd(t *testing.T) {
	tree := otptest.New(crypto.Keccak256(), 2, "usage")
	core := tree.Core(testEffective, testInterval, 1)
	if _, ok := (otp.Usage{}).Expected(core, 4); ok {
		t.Fatalf("slot past the last leaf must have no leaf")
	}
}
