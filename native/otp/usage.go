package otp

import (
	"errors"
	"fmt"
)

// ErrLeafUsed rejects a leaf that was already consumed, skips ahead inside
// its slot, or lands in a slot that has no leaves left.
var ErrLeafUsed = errors.New("otp: leaf already used")

// Usage records how far the active core has been consumed. Leaves are spent
// in order: the n-th operation of slot s must present leaf s*SlotSize+n, and
// a slot authorizes at most SlotSize operations.
type Usage struct {
	Slot uint64 // slot of the last consumed leaf
	Used uint32 // leaves consumed in Slot, zero when nothing was spent
}

// Expected returns the only leaf core accepts next in slot. The second
// result is false once the slot is exhausted or already passed.
func (u Usage) Expected(core Core, slot uint64) (uint32, bool) {
	size := core.SlotSize
	if size == 0 {
		size = 1
	}
	var used uint32
	if u.Used > 0 {
		switch {
		case slot < u.Slot:
			return 0, false
		case slot == u.Slot:
			used = u.Used
		}
	}
	if used >= size {
		return 0, false
	}
	leaf := slot*uint64(size) + uint64(used)
	if leaf >= core.Leaves() {
		return 0, false
	}
	return uint32(leaf), true
}

// Check rejects any leaf other than the next unused one of its slot.
func (u Usage) Check(core Core, leafIndex uint32) error {
	slot := core.SlotOf(leafIndex)
	want, ok := u.Expected(core, slot)
	if !ok {
		return fmt.Errorf("%w: slot %d has no unused leaves", ErrLeafUsed, slot)
	}
	if leafIndex != want {
		return fmt.Errorf("%w: leaf %d presented, next unused is %d", ErrLeafUsed, leafIndex, want)
	}
	return nil
}

// Consume returns the usage after leafIndex has been spent. Callers must
// Check first.
func (u Usage) Consume(core Core, leafIndex uint32) Usage {
	slot := core.SlotOf(leafIndex)
	if u.Used > 0 && slot == u.Slot {
		u.Used++
		return u
	}
	return Usage{Slot: slot, Used: 1}
}
