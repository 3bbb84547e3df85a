package otp

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// MaxHeight bounds the tree so leaf indices fit in uint32.
const MaxHeight = 32

var ErrInvalidCore = errors.New("otp: invalid core")

// Core describes one pre-committed OTP tree: its Merkle root and the time
// schedule its leaves are bound to. A wallet holds two cores, the active one
// and a standby that DISPLACE promotes.
type Core struct {
	Root          common.Hash
	Height        uint8
	Interval      int64  // seconds covered by one slot
	EffectiveTime int64  // unix seconds of slot 0
	Duration      int64  // seconds the root stays valid
	SlotSize      uint32 // leaves (operations) per slot
}

// IsZero reports whether the slot is empty.
func (c Core) IsZero() bool {
	return c.Root == (common.Hash{})
}

// Validate checks the structural constraints of the schedule.
func (c Core) Validate() error {
	if c.IsZero() {
		return fmt.Errorf("%w: root must be set", ErrInvalidCore)
	}
	if c.Height > MaxHeight {
		return fmt.Errorf("%w: height %d exceeds %d", ErrInvalidCore, c.Height, MaxHeight)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidCore)
	}
	if c.Duration < c.Interval {
		return fmt.Errorf("%w: duration shorter than one interval", ErrInvalidCore)
	}
	if c.EffectiveTime < 0 {
		return fmt.Errorf("%w: negative effective time", ErrInvalidCore)
	}
	if c.SlotSize == 0 {
		return fmt.Errorf("%w: slot size must be positive", ErrInvalidCore)
	}
	return nil
}

// Expired reports whether the validity window has closed at now.
func (c Core) Expired(now int64) bool {
	return now >= c.EffectiveTime+c.Duration
}

// Leaves is the number of leaves in the tree.
func (c Core) Leaves() uint64 {
	return uint64(1) << c.Height
}

// Slots is the number of whole slots inside the validity window.
func (c Core) Slots() uint64 {
	if c.Interval <= 0 || c.Duration <= 0 {
		return 0
	}
	return uint64(c.Duration / c.Interval)
}

// SlotOf maps a leaf index onto its time slot.
func (c Core) SlotOf(leafIndex uint32) uint64 {
	size := c.SlotSize
	if size == 0 {
		size = 1
	}
	return uint64(leafIndex / size)
}

// SlotStart returns the unix time at which slot begins. The second result is
// false when the slot lies outside the validity window.
func (c Core) SlotStart(slot uint64) (int64, bool) {
	if slot >= c.Slots() {
		return 0, false
	}
	return c.EffectiveTime + int64(slot)*c.Interval, true
}

// SlotAt returns the slot containing ts, or false before EffectiveTime.
func (c Core) SlotAt(ts int64) (uint64, bool) {
	if c.Interval <= 0 || ts < c.EffectiveTime {
		return 0, false
	}
	return uint64((ts - c.EffectiveTime) / c.Interval), true
}
