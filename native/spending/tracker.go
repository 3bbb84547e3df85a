package spending

import (
	"errors"

	"github.com/holiman/uint256"
)

// DefaultInterval is the length of one spending window in seconds.
const DefaultInterval uint64 = 86400

var (
	ErrLimitExceeded   = errors.New("spending: limit exceeded")
	ErrAmountOverflow  = errors.New("spending: amount overflow")
	ErrInvalidInterval = errors.New("spending: interval must be positive")
	ErrNegativeTime    = errors.New("spending: negative timestamp")
	ErrAboveHighest    = errors.New("spending: limit above highest authorised limit")
)

// State is the rolling spending window of one wallet. PendingLimit holds a
// raise that becomes the limit at LimitEffectiveTime; zero means none.
type State struct {
	SpentAmount          uint256.Int
	LastSpendingInterval uint64
	Limit                uint256.Int
	HighestSpendingLimit uint256.Int
	PendingLimit         uint256.Int
	LimitEffectiveTime   int64
	SpendingInterval     uint64
}

// NewState opens a window with the given limit. A zero interval selects
// DefaultInterval.
func NewState(limit *uint256.Int, interval uint64) State {
	if interval == 0 {
		interval = DefaultInterval
	}
	var s State
	if limit != nil {
		s.Limit.Set(limit)
		s.HighestSpendingLimit.Set(limit)
	}
	s.SpendingInterval = interval
	return s
}

// HasPendingRaise reports whether a time-locked raise is waiting.
func (s State) HasPendingRaise() bool {
	return !s.PendingLimit.IsZero()
}

// Settle promotes a matured pending raise. It is applied lazily by every
// operation that reads the limit.
func (s State) Settle(now int64) State {
	if !s.HasPendingRaise() || now < s.LimitEffectiveTime {
		return s
	}
	s.Limit.Set(&s.PendingLimit)
	s.PendingLimit.Clear()
	if s.Limit.Gt(&s.HighestSpendingLimit) {
		s.HighestSpendingLimit.Set(&s.Limit)
	}
	return s
}

func (s State) interval(now int64) (uint64, error) {
	if s.SpendingInterval == 0 {
		return 0, ErrInvalidInterval
	}
	if now < 0 {
		return 0, ErrNegativeTime
	}
	return uint64(now) / s.SpendingInterval, nil
}

// CheckAndSpend adds amount to the current window. On rejection the previous
// state is returned unchanged.
func CheckAndSpend(prev State, amount *uint256.Int, now int64) (State, error) {
	current, err := prev.interval(now)
	if err != nil {
		return prev, err
	}
	next := prev.Settle(now)
	if next.LastSpendingInterval != current {
		next.SpentAmount.Clear()
		next.LastSpendingInterval = current
	}
	if amount == nil || amount.IsZero() {
		return next, nil
	}
	var total uint256.Int
	if _, overflow := total.AddOverflow(&next.SpentAmount, amount); overflow {
		return prev, ErrAmountOverflow
	}
	if total.Gt(&next.Limit) {
		return prev, ErrLimitExceeded
	}
	next.SpentAmount.Set(&total)
	return next, nil
}

// Remaining is what can still be spent in the window containing now.
func Remaining(s State, now int64) uint256.Int {
	current, err := s.interval(now)
	if err != nil {
		return uint256.Int{}
	}
	s = s.Settle(now)
	var out uint256.Int
	if s.LastSpendingInterval != current {
		out.Set(&s.Limit)
		return out
	}
	if s.SpentAmount.Gt(&s.Limit) {
		return out
	}
	out.Sub(&s.Limit, &s.SpentAmount)
	return out
}

// ChangeLimit lowers the limit immediately, cancelling any pending raise, or
// schedules a raise one spending interval from now.
func ChangeLimit(prev State, limit *uint256.Int, now int64) (State, error) {
	if prev.SpendingInterval == 0 {
		return prev, ErrInvalidInterval
	}
	if now < 0 {
		return prev, ErrNegativeTime
	}
	next := prev.Settle(now)
	if !limit.Gt(&next.Limit) {
		next.Limit.Set(limit)
		next.PendingLimit.Clear()
		next.LimitEffectiveTime = now
		return next, nil
	}
	delay := next.SpendingInterval
	if delay > uint64(1<<62) {
		delay = 1 << 62
	}
	next.PendingLimit.Set(limit)
	next.LimitEffectiveTime = now + int64(delay)
	return next, nil
}

// JumpLimit restores any limit up to the highest one previously in force,
// without a timelock. A pending raise is dropped.
func JumpLimit(prev State, limit *uint256.Int, now int64) (State, error) {
	next := prev.Settle(now)
	if limit.Gt(&next.HighestSpendingLimit) {
		return prev, ErrAboveHighest
	}
	next.Limit.Set(limit)
	next.PendingLimit.Clear()
	next.LimitEffectiveTime = now
	return next, nil
}
