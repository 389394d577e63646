package domain

import "math"

// Balance is an amount of the ledger's native currency in its smallest unit.
type Balance uint64

// SaturatingAdd returns b+o, clamped at the maximum representable balance.
func (b Balance) SaturatingAdd(o Balance) Balance {
	if b > math.MaxUint64-o {
		return math.MaxUint64
	}
	return b + o
}

// SaturatingSub returns b-o, clamped at zero.
func (b Balance) SaturatingSub(o Balance) Balance {
	if o > b {
		return 0
	}
	return b - o
}

func (b Balance) IsZero() bool {
	return b == 0
}

// Min returns the smaller of two balances.
func Min(a, b Balance) Balance {
	if a < b {
		return a
	}
	return b
}

// Int64 converts b for storage in signed 64-bit columns. ok is false when b
// does not fit.
func (b Balance) Int64() (v int64, ok bool) {
	if b > math.MaxInt64 {
		return 0, false
	}
	return int64(b), true
}

// BalanceFromInt64 converts a stored signed amount; negative values clamp to zero.
func BalanceFromInt64(v int64) Balance {
	if v < 0 {
		return 0
	}
	return Balance(v)
}
