package math

import (
	"math/big"
	"sync"
)

// BpsDenominator is the basis-point scale: x bps = x / 10_000.
const BpsDenominator = 10_000

// RoundingMode selects the rounding policy for fixed-point division.
type RoundingMode int

const (
	RoundDown RoundingMode = iota // default for fee slices
	RoundUp                       // margin requirements round against the user
)

// Int128 intermediates are pooled big.Ints so the hot settlement path does
// not allocate per operation.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// CheckedAdd returns a+b, reporting overflow.
func CheckedAdd(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

// CheckedSub returns a-b, reporting underflow.
func CheckedSub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

// CheckedMul returns a*b, reporting overflow.
func CheckedMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	prod := a * b
	if prod/a != b {
		return 0, false
	}
	return prod, true
}

// MulDiv computes a*b/den in 128-bit space with the given rounding mode.
// Reports false when den is zero or the result does not fit in uint64.
func MulDiv(a, b, den uint64, mode RoundingMode) (uint64, bool) {
	if den == 0 {
		return 0, false
	}

	num := getInt128()
	num.SetUint64(a)
	bb := getInt128()
	bb.SetUint64(b)
	num.Mul(num, bb)

	d := getInt128()
	d.SetUint64(den)
	rem := getInt128()
	num.DivMod(num, d, rem)

	if mode == RoundUp && rem.Sign() != 0 {
		num.Add(num, big.NewInt(1))
	}

	ok := num.IsUint64()
	var out uint64
	if ok {
		out = num.Uint64()
	}

	putInt128(num)
	putInt128(bb)
	putInt128(d)
	putInt128(rem)

	return out, ok
}

// MulBps applies a basis-point fraction rounding down: x * bps / 10_000.
func MulBps(x uint64, bps uint16) (uint64, bool) {
	return MulDiv(x, uint64(bps), BpsDenominator, RoundDown)
}

// CeilBps applies a basis-point fraction rounding up. Margin requirements use
// this so collateral never rounds in the depositor's favor.
func CeilBps(x uint64, bps uint16) (uint64, bool) {
	return MulDiv(x, uint64(bps), BpsDenominator, RoundUp)
}

// LongPnL computes (mark - agreed) * qty for the long side, returning the
// magnitude and direction separately. buyerWins is true when mark > agreed.
// Reports false when the magnitude overflows uint64.
func LongPnL(agreed, mark, qty uint64) (abs uint64, buyerWins bool, ok bool) {
	var diff uint64
	if mark >= agreed {
		diff = mark - agreed
		buyerWins = true
	} else {
		diff = agreed - mark
	}
	abs, ok = CheckedMul(diff, qty)
	return abs, buyerWins, ok
}

// ScaleToFit scales each amount by floor(available * 10_000 / sum(amounts))
// bps when the total exceeds available, preserving relative proportions. The
// rounding residual stays with the payer. Returns the scaled amounts and
// their new total.
func ScaleToFit(amounts []uint64, available uint64) ([]uint64, uint64, bool) {
	var total uint64
	for _, a := range amounts {
		var ok bool
		total, ok = CheckedAdd(total, a)
		if !ok {
			return nil, 0, false
		}
	}

	if total <= available {
		out := make([]uint64, len(amounts))
		copy(out, amounts)
		return out, total, true
	}

	factorBps, ok := MulDiv(available, BpsDenominator, total, RoundDown)
	if !ok {
		return nil, 0, false
	}

	out := make([]uint64, len(amounts))
	var scaledTotal uint64
	for i, a := range amounts {
		scaled, ok := MulDiv(a, factorBps, BpsDenominator, RoundDown)
		if !ok {
			return nil, 0, false
		}
		out[i] = scaled
		scaledTotal += scaled
	}

	return out, scaledTotal, true
}

// Pow10 returns 10^n for token-decimal scaling. Reports false for n > 19,
// which no longer fits in uint64.
func Pow10(n uint8) (uint64, bool) {
	if n > 19 {
		return 0, false
	}
	out := uint64(1)
	for i := uint8(0); i < n; i++ {
		out *= 10
	}
	return out, true
}
