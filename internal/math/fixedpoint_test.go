package math_test

import (
	gomath "math"
	"testing"

	fpmath "CoffeeFutures/internal/math"
)

func TestCheckedOps(t *testing.T) {
	if v, ok := fpmath.CheckedAdd(1, 2); !ok || v != 3 {
		t.Errorf("CheckedAdd(1,2) = %d,%v", v, ok)
	}
	if _, ok := fpmath.CheckedAdd(gomath.MaxUint64, 1); ok {
		t.Error("CheckedAdd overflow not detected")
	}

	if v, ok := fpmath.CheckedSub(5, 3); !ok || v != 2 {
		t.Errorf("CheckedSub(5,3) = %d,%v", v, ok)
	}
	if _, ok := fpmath.CheckedSub(3, 5); ok {
		t.Error("CheckedSub underflow not detected")
	}

	if v, ok := fpmath.CheckedMul(6, 7); !ok || v != 42 {
		t.Errorf("CheckedMul(6,7) = %d,%v", v, ok)
	}
	if _, ok := fpmath.CheckedMul(gomath.MaxUint64, 2); ok {
		t.Error("CheckedMul overflow not detected")
	}
	if v, ok := fpmath.CheckedMul(0, gomath.MaxUint64); !ok || v != 0 {
		t.Errorf("CheckedMul(0,max) = %d,%v", v, ok)
	}
}

func TestMulBps_RoundsDown(t *testing.T) {
	// 15000 * 10% = 1500 exactly
	if v, ok := fpmath.MulBps(15_000, 1_000); !ok || v != 1_500 {
		t.Errorf("MulBps(15000,1000) = %d,%v", v, ok)
	}
	// 999 * 0.5% = 4.995 -> 4
	if v, ok := fpmath.MulBps(999, 50); !ok || v != 4 {
		t.Errorf("MulBps(999,50) = %d,%v, want 4", v, ok)
	}
}

func TestCeilBps_RoundsUp(t *testing.T) {
	// 999 * 0.5% = 4.995 -> 5
	if v, ok := fpmath.CeilBps(999, 50); !ok || v != 5 {
		t.Errorf("CeilBps(999,50) = %d,%v, want 5", v, ok)
	}
	// Exact quotients do not round up.
	if v, ok := fpmath.CeilBps(10_000, 1_000); !ok || v != 1_000 {
		t.Errorf("CeilBps(10000,1000) = %d,%v, want 1000", v, ok)
	}
}

func TestMulDiv_128BitIntermediate(t *testing.T) {
	// a*b overflows uint64 but the quotient fits.
	big := uint64(1) << 62
	v, ok := fpmath.MulDiv(big, 4, 8, fpmath.RoundDown)
	if !ok || v != big/2 {
		t.Errorf("MulDiv 128-bit = %d,%v, want %d", v, ok, big/2)
	}

	if _, ok := fpmath.MulDiv(1, 1, 0, fpmath.RoundDown); ok {
		t.Error("division by zero not detected")
	}
	// Quotient exceeding uint64 is reported.
	if _, ok := fpmath.MulDiv(gomath.MaxUint64, 3, 1, fpmath.RoundDown); ok {
		t.Error("oversized quotient not detected")
	}
}

func TestLongPnL(t *testing.T) {
	abs, buyerWins, ok := fpmath.LongPnL(1_500, 1_800, 10)
	if !ok || abs != 3_000 || !buyerWins {
		t.Errorf("LongPnL up: abs=%d buyerWins=%v ok=%v", abs, buyerWins, ok)
	}

	abs, buyerWins, ok = fpmath.LongPnL(1_500, 1_200, 10)
	if !ok || abs != 3_000 || buyerWins {
		t.Errorf("LongPnL down: abs=%d buyerWins=%v ok=%v", abs, buyerWins, ok)
	}

	abs, _, ok = fpmath.LongPnL(1_500, 1_500, 10)
	if !ok || abs != 0 {
		t.Errorf("LongPnL flat: abs=%d ok=%v", abs, ok)
	}
}

func TestScaleToFit(t *testing.T) {
	// Fits: amounts unchanged.
	out, total, ok := fpmath.ScaleToFit([]uint64{90, 45, 45, 180}, 1_500)
	if !ok || total != 360 {
		t.Fatalf("fit case: total=%d ok=%v", total, ok)
	}
	for i, want := range []uint64{90, 45, 45, 180} {
		if out[i] != want {
			t.Errorf("fit case slice %d: got %d, want %d", i, out[i], want)
		}
	}

	// Short vault: factor = floor(180*10000/360) = 5000 bps -> halves.
	out, total, ok = fpmath.ScaleToFit([]uint64{90, 45, 45, 180}, 180)
	if !ok {
		t.Fatal("scale case failed")
	}
	if total > 180 {
		t.Errorf("scaled total %d exceeds available 180", total)
	}
	for i, want := range []uint64{45, 22, 22, 90} {
		if out[i] != want {
			t.Errorf("scale case slice %d: got %d, want %d", i, out[i], want)
		}
	}

	// Proportions survive scaling: protocol stays twice the farmer slice.
	if out[0] != 2*out[1]+1 && out[0] != 2*out[1] {
		t.Errorf("proportions lost: %v", out)
	}
}

func TestPow10(t *testing.T) {
	if v, ok := fpmath.Pow10(0); !ok || v != 1 {
		t.Errorf("Pow10(0) = %d,%v", v, ok)
	}
	if v, ok := fpmath.Pow10(6); !ok || v != 1_000_000 {
		t.Errorf("Pow10(6) = %d,%v", v, ok)
	}
	if _, ok := fpmath.Pow10(20); ok {
		t.Error("Pow10(20) should overflow")
	}
}
