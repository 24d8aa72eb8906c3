package indicator

import (
	"math"
	"testing"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func series(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestRSI_InsufficientData(t *testing.T) {
	// Exactly `period` closes gives period-1 deltas — not enough.
	if _, ok := RSI(series(100, 1, 14), 14); ok {
		t.Error("RSI with len==period should not be defined")
	}
	if _, ok := RSI(nil, 14); ok {
		t.Error("RSI on empty series should not be defined")
	}
	// period+1 closes is the minimum defined input.
	if _, ok := RSI(series(100, 1, 15), 14); !ok {
		t.Error("RSI with len==period+1 should be defined")
	}
}

func TestRSI_FlatSeriesIs50(t *testing.T) {
	v, ok := RSI(series(42, 0, 30), 14)
	if !ok {
		t.Fatal("RSI not defined")
	}
	assertClose(t, "RSI(flat)", v, 50, 1e-9)
}

func TestRSI_MonotonicGainsIs100(t *testing.T) {
	// 100 bars rising 1 unit per bar: zero losses, RSI(14) = 100.
	v, ok := RSI(series(100, 1, 100), 14)
	if !ok {
		t.Fatal("RSI not defined")
	}
	assertClose(t, "RSI(all gains)", v, 100, 1e-9)
}

func TestRSI_MonotonicLossesNearZero(t *testing.T) {
	v, ok := RSI(series(1000, -1, 100), 14)
	if !ok {
		t.Fatal("RSI not defined")
	}
	assertClose(t, "RSI(all losses)", v, 0, 1e-9)
}

func TestRSI_KnownValue(t *testing.T) {
	// Wilder's worked example from "New Concepts in Technical Trading
	// Systems"-style data: 14-period RSI on a hand-checked series.
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28,
	}
	v, ok := RSI(closes, 14)
	if !ok {
		t.Fatal("RSI not defined")
	}
	// Standard reference value for this series.
	assertClose(t, "RSI(14)", v, 70.46, 0.05)
}

func TestRSI_SmoothingContinues(t *testing.T) {
	// Adding a forming bar must change the value: the series includes
	// the current bar.
	base := series(100, 1, 30)
	v1, _ := RSI(base, 14)
	v2, _ := RSI(append(append([]float64(nil), base...), base[len(base)-1]-5), 14)
	if v1 == v2 {
		t.Error("forming bar should influence RSI")
	}
	if v2 >= v1 {
		t.Errorf("a down bar should lower RSI: %f -> %f", v1, v2)
	}
}

func TestWindowChange(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		window int
		want   float64
		ok     bool
	}{
		{"flat", series(50, 0, 10), 4, 0, true},
		{"up 10%", []float64{100, 101, 102, 110}, 3, 10, true},
		{"insufficient", []float64{1, 2}, 4, 0, false},
		{"zero base", []float64{0, 1, 2}, 2, 0, false},
		{"exact length", []float64{200, 100}, 1, -50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := WindowChange(tt.closes, tt.window)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok {
				assertClose(t, "change", got, tt.want, 1e-9)
			}
		})
	}
}

func TestWindowChange_BarIndexedNotCalendar(t *testing.T) {
	// Change is measured in bar offsets, not calendar days: 8 bars,
	// window 7 → base is the first bar.
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 110}
	got, ok := WindowChange(closes, 7)
	if !ok {
		t.Fatal("not defined")
	}
	assertClose(t, "change7", got, (110.0-100.0)/100.0*100.0, 1e-9)
}

func TestSparkline(t *testing.T) {
	s := Sparkline(series(1, 1, 10), 4)
	if len(s) != 4 {
		t.Fatalf("len = %d, want 4", len(s))
	}
	assertClose(t, "first", s[0], 7, 1e-9)
	assertClose(t, "last", s[3], 10, 1e-9)

	if got := Sparkline([]float64{1, 2}, 5); len(got) != 2 {
		t.Errorf("short series should be returned whole, got len %d", len(got))
	}
	if got := Sparkline(nil, 5); got != nil {
		t.Errorf("empty series should yield nil")
	}

	// Returned slice must be a copy.
	src := series(1, 1, 5)
	got := Sparkline(src, 3)
	got[0] = -1
	if src[2] == -1 {
		t.Error("Sparkline must not alias the input")
	}
}
