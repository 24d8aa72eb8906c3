package indicator

// WindowChange returns the percent change of the last close versus the
// close `window` bars earlier. Requires at least window+1 bars; ok is
// false on insufficient history or a zero base price (never Inf/NaN).
func WindowChange(closes []float64, window int) (pct float64, ok bool) {
	if window <= 0 || len(closes) < window+1 {
		return 0, false
	}
	base := closes[len(closes)-1-window]
	if base == 0 {
		return 0, false
	}
	last := closes[len(closes)-1]
	return (last - base) / base * 100, true
}

// Sparkline returns the last n closes verbatim, for the mini price
// charts. No resampling; if the series is shorter than n the whole
// series is returned.
func Sparkline(closes []float64, n int) []float64 {
	if n <= 0 || len(closes) == 0 {
		return nil
	}
	if len(closes) > n {
		closes = closes[len(closes)-n:]
	}
	return append([]float64(nil), closes...)
}
