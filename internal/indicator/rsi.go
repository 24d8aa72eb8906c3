// Package indicator provides pure technical-indicator calculations over
// pre-fetched close-price series. Nothing here performs I/O or holds
// state; inputs arrive oldest-first, exactly as the candle endpoints
// return them.
package indicator

// RSI calculates the Relative Strength Index using Wilder's smoothing
// method over the given close series. Requires len(closes) >= period+1;
// ok is false otherwise.
//
// The caller passes the series including the current, still-forming bar.
// That matches the value the providers display on their own charts; do
// not trim to closed bars.
func RSI(closes []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64

	// SMA seed over the first `period` deltas.
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	// Wilder's smoothing for the remainder:
	// avg = (avg*(period-1) + new) / period
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50, true // flat series
		}
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}
