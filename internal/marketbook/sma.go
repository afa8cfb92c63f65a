package marketbook

import "github.com/shopspring/decimal"

// sma computes the simple moving average over the last `period`
// entries of closes (oldest first). Returns nil if fewer than period
// closes are available — SMA200 is routinely undefined early in a
// session, and the caller must treat that as "leave it undefined",
// not zero.
func sma(closes []float64, period int) *decimal.Decimal {
	if len(closes) < period {
		return nil
	}

	window := closes[len(closes)-period:]
	var sum float64
	for _, c := range window {
		sum += c
	}
	avg := decimal.NewFromFloat(sum / float64(period))
	return &avg
}

// recomputeIndicators rebuilds the SMA25/50/100/200 cluster from a
// timeframe's closed-candle closes. Called exactly once per primary
// candle close.
func recomputeIndicators(closes []float64) IndicatorSet {
	return IndicatorSet{
		SMA25:  sma(closes, 25),
		SMA50:  sma(closes, 50),
		SMA100: sma(closes, 100),
		SMA200: sma(closes, 200),
	}
}
