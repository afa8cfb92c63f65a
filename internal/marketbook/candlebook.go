package marketbook

// CandleBook holds the bounded, ordered sequence of candles for one
// timeframe, most recent last. At most the final element is ever
// "forming" (Closed == false).
type CandleBook struct {
	Granularity int
	Candles     []Candle
}

func newCandleBook(granularity int) *CandleBook {
	return &CandleBook{Granularity: granularity}
}

// ingestResult reports whether a forming-candle update resulted in a
// new candle being closed, and (if so) which one.
type ingestResult struct {
	closed      bool
	closedCandle Candle
}

// ingest applies an OHLC update. If the update's OpenEpoch matches
// the current forming candle, it overwrites it in place. Otherwise
// the previous forming candle (if any) is marked closed and the
// update becomes the new forming candle; the book is trimmed to the
// last 300 entries.
func (b *CandleBook) ingest(update Candle) ingestResult {
	n := len(b.Candles)
	if n > 0 && b.Candles[n-1].OpenEpoch == update.OpenEpoch {
		update.Closed = false
		b.Candles[n-1] = update
		return ingestResult{}
	}

	var result ingestResult
	if n > 0 {
		b.Candles[n-1].Closed = true
		result.closed = true
		result.closedCandle = b.Candles[n-1]
	}

	update.Closed = false
	b.Candles = append(b.Candles, update)

	if len(b.Candles) > maxCandlesPerTimeframe {
		b.Candles = b.Candles[len(b.Candles)-maxCandlesPerTimeframe:]
	}

	return result
}

// closedCloses returns the Close price of every closed candle,
// oldest first, excluding the still-forming last entry.
func (b *CandleBook) closedCloses() []float64 {
	n := len(b.Candles)
	if n == 0 {
		return nil
	}
	end := n
	if !b.Candles[n-1].Closed {
		end = n - 1
	}
	if end <= 0 {
		return nil
	}

	closes := make([]float64, end)
	for i := 0; i < end; i++ {
		f, _ := b.Candles[i].Close.Float64()
		closes[i] = f
	}
	return closes
}
