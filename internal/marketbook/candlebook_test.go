package marketbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestCandleBookIngestOverwritesFormingCandle(t *testing.T) {
	book := newCandleBook(Timeframe1m)

	first := book.ingest(Candle{OpenEpoch: 100, Close: d(10)})
	assert.False(t, first.closed)
	assert.Len(t, book.Candles, 1)
	assert.False(t, book.Candles[0].Closed)

	updated := book.ingest(Candle{OpenEpoch: 100, Close: d(11)})
	assert.False(t, updated.closed)
	assert.Len(t, book.Candles, 1)
	assert.True(t, book.Candles[0].Close.Equal(d(11)))
}

func TestCandleBookIngestClosesPreviousCandle(t *testing.T) {
	book := newCandleBook(Timeframe1m)

	book.ingest(Candle{OpenEpoch: 100, Close: d(10)})
	result := book.ingest(Candle{OpenEpoch: 160, Close: d(12)})

	assert.True(t, result.closed)
	assert.True(t, result.closedCandle.Closed)
	assert.True(t, result.closedCandle.Close.Equal(d(10)))

	assert.Len(t, book.Candles, 2)
	assert.True(t, book.Candles[0].Closed)
	assert.False(t, book.Candles[1].Closed)
}

func TestCandleBookTrimsToMaxCandles(t *testing.T) {
	book := newCandleBook(Timeframe1m)

	for i := 0; i < maxCandlesPerTimeframe+50; i++ {
		book.ingest(Candle{OpenEpoch: int64(i * 60), Close: d(float64(i))})
	}

	assert.Len(t, book.Candles, maxCandlesPerTimeframe)
	// the oldest surviving candle should be the 51st ingested (index 50)
	assert.True(t, book.Candles[0].Close.Equal(d(50)))
}

func TestClosedClosesExcludesFormingCandle(t *testing.T) {
	book := newCandleBook(Timeframe1m)

	assert.Nil(t, book.closedCloses())

	book.ingest(Candle{OpenEpoch: 100, Close: d(10)})
	assert.Nil(t, book.closedCloses(), "single forming candle has no closed closes yet")

	book.ingest(Candle{OpenEpoch: 160, Close: d(20)})
	closes := book.closedCloses()
	assert.Equal(t, []float64{10}, closes)

	book.ingest(Candle{OpenEpoch: 220, Close: d(30)})
	closes = book.closedCloses()
	assert.Equal(t, []float64{10, 20}, closes)
}
