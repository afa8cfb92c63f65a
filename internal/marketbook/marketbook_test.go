package marketbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	sent   []interface{}
	nextID int64
}

func (f *fakeSender) Send(v interface{}) error {
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSender) NextReqID() int64 {
	f.nextID++
	return f.nextID
}

func TestMarketBookSubscribeIssuesTicksAndHistoryPerTimeframe(t *testing.T) {
	mb := New("1HZ100V", []int{Timeframe1m, Timeframe5m}, Timeframe1m)
	sender := &fakeSender{}

	err := mb.Subscribe(sender)
	assert.NoError(t, err)
	assert.Len(t, sender.sent, 3) // 1 ticks + 2 ticks_history
}

func TestMarketBookMarketStateRestrictedWithoutIndicators(t *testing.T) {
	mb := New("1HZ100V", DefaultTimeframes, Timeframe1m)
	assert.Equal(t, StateRestricted, mb.MarketState())
}

func TestMarketBookMarketStatePermissiveWhenPriceBelowAllSMAs(t *testing.T) {
	mb := New("1HZ100V", DefaultTimeframes, Timeframe1m)

	sma50, sma100, sma200 := d(110), d(120), d(130)
	mb.indicators = IndicatorSet{SMA50: &sma50, SMA100: &sma100, SMA200: &sma200}

	assert.Equal(t, StatePermissive, mb.MarketStateFor(d(100)))
	assert.Equal(t, StateRestricted, mb.MarketStateFor(d(125)), "price above SMA100 keeps state restricted")
}

func TestMarketBookIngestCandleFiresCloseAndIndicatorEvents(t *testing.T) {
	mb := New("1HZ100V", []int{Timeframe1m}, Timeframe1m)

	var closed []Candle
	mb.OnCandleClosed(func(granularity int, c Candle) { closed = append(closed, c) })

	var updates int
	mb.OnIndicatorsUpdated(func(set IndicatorSet) { updates++ })

	mb.ingestCandle(Timeframe1m, Candle{OpenEpoch: 60, Close: d(100)})
	assert.Empty(t, closed)
	assert.Zero(t, updates)

	mb.ingestCandle(Timeframe1m, Candle{OpenEpoch: 120, Close: d(101)})
	assert.Len(t, closed, 1)
	assert.Equal(t, 1, updates, "primary timeframe close recomputes indicators exactly once")
}

func TestMarketBookIngestTickUpdatesCurrentPrice(t *testing.T) {
	mb := New("1HZ100V", DefaultTimeframes, Timeframe1m)

	var seen []float64
	mb.OnTick(func(price decimal.Decimal, epoch int64) {
		f, _ := price.Float64()
		seen = append(seen, f)
	})

	mb.ingestTick(d(42), 1000)
	assert.True(t, mb.CurrentPrice().Equal(d(42)))
	assert.Equal(t, []float64{42}, seen)
}
