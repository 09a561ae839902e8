package models

import "time"

// Candle represents an OHLCV bar used for feature engineering and training.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// MarketSeries is the validated history window for one instrument.
// After collection the bars are strictly increasing in time with no
// duplicate timestamps and all five OHLCV fields finite.
type MarketSeries struct {
	Symbol  string
	Candles []Candle
}

// Len returns the number of bars.
func (s *MarketSeries) Len() int { return len(s.Candles) }

// Latest returns the timestamp of the newest bar, or zero when empty.
func (s *MarketSeries) Latest() time.Time {
	if len(s.Candles) == 0 {
		return time.Time{}
	}
	return s.Candles[len(s.Candles)-1].Bucket
}
