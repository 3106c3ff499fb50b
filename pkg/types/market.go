// Package types provides the shared data model for the signal pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe represents a bar aggregation interval.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock length of the timeframe's bar interval.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Direction is the side of a candidate or position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// OrderBookLevel is one price/quantity level of a top-N order book snapshot.
type OrderBookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MarketTick is a single immutable observation for one symbol from one exchange.
// Identity is the triple (Source, Symbol, Sequence); ticks are never mutated after
// construction.
type MarketTick struct {
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"` // exchange id
	Sequence  uint64    `json:"sequence"`
	EventTime time.Time `json:"eventTime"` // UTC, sub-second

	Mid   decimal.Decimal `json:"mid"`
	Bid   decimal.Decimal `json:"bid"`
	Ask   decimal.Decimal `json:"ask"`
	Last  decimal.Decimal `json:"last"`
	// Volume is the traded volume since the previous tick on this stream.
	Volume decimal.Decimal `json:"volume"`

	Bids []OrderBookLevel `json:"bids,omitempty"`
	Asks []OrderBookLevel `json:"asks,omitempty"`
}

// Identity returns the (source, symbol, sequence) tuple used for dedup and ordering.
func (t MarketTick) Identity() (source, symbol string, sequence uint64) {
	return t.Source, t.Symbol, t.Sequence
}

// OHLCV is the closing aggregate of one bar.
type OHLCV struct {
	OpenTime  time.Time       `json:"openTime"`
	CloseTime time.Time       `json:"closeTime"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}
