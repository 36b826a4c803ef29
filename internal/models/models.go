// Package models provides domain models for the breakout trading system.
package models

import (
	"fmt"
	"time"
)

// OptionType represents the type of an option contract.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL"
)

// Bar represents OHLCV data for one instrument over one minute.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Minute returns the bar's minute-of-day.
func (b Bar) Minute() MinuteOfDay {
	return MinuteOf(b.Timestamp)
}

// Price is an option price observation. The zero Price is unknown: the
// instrument did not trade that minute, or the feed had no data. Unknown
// prices never satisfy a trading condition.
type Price struct {
	Value float64
	Valid bool
}

// Px returns a known price.
func Px(v float64) Price {
	return Price{Value: v, Valid: true}
}

// NoPrice is the unknown price.
var NoPrice = Price{}

// GTE reports whether both prices are known and p >= v.
func (p Price) GTE(v Price) bool {
	return p.Valid && v.Valid && p.Value >= v.Value
}

// LTE reports whether both prices are known and p <= v.
func (p Price) LTE(v Price) bool {
	return p.Valid && v.Valid && p.Value <= v.Value
}

// GT reports whether both prices are known and p > v.
func (p Price) GT(v Price) bool {
	return p.Valid && v.Valid && p.Value > v.Value
}

func (p Price) String() string {
	if !p.Valid {
		return ""
	}
	return fmt.Sprintf("%.2f", p.Value)
}

// OptionQuote is one minute of option prices. Fields are individually
// unknown when the contract did not trade.
type OptionQuote struct {
	High  Price
	Low   Price
	Close Price
}

// NoQuote is the empty quote.
var NoQuote = OptionQuote{}

// MinuteOfDay is a wall-clock minute within a trading day (minutes since
// midnight). It replaces string HH:MM comparisons throughout the engine.
type MinuteOfDay int

// NoMinute marks an unset minute-of-day.
const NoMinute MinuteOfDay = -1

// ParseMinute parses "HH:MM" into a MinuteOfDay.
func ParseMinute(s string) (MinuteOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return NoMinute, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return MinuteOfDay(t.Hour()*60 + t.Minute()), nil
}

// MustMinute parses "HH:MM" or panics. For configuration defaults only.
func MustMinute(s string) MinuteOfDay {
	m, err := ParseMinute(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MinuteOf returns the minute-of-day of a timestamp.
func MinuteOf(t time.Time) MinuteOfDay {
	return MinuteOfDay(t.Hour()*60 + t.Minute())
}

func (m MinuteOfDay) String() string {
	if m == NoMinute {
		return ""
	}
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// At anchors the minute-of-day on a calendar date.
func (m MinuteOfDay) At(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), int(m)/60, int(m)%60, 0, 0, date.Location())
}

// InstrumentSpec holds the contract parameters of a tradeable underlying.
type InstrumentSpec struct {
	Symbol          string // NIFTY, BANKNIFTY
	SpotSymbol      string // exchange spot name, e.g. "NIFTY 50"
	LotSize         int
	StrikeIncrement int
}

// DefaultInstruments returns the NSE index specs the strategy trades.
func DefaultInstruments() map[string]InstrumentSpec {
	return map[string]InstrumentSpec{
		"NIFTY":     {Symbol: "NIFTY", SpotSymbol: "NIFTY 50", LotSize: 75, StrikeIncrement: 50},
		"BANKNIFTY": {Symbol: "BANKNIFTY", SpotSymbol: "NIFTY BANK", LotSize: 25, StrikeIncrement: 100},
	}
}
