package utils

import (
	"math"
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Market session bounds in minutes since midnight IST.
const (
	MarketOpenMinute  = 9*60 + 15  // 09:15
	MarketCloseMinute = 15*60 + 30 // 15:30
)

// IsMarketOpen reports whether t falls inside the NSE trading session.
func IsMarketOpen(t time.Time) bool {
	t = t.In(IndiaLocation)
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= MarketOpenMinute && m < MarketCloseMinute
}

// SessionClose returns the market close time on t's date.
func SessionClose(t time.Time) time.Time {
	t = t.In(IndiaLocation)
	return time.Date(t.Year(), t.Month(), t.Day(), 15, 30, 0, 0, IndiaLocation)
}

// TickSize is the NSE option price tick.
const TickSize = 0.05

// RoundToTick rounds a price to the nearest exchange tick.
func RoundToTick(price float64) float64 {
	return math.Round(price/TickSize) * TickSize
}
