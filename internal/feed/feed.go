// Package feed provides minute-bar market data sources: per-day CSV files
// for backtests and the broker's historical API for live runs.
package feed

import (
	"context"
	"time"

	"breakout-trader/internal/models"
)

// BarFeed supplies one-minute bars for an instrument over a time span.
type BarFeed interface {
	Bars(ctx context.Context, instrument string, from, to time.Time) ([]models.Bar, error)
}

// sessionBar reports whether a bar falls inside the trading session.
// Bars at or after 15:30 and before 09:15 are discarded on load.
func sessionBar(m models.MinuteOfDay) bool {
	return m >= models.MustMinute("09:15") && m < models.MustMinute("15:30")
}
