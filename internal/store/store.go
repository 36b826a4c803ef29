// Package store provides persistence for tick records, order events, and
// cached minute bars.
package store

import (
	"context"
	"time"

	"breakout-trader/internal/models"
)

// DataStore is the persistence interface for the live runner and the
// report command.
type DataStore interface {
	// Tick records
	SaveTickRecord(ctx context.Context, record *models.TickRecord) error
	GetTickRecords(ctx context.Context, filter RecordFilter) ([]models.TickRecord, error)

	// Order audit trail
	SaveOrderEvent(ctx context.Context, event *OrderEvent) error
	GetOrderEvents(ctx context.Context, filter EventFilter) ([]OrderEvent, error)

	// Bar cache
	SaveBars(ctx context.Context, symbol string, bars []models.Bar) error
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)

	Close() error
}

// OrderEvent is one row of the order audit trail: every order the live
// runner places, modifies, cancels, or observes filled.
type OrderEvent struct {
	ID        int64
	Timestamp time.Time
	Symbol    string
	OrderID   string
	Action    string // placed / modified / cancelled / filled / unknown
	Side      string
	OrderType string
	Quantity  int
	Price     float64
	Trigger   float64
	Tag       string
}

// RecordFilter selects tick records for reporting.
type RecordFilter struct {
	Symbol    string
	StartDate time.Time
	EndDate   time.Time
	OpenOnly  bool // only records where a leg holds a position
	Limit     int
}

// EventFilter selects order events.
type EventFilter struct {
	Symbol    string
	OrderID   string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}
