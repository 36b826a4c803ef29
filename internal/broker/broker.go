// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"sort"
	"time"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// Broker defines the order-execution and market-data surface the live
// runner needs. Every call may fail transiently; callers treat failures
// as "no change, retry next tick", never as fatal.
type Broker interface {
	// Authentication
	Login(ctx context.Context) error
	IsAuthenticated() bool

	// Orders
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
	ModifyOrder(ctx context.Context, orderID string, order *models.Order) error
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (OrderState, error)

	// Positions
	Positions(ctx context.Context) ([]models.Position, error)

	// Market data
	GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Bar, error)
	GetInstruments(ctx context.Context) ([]Instrument, error)
}

// OrderResult is the outcome of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
}

// OrderState is a broker-side order status.
type OrderState string

const (
	OrderOpen      OrderState = "OPEN"
	OrderComplete  OrderState = "COMPLETE"
	OrderCancelled OrderState = "CANCELLED"
	OrderRejected  OrderState = "REJECTED"
	// OrderStateUnknown means the broker could not be queried; callers
	// must not assume a fill or a rejection.
	OrderStateUnknown OrderState = "UNKNOWN"
)

// HistoricalRequest is a request for minute bars.
type HistoricalRequest struct {
	InstrumentToken uint32
	Symbol          string
	Interval        string
	From            time.Time
	To              time.Time
}

// Instrument is one row of the broker's tradable-instrument dump. It is
// the bridge between (underlying, strike, type, expiry) and the broker's
// tradingsymbol.
type Instrument struct {
	Token         uint32
	TradingSymbol string
	Name          string // underlying, e.g. NIFTY
	Exchange      string
	Segment       string
	Expiry        time.Time
	Strike        float64
	InstrType     string // CE / PE / FUT
	LotSize       int
}

// NearestOptionExpiry returns the earliest option expiry on or after the
// given date for an underlying.
func NearestOptionExpiry(instruments []Instrument, underlying string, after time.Time) (time.Time, bool) {
	var expiries []time.Time
	for _, in := range instruments {
		if in.Name != underlying || (in.InstrType != string(models.OptionCall) && in.InstrType != string(models.OptionPut)) {
			continue
		}
		if in.Expiry.Before(after) {
			continue
		}
		expiries = append(expiries, in.Expiry)
	}
	if len(expiries) == 0 {
		return time.Time{}, false
	}
	sort.Slice(expiries, func(i, j int) bool { return expiries[i].Before(expiries[j]) })
	return expiries[0], true
}

// ResolveOption maps (underlying, option type, strike, expiry) to the
// concrete tradable instrument.
func ResolveOption(instruments []Instrument, underlying string, typ models.OptionType, strike int, expiry time.Time) (Instrument, error) {
	for _, in := range instruments {
		if in.Name == underlying && in.InstrType == string(typ) &&
			int(in.Strike) == strike && in.Expiry.Equal(expiry) {
			return in, nil
		}
	}
	return Instrument{}, apperrors.ErrNoContract
}
