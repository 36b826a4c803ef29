package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// PaperBroker implements Broker for dry-run live trading. Market data is
// delegated to a real broker; orders and positions are simulated, with
// fills triggered by MarkBar.
type PaperBroker struct {
	dataBroker Broker

	orders       map[string]*paperOrder
	positions    map[string]int
	avgPrices    map[string]float64
	orderCounter int

	mu sync.RWMutex
}

type paperOrder struct {
	order *models.Order
	state OrderState
}

// NewPaperBroker creates a paper broker. dataBroker supplies historical
// bars and the instrument dump; it may be nil in tests.
func NewPaperBroker(dataBroker Broker) *PaperBroker {
	return &PaperBroker{
		dataBroker: dataBroker,
		orders:     make(map[string]*paperOrder),
		positions:  make(map[string]int),
		avgPrices:  make(map[string]float64),
	}
}

// Login is a no-op for paper trading.
func (p *PaperBroker) Login(ctx context.Context) error {
	if p.dataBroker != nil {
		return p.dataBroker.Login(ctx)
	}
	return nil
}

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool {
	return true
}

// PlaceOrder records a simulated open order.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if order.Quantity <= 0 {
		return nil, apperrors.NewBrokerError("place", order.Symbol, false, fmt.Errorf("quantity must be positive"))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.orderCounter++
	id := fmt.Sprintf("PAPER-%06d", p.orderCounter)
	cp := *order
	p.orders[id] = &paperOrder{order: &cp, state: OrderOpen}
	return &OrderResult{OrderID: id, Status: "PLACED"}, nil
}

// ModifyOrder replaces the parameters of an open order.
func (p *PaperBroker) ModifyOrder(ctx context.Context, orderID string, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[orderID]
	if !ok || po.state != OrderOpen {
		return apperrors.NewBrokerError("modify", orderID, false, fmt.Errorf("order not open"))
	}
	cp := *order
	po.order = &cp
	return nil
}

// CancelOrder cancels an open order.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	po, ok := p.orders[orderID]
	if !ok {
		return apperrors.NewBrokerError("cancel", orderID, false, fmt.Errorf("unknown order"))
	}
	if po.state == OrderOpen {
		po.state = OrderCancelled
	}
	return nil
}

// OrderStatus returns the simulated order state.
func (p *PaperBroker) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	po, ok := p.orders[orderID]
	if !ok {
		return OrderStateUnknown, nil
	}
	return po.state, nil
}

// Positions returns the simulated net positions.
func (p *PaperBroker) Positions(ctx context.Context) ([]models.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Position, 0, len(p.positions))
	for symbol, qty := range p.positions {
		if qty == 0 {
			continue
		}
		out = append(out, models.Position{
			Symbol:   symbol,
			Exchange: "NFO",
			Quantity: qty,
			AvgPrice: p.avgPrices[symbol],
		})
	}
	return out, nil
}

// GetHistorical delegates to the data broker.
func (p *PaperBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Bar, error) {
	if p.dataBroker == nil {
		return nil, apperrors.ErrNoData
	}
	return p.dataBroker.GetHistorical(ctx, req)
}

// GetInstruments delegates to the data broker.
func (p *PaperBroker) GetInstruments(ctx context.Context) ([]Instrument, error) {
	if p.dataBroker == nil {
		return nil, apperrors.ErrNoData
	}
	return p.dataBroker.GetInstruments(ctx)
}

// WorkingSymbols lists the symbols that currently have open simulated
// orders. The live loop marks a bar for each of them every poll tick.
func (p *PaperBroker) WorkingSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, po := range p.orders {
		if po.state != OrderOpen || seen[po.order.Symbol] {
			continue
		}
		seen[po.order.Symbol] = true
		out = append(out, po.order.Symbol)
	}
	sort.Strings(out)
	return out
}

// MarkBar feeds one bar of a symbol through the open orders, filling any
// whose trigger or limit is touched. Stop buys fill when the high reaches
// the trigger; limit and stop sells fill when the bar crosses the price.
func (p *PaperBroker) MarkBar(symbol string, high, low float64, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, po := range p.orders {
		if po.state != OrderOpen || po.order.Symbol != symbol {
			continue
		}
		o := po.order

		var filled bool
		var price float64
		switch {
		case o.Type == models.OrderTypeStopLoss && o.Side == models.OrderSideBuy:
			filled = high >= o.TriggerPrice
			price = o.TriggerPrice
		case o.Type == models.OrderTypeStopLoss && o.Side == models.OrderSideSell:
			filled = low <= o.TriggerPrice
			price = o.TriggerPrice
		case o.Type == models.OrderTypeLimit && o.Side == models.OrderSideSell:
			filled = high >= o.Price
			price = o.Price
		case o.Type == models.OrderTypeLimit && o.Side == models.OrderSideBuy:
			filled = low <= o.Price
			price = o.Price
		case o.Type == models.OrderTypeMarket:
			filled = true
			price = (high + low) / 2
		}

		if filled {
			po.state = OrderComplete
			p.applyFill(o, price)
		}
	}
}

func (p *PaperBroker) applyFill(o *models.Order, price float64) {
	qty := o.Quantity
	if o.Side == models.OrderSideSell {
		qty = -qty
	}
	prev := p.positions[o.Symbol]
	p.positions[o.Symbol] = prev + qty
	if prev == 0 {
		p.avgPrices[o.Symbol] = price
	}
}
