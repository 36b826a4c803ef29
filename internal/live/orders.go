package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"breakout-trader/internal/broker"
	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
	"breakout-trader/internal/store"
	"breakout-trader/pkg/utils"
)

// legBook tracks one leg's working orders across poll ticks. Order IDs
// stay set until the order is confirmed cancelled or the position flat;
// an unknown broker outcome leaves the book untouched so the next tick
// reconciles it.
type legBook struct {
	underlying string
	leg        models.OptionType
	symbol     string // broker tradingsymbol of the resolved contract
	fullQty    int    // 2 lots, scaled
	halfQty    int    // 1 lot, scaled

	entry float64
	tp    float64
	sl    float64
	trail float64

	entryID string
	slID    string
	tpID    string
	trailID string

	wasOpen bool
	exit    *models.LegSnapshot // pending EXITED ledger row, consumed once
}

func bookKey(underlying string, leg models.OptionType) string {
	return underlying + "/" + string(leg)
}

// placeEntry cancels everything left from the previous cycle and places a
// fresh stop-buy for two lots above the reference high. Entry, target and
// stop prices are fixed here; fills are managed against them later.
func (r *Runner) placeEntry(ctx context.Context, b *legBook, symbol string, refHigh, refLow models.Price) error {
	if !refHigh.Valid {
		return fmt.Errorf("%s %s: %w", b.underlying, b.leg, apperrors.ErrMissingReference)
	}

	r.cancelAll(ctx, b)
	b.symbol = symbol

	b.entry = utils.RoundToTick(refHigh.Value * (1 + r.params.EntryBuffer))
	b.tp = utils.RoundToTick(b.entry * (1 + r.params.Target))
	sl := b.entry * (1 - r.params.StopLoss)
	if refLow.Valid {
		if floor := refLow.Value * (1 - r.params.SLBuffer); floor > sl {
			sl = floor
		}
	}
	b.sl = utils.RoundToTick(sl)
	b.trail = b.tp

	order := &models.Order{
		Symbol:       b.symbol,
		Exchange:     "NFO",
		Side:         models.OrderSideBuy,
		Type:         models.OrderTypeStopLoss,
		Quantity:     b.fullQty,
		TriggerPrice: b.entry,
		Product:      "MIS",
		Tag:          "entry",
	}
	id, err := r.place(ctx, order)
	if err != nil {
		return err
	}
	b.entryID = id

	r.logger.Info().
		Str("symbol", b.underlying).
		Str("leg", string(b.leg)).
		Str("contract", b.symbol).
		Float64("entry", b.entry).
		Float64("tp", b.tp).
		Float64("sl", b.sl).
		Msg("entry order placed")
	return nil
}

// trackOpen keeps a held position covered: a stop for the full quantity,
// a limit target for half, and once the target fills, a trailing stop for
// the remainder. lastClose drives the trail ratchet.
func (r *Runner) trackOpen(ctx context.Context, b *legBook, lastClose models.Price) error {
	if b.slID == "" {
		id, err := r.place(ctx, &models.Order{
			Symbol:       b.symbol,
			Exchange:     "NFO",
			Side:         models.OrderSideSell,
			Type:         models.OrderTypeStopLoss,
			Quantity:     b.fullQty,
			TriggerPrice: b.sl,
			Product:      "MIS",
			Tag:          "stop",
		})
		if err != nil {
			return err
		}
		b.slID = id
	}

	if b.tpID == "" {
		id, err := r.place(ctx, &models.Order{
			Symbol:   b.symbol,
			Exchange: "NFO",
			Side:     models.OrderSideSell,
			Type:     models.OrderTypeLimit,
			Quantity: b.halfQty,
			Price:    b.tp,
			Product:  "MIS",
			Tag:      "target",
		})
		if err != nil {
			return err
		}
		b.tpID = id
		return nil
	}

	state, err := r.broker.OrderStatus(ctx, b.tpID)
	if err != nil || state != broker.OrderComplete {
		return err
	}
	return r.updateTrail(ctx, b, lastClose)
}

// updateTrail maintains the trailing stop for the remaining lot after the
// first target has filled. While the close runs beyond the target, the
// trail advances to target plus half the excess.
func (r *Runner) updateTrail(ctx context.Context, b *legBook, lastClose models.Price) error {
	trail := b.tp
	if lastClose.Valid && lastClose.Value > b.tp {
		trail = utils.RoundToTick(b.tp + (lastClose.Value-b.tp)*0.5)
	}
	b.trail = trail

	if b.trailID != "" {
		order := &models.Order{
			Symbol:       b.symbol,
			Exchange:     "NFO",
			Side:         models.OrderSideSell,
			Type:         models.OrderTypeStopLoss,
			Quantity:     b.halfQty,
			TriggerPrice: trail,
			Product:      "MIS",
			Tag:          "trail",
		}
		if err := r.broker.ModifyOrder(ctx, b.trailID, order); err != nil {
			if errors.Is(err, apperrors.ErrOrderUnknown) {
				return nil
			}
			return err
		}
		r.audit(ctx, b.symbol, b.trailID, "modified", order)
		return nil
	}

	// The half-quantity stop replaces the full stop once only one lot
	// remains; shrink the stop before arming the trail.
	if b.slID != "" {
		r.cancel(ctx, b, &b.slID, "stop")
		id, err := r.place(ctx, &models.Order{
			Symbol:       b.symbol,
			Exchange:     "NFO",
			Side:         models.OrderSideSell,
			Type:         models.OrderTypeStopLoss,
			Quantity:     b.halfQty,
			TriggerPrice: b.sl,
			Product:      "MIS",
			Tag:          "stop",
		})
		if err != nil {
			return err
		}
		b.slID = id
	}

	id, err := r.place(ctx, &models.Order{
		Symbol:       b.symbol,
		Exchange:     "NFO",
		Side:         models.OrderSideSell,
		Type:         models.OrderTypeStopLoss,
		Quantity:     b.halfQty,
		TriggerPrice: trail,
		Product:      "MIS",
		Tag:          "trail",
	})
	if err != nil {
		return err
	}
	b.trailID = id
	return nil
}

// exitSnapshot reconstructs a closed leg for the ledger from its order
// trail: whichever exit orders completed decide the exit price and the
// realized P&L. A close the orders cannot explain, such as a manual
// square-off, leaves both unknown.
func (r *Runner) exitSnapshot(ctx context.Context, b *legBook) models.LegSnapshot {
	snap := models.FlatLeg()
	snap.State = models.LegExited
	snap.Ticker = b.symbol
	snap.EntryPrice = models.Px(b.entry)
	snap.TP = models.Px(b.tp)
	snap.TrailTP = models.Px(b.trail)
	snap.SL = models.Px(b.sl)
	snap.CycleCount = 1

	tpDone := r.orderComplete(ctx, b.tpID)

	var pnl float64
	known := false
	if tpDone {
		pnl += (b.tp - b.entry) * float64(b.halfQty)
		snap.ExitPrice = models.Px(b.tp)
		known = true
	}
	switch {
	case r.orderComplete(ctx, b.slID):
		qty := b.fullQty
		if tpDone {
			qty = b.halfQty
		}
		pnl += (b.sl - b.entry) * float64(qty)
		snap.ExitPrice = models.Px(b.sl)
		known = true
	case r.orderComplete(ctx, b.trailID):
		pnl += (b.trail - b.entry) * float64(b.halfQty)
		snap.ExitPrice = models.Px(b.trail)
		known = true
	}
	if known {
		snap.PnL = models.Px(pnl)
	}
	return snap
}

func (r *Runner) orderComplete(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}
	state, err := r.broker.OrderStatus(ctx, id)
	return err == nil && state == broker.OrderComplete
}

// trackFlat clears the exit orders of a leg whose position has gone. The
// entry order is left working; it belongs to the current cycle until the
// next evaluation replaces it.
func (r *Runner) trackFlat(ctx context.Context, b *legBook) {
	r.cancel(ctx, b, &b.slID, "stop")
	r.cancel(ctx, b, &b.tpID, "target")
	r.cancel(ctx, b, &b.trailID, "trail")
}

func (r *Runner) cancelAll(ctx context.Context, b *legBook) {
	r.cancel(ctx, b, &b.entryID, "entry")
	r.cancel(ctx, b, &b.slID, "stop")
	r.cancel(ctx, b, &b.tpID, "target")
	r.cancel(ctx, b, &b.trailID, "trail")
}

// cancel cancels one working order. An unknown outcome keeps the ID so
// the next tick retries; any other failure clears it.
func (r *Runner) cancel(ctx context.Context, b *legBook, id *string, tag string) {
	if *id == "" {
		return
	}
	err := r.broker.CancelOrder(ctx, *id)
	if err != nil && errors.Is(err, apperrors.ErrOrderUnknown) {
		r.logger.Warn().Err(err).Str("order_id", *id).Str("tag", tag).Msg("cancel outcome unknown")
		return
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("order_id", *id).Str("tag", tag).Msg("cancel failed")
	}
	r.audit(ctx, b.symbol, *id, "cancelled", nil)
	*id = ""
}

// place sends one order and records it in the audit trail.
func (r *Runner) place(ctx context.Context, order *models.Order) (string, error) {
	res, err := r.broker.PlaceOrder(ctx, order)
	if err != nil {
		if errors.Is(err, apperrors.ErrOrderUnknown) {
			r.logger.Warn().Err(err).Str("contract", order.Symbol).Str("tag", order.Tag).
				Msg("order outcome unknown; will reconcile next tick")
		}
		return "", err
	}
	r.audit(ctx, order.Symbol, res.OrderID, "placed", order)
	return res.OrderID, nil
}

func (r *Runner) audit(ctx context.Context, symbol, orderID, action string, order *models.Order) {
	if r.store == nil {
		return
	}
	e := &store.OrderEvent{
		Timestamp: r.now(),
		Symbol:    symbol,
		OrderID:   orderID,
		Action:    action,
	}
	if order != nil {
		e.Side = string(order.Side)
		e.OrderType = string(order.Type)
		e.Quantity = order.Quantity
		e.Price = order.Price
		e.Trigger = order.TriggerPrice
		e.Tag = order.Tag
	}
	if err := r.store.SaveOrderEvent(ctx, e); err != nil {
		r.logger.Warn().Err(err).Msg("order event not persisted")
	}
}

// lastClose returns the most recent minute close of a contract, or an
// unknown price when the feed has nothing recent.
func (r *Runner) lastClose(ctx context.Context, symbol string, now time.Time) models.Price {
	bars, err := r.feed.Bars(ctx, symbol, now.Add(-10*time.Minute), now)
	if err != nil || len(bars) == 0 {
		return models.NoPrice
	}
	return models.Px(bars[len(bars)-1].Close)
}
