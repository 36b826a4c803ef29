package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"breakout-trader/internal/broker"
	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
	"breakout-trader/pkg/utils"
)

// BrokerFeed serves minute bars from the broker's historical API. Symbol
// to instrument-token resolution goes through the NFO instrument dump,
// which is fetched once and cached for the session.
type BrokerFeed struct {
	broker broker.Broker
	retry  utils.RetryConfig
	logger zerolog.Logger

	mu     sync.Mutex
	tokens map[string]uint32
}

// NewBrokerFeed creates a feed backed by the given broker.
func NewBrokerFeed(b broker.Broker, logger zerolog.Logger) *BrokerFeed {
	return &BrokerFeed{
		broker: b,
		retry:  utils.FeedRetryConfig(),
		logger: logger.With().Str("component", "feed").Logger(),
	}
}

// Bars fetches one-minute bars for a tradingsymbol, retrying transient
// failures. Bars outside the trading session are dropped.
func (f *BrokerFeed) Bars(ctx context.Context, instrument string, from, to time.Time) ([]models.Bar, error) {
	token, err := f.token(ctx, instrument)
	if err != nil {
		return nil, err
	}

	req := broker.HistoricalRequest{
		InstrumentToken: token,
		Symbol:          instrument,
		Interval:        "minute",
		From:            from,
		To:              to,
	}

	bars, err := utils.RetryWithResult(ctx, f.retry, func() ([]models.Bar, error) {
		return f.broker.GetHistorical(ctx, req)
	})
	if err != nil {
		return nil, apperrors.NewDataError("broker", from.Format("2006-01-02"), err)
	}

	out := bars[:0]
	for _, b := range bars {
		if sessionBar(b.Minute()) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.NewDataError("broker", from.Format("2006-01-02"),
			fmt.Errorf("no session bars for %s: %w", instrument, apperrors.ErrNoData))
	}
	return out, nil
}

// token resolves a tradingsymbol to its instrument token, loading the
// instrument dump on first use. Index symbols map onto the exchange's
// index tokens rather than the NFO dump.
func (f *BrokerFeed) token(ctx context.Context, symbol string) (uint32, error) {
	if t, ok := indexTokens[strings.ToUpper(symbol)]; ok {
		return t, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.tokens == nil {
		instruments, err := utils.RetryWithResult(ctx, f.retry, func() ([]broker.Instrument, error) {
			return f.broker.GetInstruments(ctx)
		})
		if err != nil {
			return 0, apperrors.NewDataError("instruments", "", err)
		}
		f.tokens = make(map[string]uint32, len(instruments))
		for _, inst := range instruments {
			f.tokens[inst.TradingSymbol] = inst.Token
		}
		f.logger.Info().Int("count", len(f.tokens)).Msg("instrument dump loaded")
	}

	t, ok := f.tokens[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, apperrors.ErrNoContract)
	}
	return t, nil
}

// Zerodha instrument tokens for the spot indices.
var indexTokens = map[string]uint32{
	"NIFTY":     256265,
	"BANKNIFTY": 260105,
}
