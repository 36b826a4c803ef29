package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// KiteBroker implements Broker against Zerodha Kite Connect.
type KiteBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	tokenPath     string
	authenticated bool
	mu            sync.RWMutex
}

// KiteConfig holds Kite Connect credentials.
type KiteConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// NewKiteBroker creates a Kite broker and loads any saved session.
func NewKiteBroker(cfg KiteConfig) *KiteBroker {
	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		home, _ := os.UserHomeDir()
		tokenPath = filepath.Join(home, ".config", "breakout-trader", "session.json")
	}

	kb := &KiteBroker{
		client:    kiteconnect.New(cfg.APIKey),
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		userID:    cfg.UserID,
		tokenPath: tokenPath,
	}
	_ = kb.loadSession()
	return kb
}

type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login verifies a persisted session or returns the OAuth login URL.
func (k *KiteBroker) Login(ctx context.Context) error {
	if err := k.loadSession(); err == nil && k.IsAuthenticated() {
		if _, err := k.client.GetUserProfile(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: visit %s and complete login, then run auth with the request token",
		apperrors.ErrNotAuthenticated, k.client.GetLoginURL())
}

// CompleteLogin exchanges the request token for a session and persists it.
func (k *KiteBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := k.client.GenerateSession(requestToken, k.apiSecret)
	if err != nil {
		return fmt.Errorf("generating session: %w", err)
	}

	k.mu.Lock()
	k.authenticated = true
	k.client.SetAccessToken(session.AccessToken)
	k.mu.Unlock()

	return k.saveSession(session.AccessToken)
}

// IsAuthenticated reports whether a session is active.
func (k *KiteBroker) IsAuthenticated() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.authenticated
}

func (k *KiteBroker) loadSession() error {
	data, err := os.ReadFile(k.tokenPath)
	if err != nil {
		return err
	}
	var s sessionData
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt) {
		return apperrors.ErrSessionExpired
	}

	k.mu.Lock()
	k.authenticated = true
	k.client.SetAccessToken(s.AccessToken)
	k.mu.Unlock()
	return nil
}

func (k *KiteBroker) saveSession(accessToken string) error {
	if err := os.MkdirAll(filepath.Dir(k.tokenPath), 0700); err != nil {
		return err
	}
	// Kite sessions expire at 06:00 the next day.
	tomorrow := time.Now().AddDate(0, 0, 1)
	expires := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 6, 0, 0, 0, time.Local)
	data, err := json.Marshal(sessionData{AccessToken: accessToken, UserID: k.userID, ExpiresAt: expires})
	if err != nil {
		return err
	}
	return os.WriteFile(k.tokenPath, data, 0600)
}

// PlaceOrder places a regular order. A transport failure after the
// request may have reached the exchange is reported as an unknown
// outcome, not a rejection.
func (k *KiteBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	resp, err := k.client.PlaceOrder(kiteconnect.VarietyRegular, orderParams(order))
	if err != nil {
		return nil, apperrors.NewBrokerError("place", order.Symbol, isTransport(err), err)
	}
	return &OrderResult{OrderID: resp.OrderID, Status: "PLACED"}, nil
}

// ModifyOrder modifies an open order.
func (k *KiteBroker) ModifyOrder(ctx context.Context, orderID string, order *models.Order) error {
	if !k.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}
	if _, err := k.client.ModifyOrder(kiteconnect.VarietyRegular, orderID, orderParams(order)); err != nil {
		return apperrors.NewBrokerError("modify", orderID, isTransport(err), err)
	}
	return nil
}

// CancelOrder cancels an open order.
func (k *KiteBroker) CancelOrder(ctx context.Context, orderID string) error {
	if !k.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}
	if _, err := k.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil); err != nil {
		return apperrors.NewBrokerError("cancel", orderID, isTransport(err), err)
	}
	return nil
}

// OrderStatus returns the current state of an order.
func (k *KiteBroker) OrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	if !k.IsAuthenticated() {
		return OrderStateUnknown, apperrors.ErrNotAuthenticated
	}

	history, err := k.client.GetOrderHistory(orderID)
	if err != nil {
		return OrderStateUnknown, apperrors.NewBrokerError("status", orderID, true, err)
	}
	if len(history) == 0 {
		return OrderStateUnknown, nil
	}

	switch history[len(history)-1].Status {
	case "COMPLETE":
		return OrderComplete, nil
	case "CANCELLED":
		return OrderCancelled, nil
	case "REJECTED":
		return OrderRejected, nil
	default:
		return OrderOpen, nil
	}
}

// Positions returns today's net positions.
func (k *KiteBroker) Positions(ctx context.Context) ([]models.Position, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	positions, err := k.client.GetPositions()
	if err != nil {
		return nil, apperrors.NewBrokerError("positions", "", true, err)
	}

	out := make([]models.Position, 0, len(positions.Net))
	for _, p := range positions.Net {
		out = append(out, models.Position{
			Symbol:   p.Tradingsymbol,
			Exchange: p.Exchange,
			Quantity: p.Quantity,
			AvgPrice: p.AveragePrice,
		})
	}
	return out, nil
}

// GetHistorical fetches minute bars for an instrument token.
func (k *KiteBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Bar, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	interval := req.Interval
	if interval == "" {
		interval = "minute"
	}
	data, err := k.client.GetHistoricalData(int(req.InstrumentToken), interval, req.From, req.To, false, false)
	if err != nil {
		return nil, apperrors.NewBrokerError("historical", req.Symbol, true, err)
	}

	bars := make([]models.Bar, len(data))
	for i, d := range data {
		bars[i] = models.Bar{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}
	return bars, nil
}

// GetInstruments fetches the NFO instrument dump.
func (k *KiteBroker) GetInstruments(ctx context.Context) ([]Instrument, error) {
	if !k.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	instruments, err := k.client.GetInstrumentsByExchange("NFO")
	if err != nil {
		return nil, apperrors.NewBrokerError("instruments", "NFO", true, err)
	}

	out := make([]Instrument, 0, len(instruments))
	for _, in := range instruments {
		out = append(out, Instrument{
			Token:         uint32(in.InstrumentToken),
			TradingSymbol: in.Tradingsymbol,
			Name:          in.Name,
			Exchange:      in.Exchange,
			Segment:       in.Segment,
			Expiry:        in.Expiry.Time,
			Strike:        in.StrikePrice,
			InstrType:     in.InstrumentType,
			LotSize:       int(in.LotSize),
		})
	}
	return out, nil
}

func orderParams(order *models.Order) kiteconnect.OrderParams {
	product := order.Product
	if product == "" {
		product = "MIS"
	}
	return kiteconnect.OrderParams{
		Exchange:        order.Exchange,
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         product,
		Quantity:        order.Quantity,
		Price:           order.Price,
		TriggerPrice:    order.TriggerPrice,
		Validity:        "DAY",
		Tag:             order.Tag,
	}
}

// isTransport reports whether an error happened on the wire, where the
// request may still have been processed.
func isTransport(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
