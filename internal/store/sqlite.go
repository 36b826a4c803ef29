package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "breakout-trader/internal/errors"
	"breakout-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Tick records: both legs of one underlying at one minute
	CREATE TABLE IF NOT EXISTS tick_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		minute TEXT NOT NULL,
		spot_open REAL NOT NULL,
		spot_high REAL NOT NULL,
		spot_low REAL NOT NULL,
		spot_close REAL NOT NULL,
		scheduled_entry TEXT,
		window_high REAL,
		window_low REAL,
		call_strike INTEGER,
		put_strike INTEGER,
		call_state TEXT NOT NULL,
		call_ticker TEXT,
		call_entry REAL,
		call_tp REAL,
		call_trail_tp REAL,
		call_sl REAL,
		call_exit REAL,
		call_pnl REAL,
		call_cycle INTEGER,
		put_state TEXT NOT NULL,
		put_ticker TEXT,
		put_entry REAL,
		put_tp REAL,
		put_trail_tp REAL,
		put_sl REAL,
		put_exit REAL,
		put_pnl REAL,
		put_cycle INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, date, minute)
	);

	CREATE INDEX IF NOT EXISTS idx_tick_records_symbol_date ON tick_records(symbol, date);

	-- Order audit trail
	CREATE TABLE IF NOT EXISTS order_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		symbol TEXT NOT NULL,
		order_id TEXT NOT NULL,
		action TEXT NOT NULL,
		side TEXT,
		order_type TEXT,
		quantity INTEGER,
		price REAL,
		trigger_price REAL,
		tag TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_order_events_symbol ON order_events(symbol, timestamp);

	-- Cached minute bars
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timestamp)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTickRecord upserts one tick record.
func (s *SQLiteStore) SaveTickRecord(ctx context.Context, r *models.TickRecord) error {
	query := `
	INSERT OR REPLACE INTO tick_records (
		symbol, date, minute, spot_open, spot_high, spot_low, spot_close,
		scheduled_entry, window_high, window_low, call_strike, put_strike,
		call_state, call_ticker, call_entry, call_tp, call_trail_tp, call_sl, call_exit, call_pnl, call_cycle,
		put_state, put_ticker, put_entry, put_tp, put_trail_tp, put_sl, put_exit, put_pnl, put_cycle
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.Symbol, r.Date.Format("2006-01-02"), r.Minute.String(),
		r.SpotOpen, r.SpotHigh, r.SpotLow, r.SpotClose,
		minuteArg(r.ScheduledEntry), priceArg(r.WindowHigh), priceArg(r.WindowLow),
		r.CallStrike, r.PutStrike,
		string(r.Call.State), r.Call.Ticker,
		priceArg(r.Call.EntryPrice), priceArg(r.Call.TP), priceArg(r.Call.TrailTP),
		priceArg(r.Call.SL), priceArg(r.Call.ExitPrice), priceArg(r.Call.PnL), r.Call.CycleCount,
		string(r.Put.State), r.Put.Ticker,
		priceArg(r.Put.EntryPrice), priceArg(r.Put.TP), priceArg(r.Put.TrailTP),
		priceArg(r.Put.SL), priceArg(r.Put.ExitPrice), priceArg(r.Put.PnL), r.Put.CycleCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save tick record: %w", err)
	}
	return nil
}

// GetTickRecords returns tick records matching the filter in date, minute
// order.
func (s *SQLiteStore) GetTickRecords(ctx context.Context, filter RecordFilter) ([]models.TickRecord, error) {
	query := `
	SELECT symbol, date, minute, spot_open, spot_high, spot_low, spot_close,
		scheduled_entry, window_high, window_low, call_strike, put_strike,
		call_state, call_ticker, call_entry, call_tp, call_trail_tp, call_sl, call_exit, call_pnl, call_cycle,
		put_state, put_ticker, put_entry, put_tp, put_trail_tp, put_sl, put_exit, put_pnl, put_cycle
	FROM tick_records WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, filter.StartDate.Format("2006-01-02"))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, filter.EndDate.Format("2006-01-02"))
	}
	if filter.OpenOnly {
		query += " AND (call_state IN ('ENTERED', 'PARTIAL_EXIT') OR put_state IN ('ENTERED', 'PARTIAL_EXIT'))"
	}
	query += " ORDER BY date ASC, minute ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tick records: %w", err)
	}
	defer rows.Close()

	var records []models.TickRecord
	for rows.Next() {
		r, err := scanTickRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanTickRecord(rows *sql.Rows) (models.TickRecord, error) {
	var r models.TickRecord
	var date, minute string
	var scheduled sql.NullString
	var windowHigh, windowLow sql.NullFloat64
	var callEntry, callTP, callTrail, callSL, callExit, callPnL sql.NullFloat64
	var putEntry, putTP, putTrail, putSL, putExit, putPnL sql.NullFloat64
	var callState, putState string
	var callTicker, putTicker sql.NullString

	err := rows.Scan(
		&r.Symbol, &date, &minute, &r.SpotOpen, &r.SpotHigh, &r.SpotLow, &r.SpotClose,
		&scheduled, &windowHigh, &windowLow, &r.CallStrike, &r.PutStrike,
		&callState, &callTicker, &callEntry, &callTP, &callTrail, &callSL, &callExit, &callPnL, &r.Call.CycleCount,
		&putState, &putTicker, &putEntry, &putTP, &putTrail, &putSL, &putExit, &putPnL, &r.Put.CycleCount,
	)
	if err != nil {
		return r, fmt.Errorf("failed to scan tick record: %w", err)
	}

	r.Date, err = time.Parse("2006-01-02", date)
	if err != nil {
		return r, fmt.Errorf("bad date in tick record: %w", err)
	}
	r.Minute, err = models.ParseMinute(minute)
	if err != nil {
		return r, fmt.Errorf("bad minute in tick record: %w", err)
	}
	r.ScheduledEntry = models.NoMinute
	if scheduled.Valid {
		if m, perr := models.ParseMinute(scheduled.String); perr == nil {
			r.ScheduledEntry = m
		}
	}
	r.WindowHigh = priceFrom(windowHigh)
	r.WindowLow = priceFrom(windowLow)

	r.Call.State = models.LegState(callState)
	r.Call.Ticker = callTicker.String
	r.Call.EntryPrice = priceFrom(callEntry)
	r.Call.TP = priceFrom(callTP)
	r.Call.TrailTP = priceFrom(callTrail)
	r.Call.SL = priceFrom(callSL)
	r.Call.ExitPrice = priceFrom(callExit)
	r.Call.PnL = priceFrom(callPnL)

	r.Put.State = models.LegState(putState)
	r.Put.Ticker = putTicker.String
	r.Put.EntryPrice = priceFrom(putEntry)
	r.Put.TP = priceFrom(putTP)
	r.Put.TrailTP = priceFrom(putTrail)
	r.Put.SL = priceFrom(putSL)
	r.Put.ExitPrice = priceFrom(putExit)
	r.Put.PnL = priceFrom(putPnL)

	return r, nil
}

// SaveOrderEvent appends one order event to the audit trail.
func (s *SQLiteStore) SaveOrderEvent(ctx context.Context, e *OrderEvent) error {
	query := `
	INSERT INTO order_events (timestamp, symbol, order_id, action, side, order_type, quantity, price, trigger_price, tag)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.Timestamp, e.Symbol, e.OrderID, e.Action, e.Side, e.OrderType,
		e.Quantity, e.Price, e.Trigger, e.Tag)
	if err != nil {
		return fmt.Errorf("failed to save order event: %w", err)
	}
	return nil
}

// GetOrderEvents returns order events matching the filter, newest first.
func (s *SQLiteStore) GetOrderEvents(ctx context.Context, filter EventFilter) ([]OrderEvent, error) {
	query := `
	SELECT id, timestamp, symbol, order_id, action, side, order_type, quantity, price, trigger_price, tag
	FROM order_events WHERE 1=1`
	var args []interface{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.OrderID != "" {
		query += " AND order_id = ?"
		args = append(args, filter.OrderID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order events: %w", err)
	}
	defer rows.Close()

	var events []OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Symbol, &e.OrderID, &e.Action,
			&e.Side, &e.OrderType, &e.Quantity, &e.Price, &e.Trigger, &e.Tag); err != nil {
			return nil, fmt.Errorf("failed to scan order event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveBars caches minute bars in a single transaction.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}
	return tx.Commit()
}

// GetBars returns cached bars for a symbol within [from, to].
func (s *SQLiteStore) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM bars WHERE symbol = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

func priceArg(p models.Price) interface{} {
	if !p.Valid {
		return nil
	}
	return p.Value
}

func minuteArg(m models.MinuteOfDay) interface{} {
	if m == models.NoMinute {
		return nil
	}
	return m.String()
}

func priceFrom(v sql.NullFloat64) models.Price {
	if !v.Valid {
		return models.NoPrice
	}
	return models.Px(v.Float64)
}
