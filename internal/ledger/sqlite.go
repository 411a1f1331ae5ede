// Package ledger is the SQLite paper-trading ledger: cash, positions,
// immutable trade records, decision history, sessions, guardrail audit
// records and performance snapshots all live in one database file.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ai-paper-trader/internal/logger"
	"ai-paper-trader/internal/types"
	"ai-paper-trader/pkg/id"
)

// Positions below this share count are closed outright instead of being
// left as dust rows.
const dustEpsilon = 1e-4

var (
	ErrInsufficientCash   = errors.New("insufficient cash")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoPosition         = errors.New("no position in symbol")
	ErrInvalidAction      = errors.New("trade action must be BUY or SELL")
)

// SQLiteLedger implements interfaces.Ledger on a single SQLite file.
// The engine serializes cycles, so no additional locking is done here
// beyond SQLite's own.
type SQLiteLedger struct {
	db *sql.DB

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// New opens (creating if needed) the ledger database and seeds the
// account row with startingCash on first open.
func New(path string, startingCash float64) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// One connection: avoids SQLITE_BUSY under write contention, and keeps
	// :memory: databases (used in tests) from resetting per pooled conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying ledger schema: %w", err)
	}

	if _, err := db.Exec(`
		INSERT INTO account (id, cash, starting_cash)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		startingCash, startingCash,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding account: %w", err)
	}

	return &SQLiteLedger{db: db, Now: time.Now}, nil
}

func (l *SQLiteLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// Cash returns the current cash balance.
func (l *SQLiteLedger) Cash(ctx context.Context) (float64, error) {
	var cash float64
	err := l.db.QueryRowContext(ctx, `SELECT cash FROM account WHERE id = 1`).Scan(&cash)
	return cash, err
}

// StartingCash returns the capital the account was seeded with.
func (l *SQLiteLedger) StartingCash(ctx context.Context) (float64, error) {
	var v float64
	err := l.db.QueryRowContext(ctx, `SELECT starting_cash FROM account WHERE id = 1`).Scan(&v)
	return v, err
}

// PortfolioValue prices every position at the latest stored price,
// falling back to entry price when no market price is known.
func (l *SQLiteLedger) PortfolioValue(ctx context.Context) (cash, positionsValue, total float64, err error) {
	cash, err = l.Cash(ctx)
	if err != nil {
		return 0, 0, 0, err
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT p.quantity, p.entry_price, pr.price
		FROM positions p
		LEFT JOIN prices pr ON pr.symbol = p.symbol`)
	if err != nil {
		return 0, 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var qty, entry float64
		var market sql.NullFloat64
		if err := rows.Scan(&qty, &entry, &market); err != nil {
			return 0, 0, 0, err
		}
		price := entry
		if market.Valid {
			price = market.Float64
		}
		positionsValue += qty * price
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, err
	}
	return cash, positionsValue, cash + positionsValue, nil
}

func (l *SQLiteLedger) Position(ctx context.Context, symbol string) (*types.Position, error) {
	var p types.Position
	err := l.db.QueryRowContext(ctx, `
		SELECT symbol, quantity, entry_price FROM positions WHERE symbol = ?`,
		symbol,
	).Scan(&p.Symbol, &p.Quantity, &p.EntryPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *SQLiteLedger) Positions(ctx context.Context) ([]types.Position, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT symbol, quantity, entry_price FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var p types.Position
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.EntryPrice); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ExecuteTrade applies one BUY or SELL. Cash, the position row and the
// immutable trade record move in one transaction.
func (l *SQLiteLedger) ExecuteTrade(ctx context.Context, symbol, action string, quantity, price float64, notes string) (types.Trade, error) {
	if quantity <= 0 || price <= 0 {
		return types.Trade{}, fmt.Errorf("quantity and price must be positive: qty=%v price=%v", quantity, price)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Trade{}, err
	}
	defer tx.Rollback()

	var cash float64
	if err := tx.QueryRowContext(ctx, `SELECT cash FROM account WHERE id = 1`).Scan(&cash); err != nil {
		return types.Trade{}, err
	}

	trade := types.Trade{
		ID:        id.New(),
		Symbol:    symbol,
		Action:    action,
		Quantity:  quantity,
		Price:     price,
		Timestamp: l.now(),
		Notes:     notes,
	}

	switch action {
	case "BUY":
		cost := quantity * price
		if cost > cash {
			return types.Trade{}, fmt.Errorf("%w: need $%.2f, have $%.2f", ErrInsufficientCash, cost, cash)
		}

		var oldQty, oldPrice float64
		err := tx.QueryRowContext(ctx, `
			SELECT quantity, entry_price FROM positions WHERE symbol = ?`,
			symbol,
		).Scan(&oldQty, &oldPrice)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO positions (symbol, quantity, entry_price) VALUES (?, ?, ?)`,
				symbol, quantity, price,
			); err != nil {
				return types.Trade{}, err
			}
		case err != nil:
			return types.Trade{}, err
		default:
			// Volume-weighted average cost across the accumulated buys.
			newQty := oldQty + quantity
			newPrice := (oldQty*oldPrice + quantity*price) / newQty
			if _, err := tx.ExecContext(ctx, `
				UPDATE positions SET quantity = ?, entry_price = ? WHERE symbol = ?`,
				newQty, newPrice, symbol,
			); err != nil {
				return types.Trade{}, err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE account SET cash = cash - ? WHERE id = 1`, cost,
		); err != nil {
			return types.Trade{}, err
		}

	case "SELL":
		var posQty, entry float64
		err := tx.QueryRowContext(ctx, `
			SELECT quantity, entry_price FROM positions WHERE symbol = ?`,
			symbol,
		).Scan(&posQty, &entry)
		if errors.Is(err, sql.ErrNoRows) {
			return types.Trade{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
		}
		if err != nil {
			return types.Trade{}, err
		}
		if quantity > posQty {
			return types.Trade{}, fmt.Errorf("%w: want %v, hold %v", ErrInsufficientShares, quantity, posQty)
		}

		pnl := (price - entry) * quantity
		trade.PnL = &pnl

		remaining := posQty - quantity
		if remaining <= dustEpsilon {
			if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE symbol = ?`, symbol); err != nil {
				return types.Trade{}, err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `
				UPDATE positions SET quantity = ? WHERE symbol = ?`,
				remaining, symbol,
			); err != nil {
				return types.Trade{}, err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE account SET cash = cash + ? WHERE id = 1`, quantity*price,
		); err != nil {
			return types.Trade{}, err
		}

	default:
		return types.Trade{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, action, quantity, price, pnl, timestamp, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.Symbol, trade.Action, trade.Quantity, trade.Price,
		nullFloat(trade.PnL), trade.Timestamp, trade.Notes,
	); err != nil {
		return types.Trade{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.Trade{}, err
	}

	logger.Trade(ctx, symbol, action, quantity, price, trade.ID)
	return trade, nil
}

// Trades returns recent trades, optionally filtered by symbol, newest
// first. limit <= 0 means no limit.
func (l *SQLiteLedger) Trades(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	query := `SELECT id, symbol, action, quantity, price, pnl, timestamp, notes FROM trades`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.scanTrades(ctx, query, args...)
}

// TradesToday returns trades executed since UTC midnight.
func (l *SQLiteLedger) TradesToday(ctx context.Context) ([]types.Trade, error) {
	dayStart := l.now().Truncate(24 * time.Hour)
	return l.scanTrades(ctx, `
		SELECT id, symbol, action, quantity, price, pnl, timestamp, notes
		FROM trades WHERE timestamp >= ? ORDER BY timestamp`, dayStart)
}

func (l *SQLiteLedger) scanTrades(ctx context.Context, query string, args ...any) ([]types.Trade, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var pnl sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Action, &t.Quantity, &t.Price, &pnl, &t.Timestamp, &t.Notes); err != nil {
			return nil, err
		}
		if pnl.Valid {
			v := pnl.Float64
			t.PnL = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) LatestPrice(ctx context.Context, symbol string) (float64, bool, error) {
	var price float64
	err := l.db.QueryRowContext(ctx, `SELECT price FROM prices WHERE symbol = ?`, symbol).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return price, true, nil
}

func (l *SQLiteLedger) SetLatestPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO prices (symbol, price, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (symbol) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
		symbol, price, ts.UTC())
	return err
}

// Watchlist returns the symbols the trader considers each cycle.
func (l *SQLiteLedger) Watchlist(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT symbol FROM watchlist ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SeedWatchlist inserts symbols that are not already present.
func (l *SQLiteLedger) SeedWatchlist(ctx context.Context, symbols []string) error {
	for _, s := range symbols {
		if _, err := l.db.ExecContext(ctx, `
			INSERT INTO watchlist (symbol) VALUES (?) ON CONFLICT DO NOTHING`, s,
		); err != nil {
			return err
		}
	}
	return nil
}

// Setting reads one settings row; ok is false when the key is unset.
func (l *SQLiteLedger) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := l.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts one settings row.
func (l *SQLiteLedger) SetSetting(ctx context.Context, key, value string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (l *SQLiteLedger) TradingMode(ctx context.Context) (types.TradingMode, error) {
	var value string
	err := l.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'trading_mode'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ModeNormal, nil
	}
	if err != nil {
		return types.ModeNormal, err
	}
	return types.ParseMode(value), nil
}

func (l *SQLiteLedger) SetTradingMode(ctx context.Context, mode types.TradingMode) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('trading_mode', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		mode.String())
	return err
}

// TripBreaker persists the breaker event and the mode switch it caused
// in one transaction.
func (l *SQLiteLedger) TripBreaker(ctx context.Context, ev types.BreakerEvent) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO breaker_events
		(timestamp, trigger_type, previous_mode, new_mode, daily_pnl, consecutive_losses, resume_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC(), ev.TriggerType, ev.PreviousMode, ev.NewMode,
		ev.DailyPnLPercent, ev.ConsecutiveLosses, ev.ResumeAt.UTC(),
	)
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES ('trading_mode', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		ev.NewMode,
	); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	eventID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	logger.Breaker(ctx, ev.TriggerType, ev.DailyPnLPercent,
		"previous_mode", ev.PreviousMode, "new_mode", ev.NewMode, "event_id", eventID)
	return eventID, nil
}

func (l *SQLiteLedger) BreakerEvents(ctx context.Context, limit int) ([]types.BreakerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, trigger_type, previous_mode, new_mode, daily_pnl, consecutive_losses, resume_at
		FROM breaker_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.BreakerEvent
	for rows.Next() {
		var ev types.BreakerEvent
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.TriggerType, &ev.PreviousMode,
			&ev.NewMode, &ev.DailyPnLPercent, &ev.ConsecutiveLosses, &ev.ResumeAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) LogRejection(ctx context.Context, r types.Rejection) (int64, error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO rejections
		(timestamp, session_id, attempted_action, symbol, quantity, quantity_percent,
		 estimated_value, reason, rule_triggered, trading_mode, raw_request)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(), nullInt(r.SessionID), r.AttemptedAction, r.Symbol,
		nullFloat(r.Quantity), nullFloat(r.QuantityPercent), nullFloat(r.EstimatedValue),
		r.Reason, r.RuleTriggered, r.TradingMode, nullStr(r.RawRequest),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *SQLiteLedger) Rejections(ctx context.Context, limit int) ([]types.Rejection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, session_id, attempted_action, symbol, quantity, quantity_percent,
		       estimated_value, reason, rule_triggered, trading_mode, raw_request
		FROM rejections ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Rejection
	for rows.Next() {
		var r types.Rejection
		var sessionID sql.NullInt64
		var qty, pct, value sql.NullFloat64
		var raw sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &sessionID, &r.AttemptedAction, &r.Symbol,
			&qty, &pct, &value, &r.Reason, &r.RuleTriggered, &r.TradingMode, &raw); err != nil {
			return nil, err
		}
		r.SessionID = nullableInt(sessionID)
		r.Quantity = nullableFloat(qty)
		r.QuantityPercent = nullableFloat(pct)
		r.EstimatedValue = nullableFloat(value)
		r.RawRequest = nullableStr(raw)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) RecordDecision(ctx context.Context, d types.DecisionRecord) (int64, error) {
	ts := d.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO ai_decisions
		(session_id, timestamp, action, symbol, quantity_percent, price_at_decision,
		 confidence, reasoning, model_used, predicted_direction, predicted_price_target,
		 predicted_timeframe_days, paper_trade_id, audit_index_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullInt(d.SessionID), ts.UTC(), d.Action, d.Symbol,
		nullFloat(d.QuantityPercent), nullFloat(d.PriceAtDecision),
		d.Confidence, d.Reasoning, d.Model,
		nullStr(d.PredictedDirection), nullFloat(d.PredictedPriceTarget),
		nullIntVal(d.PredictedTimeframeDays), nullStr(d.TradeID), nullStr(d.AuditIndexID),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (l *SQLiteLedger) DecisionsCount(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ai_decisions`).Scan(&n)
	return n, err
}

// UnevaluatedPredictions returns decisions with a prediction whose
// horizon has fully elapsed and that have not been graded yet.
func (l *SQLiteLedger) UnevaluatedPredictions(ctx context.Context, now time.Time) ([]types.DecisionRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, action, symbol, quantity_percent, price_at_decision,
		       confidence, reasoning, model_used, predicted_direction, predicted_price_target,
		       predicted_timeframe_days, paper_trade_id, audit_index_id
		FROM ai_decisions
		WHERE predicted_direction IS NOT NULL
		  AND predicted_timeframe_days IS NOT NULL
		  AND actual_outcome IS NULL
		ORDER BY timestamp`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.DecisionRecord
	for rows.Next() {
		var d types.DecisionRecord
		var sessionID sql.NullInt64
		var pct, priceAt, target sql.NullFloat64
		var direction, tradeID, indexID sql.NullString
		var timeframe sql.NullInt64
		if err := rows.Scan(&d.ID, &sessionID, &d.Timestamp, &d.Action, &d.Symbol,
			&pct, &priceAt, &d.Confidence, &d.Reasoning, &d.Model,
			&direction, &target, &timeframe, &tradeID, &indexID); err != nil {
			return nil, err
		}
		d.SessionID = nullableInt(sessionID)
		d.QuantityPercent = nullableFloat(pct)
		d.PriceAtDecision = nullableFloat(priceAt)
		d.PredictedDirection = nullableStr(direction)
		d.PredictedPriceTarget = nullableFloat(target)
		if timeframe.Valid {
			v := int(timeframe.Int64)
			d.PredictedTimeframeDays = &v
		}
		d.TradeID = nullableStr(tradeID)
		d.AuditIndexID = nullableStr(indexID)

		// Only grade once the full prediction horizon has passed.
		if d.PredictedTimeframeDays != nil {
			due := d.Timestamp.AddDate(0, 0, *d.PredictedTimeframeDays)
			if due.After(now) {
				continue
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) UpdatePredictionOutcome(ctx context.Context, decisionID int64, outcome string, actualPrice float64, accurate bool) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE ai_decisions
		SET actual_outcome = ?, actual_price_at_timeframe = ?, prediction_accurate = ?
		WHERE id = ?`,
		outcome, actualPrice, accurate, decisionID)
	return err
}

// PredictionAccuracy aggregates graded predictions into a 0-100 percent
// figure, recomputed from scratch on every call.
func (l *SQLiteLedger) PredictionAccuracy(ctx context.Context) (types.PredictionAccuracy, error) {
	var acc types.PredictionAccuracy
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(prediction_accurate), 0)
		FROM ai_decisions WHERE actual_outcome IS NOT NULL`,
	).Scan(&acc.Total, &acc.Accurate)
	if err != nil {
		return acc, err
	}
	if acc.Total > 0 {
		acc.Percent = float64(acc.Accurate) / float64(acc.Total) * 100.0
	}
	return acc, nil
}

func (l *SQLiteLedger) StartSession(ctx context.Context, startingValue float64) (types.Session, error) {
	now := l.now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO sessions (start_time, starting_value, status) VALUES (?, ?, 'active')`,
		now, startingValue)
	if err != nil {
		return types.Session{}, err
	}
	sid, err := res.LastInsertId()
	if err != nil {
		return types.Session{}, err
	}
	return types.Session{
		ID:            sid,
		StartTime:     now,
		StartingValue: startingValue,
		Status:        "active",
	}, nil
}

func (l *SQLiteLedger) ActiveSession(ctx context.Context) (*types.Session, error) {
	var s types.Session
	var endTime sql.NullTime
	var endValue sql.NullFloat64
	var notes sql.NullString
	err := l.db.QueryRowContext(ctx, `
		SELECT id, start_time, end_time, starting_value, ending_value,
		       decisions_count, trades_count, notes, status
		FROM sessions WHERE status = 'active' ORDER BY id DESC LIMIT 1`,
	).Scan(&s.ID, &s.StartTime, &endTime, &s.StartingValue, &endValue,
		&s.DecisionsCount, &s.TradesCount, &notes, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		s.EndTime = &endTime.Time
	}
	s.EndingValue = nullableFloat(endValue)
	s.Notes = nullableStr(notes)
	return &s, nil
}

func (l *SQLiteLedger) EndSession(ctx context.Context, sessionID int64, endingValue float64, notes string) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE sessions
		SET end_time = ?, ending_value = ?, notes = ?, status = 'completed'
		WHERE id = ?`,
		l.now(), endingValue, notes, sessionID)
	return err
}

// BumpSessionCounters adds to the decision and trade tallies of a session.
func (l *SQLiteLedger) BumpSessionCounters(ctx context.Context, sessionID int64, decisions, trades int) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE sessions
		SET decisions_count = decisions_count + ?, trades_count = trades_count + ?
		WHERE id = ?`,
		decisions, trades, sessionID)
	return err
}

func (l *SQLiteLedger) SessionsCount(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE status = 'completed'`).Scan(&n)
	return n, err
}

func (l *SQLiteLedger) RecordSnapshot(ctx context.Context, s types.PerformanceSnapshot) (int64, error) {
	ts := s.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO snapshots
		(timestamp, portfolio_value, cash, positions_value, benchmark_value, benchmark_symbol,
		 total_pnl, total_pnl_percent, benchmark_pnl_percent, prediction_accuracy,
		 trades_to_date, winning_trades, losing_trades, win_rate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC(), s.PortfolioValue, s.Cash, s.PositionsValue, s.BenchmarkValue, s.BenchmarkSymbol,
		s.TotalPnL, s.TotalPnLPercent, s.BenchmarkPnLPercent, nullFloat(s.PredictionAccuracy),
		s.TradesToDate, s.WinningTrades, s.LosingTrades, nullFloat(s.WinRate),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Snapshots returns snapshots from the last N days, oldest first.
// days <= 0 returns everything.
func (l *SQLiteLedger) Snapshots(ctx context.Context, days int) ([]types.PerformanceSnapshot, error) {
	query := `
		SELECT id, timestamp, portfolio_value, cash, positions_value, benchmark_value,
		       benchmark_symbol, total_pnl, total_pnl_percent, benchmark_pnl_percent,
		       prediction_accuracy, trades_to_date, winning_trades, losing_trades, win_rate
		FROM snapshots`
	args := []any{}
	if days > 0 {
		query += ` WHERE timestamp >= ?`
		args = append(args, l.now().AddDate(0, 0, -days))
	}
	query += ` ORDER BY timestamp`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PerformanceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FirstSnapshot returns the oldest snapshot, the anchor for relative
// benchmark tracking, or nil when none exists.
func (l *SQLiteLedger) FirstSnapshot(ctx context.Context) (*types.PerformanceSnapshot, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, portfolio_value, cash, positions_value, benchmark_value,
		       benchmark_symbol, total_pnl, total_pnl_percent, benchmark_pnl_percent,
		       prediction_accuracy, trades_to_date, winning_trades, losing_trades, win_rate
		FROM snapshots ORDER BY timestamp LIMIT 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	s, err := scanSnapshot(rows)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSnapshot(rows *sql.Rows) (types.PerformanceSnapshot, error) {
	var s types.PerformanceSnapshot
	var accuracy, winRate sql.NullFloat64
	err := rows.Scan(&s.ID, &s.Timestamp, &s.PortfolioValue, &s.Cash, &s.PositionsValue,
		&s.BenchmarkValue, &s.BenchmarkSymbol, &s.TotalPnL, &s.TotalPnLPercent,
		&s.BenchmarkPnLPercent, &accuracy, &s.TradesToDate,
		&s.WinningTrades, &s.LosingTrades, &winRate)
	if err != nil {
		return s, err
	}
	s.PredictionAccuracy = nullableFloat(accuracy)
	s.WinRate = nullableFloat(winRate)
	return s, nil
}

// WinLossCounts tallies realized trade outcomes. Break-even sells count
// as neither.
func (l *SQLiteLedger) WinLossCounts(ctx context.Context) (wins, losses, total int, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM trades`,
	).Scan(&wins, &losses, &total)
	return wins, losses, total, err
}

// Reset wipes all trading history and restores cash to startingCash.
func (l *SQLiteLedger) Reset(ctx context.Context, startingCash float64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{
		"positions", "trades", "prices", "rejections",
		"breaker_events", "ai_decisions", "sessions", "snapshots",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	// The trading mode survives a reset; derived settings do not.
	if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key != 'trading_mode'`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE account SET cash = ?, starting_cash = ? WHERE id = 1`,
		startingCash, startingCash,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Warn(ctx, "Ledger reset", "starting_cash", startingCash)
	return nil
}

// IsBankrupt reports whether total equity has fallen below the threshold.
func (l *SQLiteLedger) IsBankrupt(ctx context.Context, threshold float64) (bool, float64, error) {
	_, _, total, err := l.PortfolioValue(ctx)
	if err != nil {
		return false, 0, err
	}
	return total < threshold || math.IsNaN(total), total, nil
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullIntVal(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

func nullableStr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
