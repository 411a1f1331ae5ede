package interfaces

import (
	"context"
	"time"

	"ai-paper-trader/internal/types"
)

// Ledger is the transactional brokerage ledger the trader mutates. The
// engine is its single writer: callers must serialize cycles because the
// validation reads (trades today, daily P/L) and the subsequent execution
// are not one atomic transaction.
type Ledger interface {
	// PortfolioValue returns (cash, positions value, total equity), with
	// positions priced at the latest known price, falling back to entry.
	PortfolioValue(ctx context.Context) (cash, positionsValue, total float64, err error)

	// StartingCash returns the capital the account was seeded with.
	StartingCash(ctx context.Context) (float64, error)

	Position(ctx context.Context, symbol string) (*types.Position, error)
	Positions(ctx context.Context) ([]types.Position, error)

	// ExecuteTrade applies one BUY or SELL atomically: cash, position and
	// the immutable trade record move in a single transaction.
	ExecuteTrade(ctx context.Context, symbol, action string, quantity, price float64, notes string) (types.Trade, error)

	Trades(ctx context.Context, symbol string, limit int) ([]types.Trade, error)
	TradesToday(ctx context.Context) ([]types.Trade, error)

	// LatestPrice returns the most recent stored price for symbol; ok is
	// false when no price is known.
	LatestPrice(ctx context.Context, symbol string) (price float64, ok bool, err error)
	SetLatestPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	Watchlist(ctx context.Context) ([]string, error)

	// Trading mode persistence.
	TradingMode(ctx context.Context) (types.TradingMode, error)
	SetTradingMode(ctx context.Context, mode types.TradingMode) error

	// Generic settings storage, e.g. the benchmark anchor price.
	Setting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error

	// TripBreaker persists the breaker event and the mode switch it caused
	// in one transaction, so a crash cannot leave a tripped breaker paired
	// with a stale mode.
	TripBreaker(ctx context.Context, ev types.BreakerEvent) (int64, error)
	BreakerEvents(ctx context.Context, limit int) ([]types.BreakerEvent, error)

	LogRejection(ctx context.Context, r types.Rejection) (int64, error)
	Rejections(ctx context.Context, limit int) ([]types.Rejection, error)

	// Decision records and prediction grading.
	RecordDecision(ctx context.Context, d types.DecisionRecord) (int64, error)
	DecisionsCount(ctx context.Context) (int, error)
	UnevaluatedPredictions(ctx context.Context, now time.Time) ([]types.DecisionRecord, error)
	UpdatePredictionOutcome(ctx context.Context, decisionID int64, outcome string, actualPrice float64, accurate bool) error
	PredictionAccuracy(ctx context.Context) (types.PredictionAccuracy, error)

	// Sessions.
	StartSession(ctx context.Context, startingValue float64) (types.Session, error)
	ActiveSession(ctx context.Context) (*types.Session, error)
	EndSession(ctx context.Context, id int64, endingValue float64, notes string) error
	BumpSessionCounters(ctx context.Context, sessionID int64, decisions, trades int) error
	SessionsCount(ctx context.Context) (int, error)

	// WinLossCounts tallies realized trade outcomes across all trades.
	WinLossCounts(ctx context.Context) (wins, losses, total int, err error)

	// Performance snapshots.
	RecordSnapshot(ctx context.Context, s types.PerformanceSnapshot) (int64, error)
	Snapshots(ctx context.Context, days int) ([]types.PerformanceSnapshot, error)
	FirstSnapshot(ctx context.Context) (*types.PerformanceSnapshot, error)

	// Reset clears positions, trades, decisions, sessions and snapshots and
	// restores cash to startingCash.
	Reset(ctx context.Context, startingCash float64) error

	Close() error
}

// PriceSource supplies fresh market prices for the ledger's price table.
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol string) (price float64, ok bool, err error)
}

// ConfluenceSource reports whether independent indicators currently agree
// on a directional call for symbol.
type ConfluenceSource interface {
	HasConfluenceSupport(ctx context.Context, symbol string) (bool, error)
}
