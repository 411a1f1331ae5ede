// internal/ledger/schema.go
package ledger

const Schema = `
CREATE TABLE IF NOT EXISTS account (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cash REAL NOT NULL,
	starting_cash REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	action TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	pnl REAL,
	timestamp DATETIME NOT NULL,
	notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

CREATE TABLE IF NOT EXISTS prices (
	symbol TEXT PRIMARY KEY,
	price REAL NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS watchlist (
	symbol TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS breaker_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	trigger_type TEXT NOT NULL,
	previous_mode TEXT NOT NULL,
	new_mode TEXT NOT NULL,
	daily_pnl REAL NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	resume_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rejections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	session_id INTEGER,
	attempted_action TEXT NOT NULL,
	symbol TEXT NOT NULL,
	quantity REAL,
	quantity_percent REAL,
	estimated_value REAL,
	reason TEXT NOT NULL,
	rule_triggered TEXT NOT NULL,
	trading_mode TEXT NOT NULL,
	raw_request TEXT
);

CREATE INDEX IF NOT EXISTS idx_rejections_rule ON rejections(rule_triggered);

CREATE TABLE IF NOT EXISTS ai_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER,
	timestamp DATETIME NOT NULL,
	action TEXT NOT NULL,
	symbol TEXT NOT NULL,
	quantity_percent REAL,
	price_at_decision REAL,
	confidence REAL NOT NULL,
	reasoning TEXT NOT NULL,
	model_used TEXT NOT NULL,
	predicted_direction TEXT,
	predicted_price_target REAL,
	predicted_timeframe_days INTEGER,
	actual_outcome TEXT,
	actual_price_at_timeframe REAL,
	prediction_accurate INTEGER,
	paper_trade_id TEXT,
	audit_index_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_ai_decisions_timestamp ON ai_decisions(timestamp);

CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_time DATETIME NOT NULL,
	end_time DATETIME,
	starting_value REAL NOT NULL,
	ending_value REAL,
	decisions_count INTEGER NOT NULL DEFAULT 0,
	trades_count INTEGER NOT NULL DEFAULT 0,
	notes TEXT,
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	portfolio_value REAL NOT NULL,
	cash REAL NOT NULL,
	positions_value REAL NOT NULL,
	benchmark_value REAL NOT NULL,
	benchmark_symbol TEXT NOT NULL,
	total_pnl REAL NOT NULL,
	total_pnl_percent REAL NOT NULL,
	benchmark_pnl_percent REAL NOT NULL,
	prediction_accuracy REAL,
	trades_to_date INTEGER NOT NULL,
	winning_trades INTEGER NOT NULL,
	losing_trades INTEGER NOT NULL,
	win_rate REAL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);
`
