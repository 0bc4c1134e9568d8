package repo

import (
	"database/sql"
	"fmt"
)

// schema is the full DDL. Timestamps are unix milliseconds; ledger tables
// break created_at ties by rowid.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		cash          REAL NOT NULL,
		starting_cash REAL NOT NULL,
		role          TEXT NOT NULL DEFAULT 'user',
		created_at    INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id           TEXT PRIMARY KEY,
		user_id      INTEGER NOT NULL REFERENCES users(id),
		ticker       TEXT NOT NULL,
		type         TEXT NOT NULL,
		side         TEXT NOT NULL,
		qty          REAL NOT NULL,
		filled_qty   REAL NOT NULL DEFAULT 0,
		limit_price  REAL,
		stop_price   REAL,
		trail_pct    REAL,
		trail_high   REAL NOT NULL DEFAULT 0,
		oco_group_id TEXT,
		status       TEXT NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		cancelled_at INTEGER,
		filled_at    INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_open ON orders(status) WHERE status IN ('open','partial')`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_ticker ON orders(ticker, status)`,

	`CREATE TABLE IF NOT EXISTS positions (
		user_id    INTEGER NOT NULL REFERENCES users(id),
		ticker     TEXT NOT NULL,
		qty        REAL NOT NULL,
		avg_cost   REAL NOT NULL,
		cost_basis REAL NOT NULL,
		PRIMARY KEY (user_id, ticker)
	)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id            TEXT PRIMARY KEY,
		user_id       INTEGER NOT NULL REFERENCES users(id),
		order_id      TEXT NOT NULL,
		ticker        TEXT NOT NULL,
		side          TEXT NOT NULL,
		qty           REAL NOT NULL,
		price         REAL NOT NULL,
		notional      REAL NOT NULL,
		commission    REAL NOT NULL,
		slippage_cost REAL NOT NULL,
		borrow_cost   REAL NOT NULL,
		realized_pnl  REAL NOT NULL,
		regime        TEXT NOT NULL,
		executed_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, executed_at DESC)`,

	`CREATE TABLE IF NOT EXISTS candles (
		symbol    TEXT NOT NULL,
		interval  TEXT NOT NULL,
		open_time INTEGER NOT NULL,
		open      REAL NOT NULL,
		high      REAL NOT NULL,
		low       REAL NOT NULL,
		close     REAL NOT NULL,
		volume    REAL NOT NULL,
		PRIMARY KEY (symbol, interval, open_time)
	)`,

	`CREATE TABLE IF NOT EXISTS news (
		id           TEXT PRIMARY KEY,
		ticker       TEXT NOT NULL,
		type         TEXT NOT NULL,
		severity     TEXT NOT NULL,
		headline     TEXT NOT NULL,
		body         TEXT NOT NULL,
		price_impact REAL NOT NULL,
		fired_at     INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_news_fired ON news(fired_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_news_ticker ON news(ticker, fired_at DESC)`,

	`CREATE TABLE IF NOT EXISTS funds (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		name           TEXT NOT NULL,
		strategy_type  TEXT NOT NULL DEFAULT '',
		owner_id       INTEGER NOT NULL REFERENCES users(id),
		description    TEXT NOT NULL DEFAULT '',
		min_investment REAL NOT NULL DEFAULT 0,
		mgmt_fee_rate  REAL NOT NULL DEFAULT 0,
		perf_fee_rate  REAL NOT NULL DEFAULT 0,
		created_at     INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS fund_members (
		fund_id   INTEGER NOT NULL REFERENCES funds(id),
		user_id   INTEGER NOT NULL REFERENCES users(id),
		role      TEXT NOT NULL,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (fund_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS fund_capital (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_id      INTEGER NOT NULL REFERENCES funds(id),
		user_id      INTEGER NOT NULL REFERENCES users(id),
		amount       REAL NOT NULL,
		type         TEXT NOT NULL,
		units_delta  REAL NOT NULL,
		nav_per_unit REAL NOT NULL,
		nav_before   REAL NOT NULL,
		nav_after    REAL NOT NULL,
		created_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_capital_fund ON fund_capital(fund_id, created_at, id)`,

	`CREATE TABLE IF NOT EXISTS nav_snapshots (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_id      INTEGER NOT NULL REFERENCES funds(id),
		snapshot_at  INTEGER NOT NULL,
		nav          REAL NOT NULL,
		nav_per_unit REAL NOT NULL,
		total_units  REAL NOT NULL,
		capital      REAL NOT NULL,
		pnl          REAL NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_nav_fund ON nav_snapshots(fund_id, snapshot_at DESC)`,

	`CREATE TABLE IF NOT EXISTS strategies (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_id    INTEGER NOT NULL REFERENCES funds(id),
		name       TEXT NOT NULL,
		type       TEXT NOT NULL,
		config     TEXT NOT NULL DEFAULT '{}',
		is_active  INTEGER NOT NULL DEFAULT 0,
		state      BLOB,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategies_fund ON strategies(fund_id)`,

	`CREATE TABLE IF NOT EXISTS custom_strategies (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_id    INTEGER NOT NULL REFERENCES funds(id),
		name       TEXT NOT NULL,
		source     TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS strategy_trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL REFERENCES strategies(id),
		fund_id     INTEGER NOT NULL REFERENCES funds(id),
		ticker      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         REAL NOT NULL,
		price       REAL NOT NULL,
		commission  REAL NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		executed_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_trades_strategy ON strategy_trades(strategy_id, executed_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_trades_fund ON strategy_trades(fund_id, executed_at, id)`,

	`CREATE TABLE IF NOT EXISTS backtests (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id INTEGER NOT NULL REFERENCES strategies(id),
		fund_id     INTEGER NOT NULL REFERENCES funds(id),
		config_hash TEXT NOT NULL,
		metrics     TEXT NOT NULL DEFAULT '{}',
		thresholds  TEXT NOT NULL DEFAULT '{}',
		passed      INTEGER NOT NULL,
		notes       TEXT NOT NULL DEFAULT '',
		ran_at      INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtests_strategy ON backtests(strategy_id, ran_at DESC)`,

	`CREATE TABLE IF NOT EXISTS risk_settings (
		fund_id                INTEGER PRIMARY KEY REFERENCES funds(id),
		max_position_pct       REAL NOT NULL,
		max_strategy_pct       REAL NOT NULL,
		max_daily_drawdown_pct REAL NOT NULL,
		enabled                INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS risk_breaches (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		fund_id     INTEGER NOT NULL REFERENCES funds(id),
		strategy_id INTEGER NOT NULL,
		rule        TEXT NOT NULL,
		severity    TEXT NOT NULL,
		message     TEXT NOT NULL,
		context     TEXT NOT NULL DEFAULT '',
		attempted   TEXT NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_breaches_fund ON risk_breaches(fund_id, created_at DESC)`,
}

// EnsureSchema creates all tables and indexes.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
