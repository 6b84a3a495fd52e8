package rebalancing

import "database/sql"

// Schema defines the remaining account-store tables: accounts themselves
// and the rebalancing event/trade history. tax_lots and transactions are
// declared in the harvesting package, the first module to depend on them.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY,
    household_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    benchmark_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalancing_events (
    id TEXT PRIMARY KEY,
    account_id INTEGER NOT NULL,
    month TEXT NOT NULL,
    status TEXT NOT NULL,
    tracking_error REAL NOT NULL,
    tax_benefit REAL NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalancing_trades (
    id INTEGER PRIMARY KEY,
    event_id TEXT NOT NULL,
    security_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    lot_id INTEGER,
    type TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_rebalancing_events_account ON rebalancing_events(account_id, month);
CREATE INDEX IF NOT EXISTS idx_rebalancing_trades_event ON rebalancing_trades(event_id);
`

// InitSchema creates the account-store tables this package owns, if absent.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
