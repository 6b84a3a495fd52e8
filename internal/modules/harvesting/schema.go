package harvesting

import "database/sql"

// Schema defines the account-store tables the harvesting engine reads:
// accounts (for the household wash-sale union), tax lots and transaction
// history. accounts is also declared by the rebalancing module's schema;
// tax_lots and transactions are declared only here, and the rebalancing
// module relies on this declaration for them.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id INTEGER PRIMARY KEY,
    household_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    benchmark_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tax_lots (
    id INTEGER PRIMARY KEY,
    account_id INTEGER NOT NULL,
    security_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    original_quantity REAL NOT NULL,
    quantity REAL NOT NULL,
    cost_basis REAL NOT NULL,
    status TEXT NOT NULL DEFAULT 'open',
    purchase_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY,
    account_id INTEGER NOT NULL,
    security_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity REAL NOT NULL,
    price REAL NOT NULL,
    date TEXT NOT NULL,
    lot_id INTEGER,
    realized_gain_loss REAL NOT NULL DEFAULT 0,
    wash_sale_flag INTEGER NOT NULL DEFAULT 0,
    disallowed_loss REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tax_lots_account ON tax_lots(account_id, symbol);
CREATE INDEX IF NOT EXISTS idx_tax_lots_status ON tax_lots(account_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_account_symbol ON transactions(account_id, symbol, date);
`

// InitSchema creates the harvesting engine's account-store tables if absent.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
