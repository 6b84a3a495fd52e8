package riskmodel

import "database/sql"

// Schema defines the analytics store in full: the market-data tables
// (securities, daily prices, monthly stock returns, benchmarks) alongside
// the risk model's own output tables (exposures, factor_returns,
// factor_covariance, specific_variance, regression_diagnostics). The risk
// model builder is the first component wired up against this database, so
// it owns the schema that the harvesting and optimization modules also
// read from.
const Schema = `
CREATE TABLE IF NOT EXISTS securities (
    id INTEGER PRIMARY KEY,
    symbol TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    exchange TEXT NOT NULL DEFAULT '',
    sector TEXT NOT NULL DEFAULT '',
    industry TEXT NOT NULL DEFAULT '',
    sub_industry TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT 'USD',
    isin TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1
);

-- fundamentals_annual and fundamentals_quarterly hold the raw reported
-- figures the style factor calculators derive Earnings Yield, Book-to-
-- Price, Growth, Earnings Variability, Leverage and Dividend Yield from.
CREATE TABLE IF NOT EXISTS fundamentals_annual (
    security_id INTEGER NOT NULL,
    fiscal_year INTEGER NOT NULL,
    earnings_ttm REAL NOT NULL DEFAULT 0,
    book_value REAL NOT NULL DEFAULT 0,
    sales REAL NOT NULL DEFAULT 0,
    short_term_debt REAL NOT NULL DEFAULT 0,
    long_term_debt REAL NOT NULL DEFAULT 0,
    total_assets REAL NOT NULL DEFAULT 0,
    dividends_ttm REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (security_id, fiscal_year)
);

CREATE TABLE IF NOT EXISTS fundamentals_quarterly (
    security_id INTEGER NOT NULL,
    fiscal_quarter TEXT NOT NULL,
    earnings REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (security_id, fiscal_quarter)
);

-- market_index_returns and currency_index_returns are the two series the
-- Beta and CurrencySensitivity style factors regress each security's
-- monthly returns against.
CREATE TABLE IF NOT EXISTS market_index_returns (
    month TEXT PRIMARY KEY,
    return REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS currency_index_returns (
    month TEXT PRIMARY KEY,
    return REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS prices (
    security_id INTEGER NOT NULL,
    date TEXT NOT NULL,
    close REAL NOT NULL,
    PRIMARY KEY (security_id, date)
);

CREATE TABLE IF NOT EXISTS monthly_stock_returns (
    security_id INTEGER NOT NULL,
    month TEXT NOT NULL,
    monthly_return REAL NOT NULL,
    sqrt_market_cap REAL,
    PRIMARY KEY (security_id, month)
);

CREATE TABLE IF NOT EXISTS benchmarks (
    id INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS benchmark_constituents (
    benchmark_id INTEGER NOT NULL,
    security_id INTEGER NOT NULL,
    month TEXT NOT NULL,
    weight REAL NOT NULL,
    PRIMARY KEY (benchmark_id, security_id, month)
);

CREATE TABLE IF NOT EXISTS factors (
    id INTEGER PRIMARY KEY,
    name TEXT UNIQUE NOT NULL,
    kind TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exposures (
    security_id INTEGER NOT NULL,
    factor_id INTEGER NOT NULL,
    month TEXT NOT NULL,
    value REAL NOT NULL,
    imputed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (security_id, factor_id, month)
);

CREATE TABLE IF NOT EXISTS factor_returns (
    factor_id INTEGER NOT NULL,
    month TEXT NOT NULL,
    return REAL NOT NULL,
    PRIMARY KEY (factor_id, month)
);

CREATE TABLE IF NOT EXISTS factor_covariance (
    factor_id_1 INTEGER NOT NULL,
    factor_id_2 INTEGER NOT NULL,
    month TEXT NOT NULL,
    value REAL NOT NULL,
    PRIMARY KEY (factor_id_1, factor_id_2, month)
);

CREATE TABLE IF NOT EXISTS specific_variance (
    security_id INTEGER NOT NULL,
    month TEXT NOT NULL,
    raw REAL NOT NULL,
    shrunk REAL NOT NULL,
    PRIMARY KEY (security_id, month)
);

CREATE TABLE IF NOT EXISTS regression_diagnostics (
    month TEXT PRIMARY KEY,
    method TEXT NOT NULL,
    condition_number REAL NOT NULL,
    alpha REAL NOT NULL,
    r_squared REAL NOT NULL,
    n_factors INTEGER NOT NULL,
    n_stocks INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exposures_month ON exposures(month);
CREATE INDEX IF NOT EXISTS idx_factor_returns_month ON factor_returns(month);
CREATE INDEX IF NOT EXISTS idx_prices_security ON prices(security_id, date);
CREATE INDEX IF NOT EXISTS idx_benchmark_constituents_month ON benchmark_constituents(benchmark_id, month);
`

// InitSchema creates the risk model's analytics-store tables if absent.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
