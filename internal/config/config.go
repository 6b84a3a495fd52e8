package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the portfolio engine.
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Databases
	AnalyticsDatabasePath string // securities, prices, factor model outputs; written only by the risk model builder
	AccountDatabasePath   string // read-write: accounts, tax lots, transactions, rebalancing events

	// Logging
	LogLevel string

	// Risk model
	FactorCovWindowMonths     int     // rolling window for factor covariance, default 60
	FactorCovShortWindowMonths int    // short window used when blending, e.g. 12
	BlendFactorCovariance     bool    // enable short/long window blend
	ShrinkFactorCovariance    bool    // enable Ledoit-Wolf style shrinkage toward diagonal
	ShrinkageIntensity        float64 // 0..1, weight on the diagonal target
	SmoothSpecificRisk        bool    // optimizer reads specific_var_shrunk instead of raw
	ImputationWarningThreshold float64 // fraction of missing exposures that triggers a warning

	// Tax-loss harvesting
	WashSaleWindowDays     int     // default 30 (61-day window centered on sale date)
	LongTermHoldingDays    int     // default 365
	ShortTermTaxRate       float64 // default 0.37
	LongTermTaxRate        float64 // default 0.20
	MinTaxLossThreshold    float64 // minimum dollar loss to surface as an opportunity
	ReplacementCorrelationMinimum float64 // default 0.7
	ReplacementLookbackDays int    // default 252 trading days

	// Optimizer / rebalancer
	TurnoverLimit           float64 // max fraction of portfolio value traded per cycle
	TrackingErrorThreshold  float64 // trigger threshold, risk-model proxy units
	TrackingErrorCeiling    float64 // hard constraint ceiling, 0 disables
	TransactionCostFixed    float64
	TransactionCostPercent  float64
	LambdaTransactionCost   float64
	LambdaTaxBenefit        float64
	LambdaGainPenalty       float64
	MaxHarvestOpportunities int // top-N harvest pairs considered per cycle, default 10

	// Lot selection strategy: "hifo", "fifo", or "mintax"
	LotSelectionStrategy string
}

// Load reads configuration from environment variables, applying a .env file
// if one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnvAsInt("PORT", 8001),
		DevMode:               getEnvAsBool("DEV_MODE", false),
		AnalyticsDatabasePath: getEnv("ANALYTICS_DATABASE_PATH", "./data/analytics.db"),
		AccountDatabasePath:   getEnv("ACCOUNT_DATABASE_PATH", "./data/accounts.db"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),

		FactorCovWindowMonths:      getEnvAsInt("FACTOR_COV_WINDOW_MONTHS", 60),
		FactorCovShortWindowMonths: getEnvAsInt("FACTOR_COV_SHORT_WINDOW_MONTHS", 12),
		BlendFactorCovariance:      getEnvAsBool("BLEND_FACTOR_COVARIANCE", true),
		ShrinkFactorCovariance:     getEnvAsBool("SHRINK_FACTOR_COVARIANCE", true),
		ShrinkageIntensity:         getEnvAsFloat("SHRINKAGE_INTENSITY", 0.2),
		SmoothSpecificRisk:         getEnvAsBool("SMOOTH_SPECIFIC_RISK", true),
		ImputationWarningThreshold: getEnvAsFloat("IMPUTATION_WARNING_THRESHOLD", 0.3),

		WashSaleWindowDays:             getEnvAsInt("WASH_SALE_WINDOW_DAYS", 30),
		LongTermHoldingDays:            getEnvAsInt("LONG_TERM_HOLDING_DAYS", 365),
		ShortTermTaxRate:               getEnvAsFloat("SHORT_TERM_TAX_RATE", 0.37),
		LongTermTaxRate:                getEnvAsFloat("LONG_TERM_TAX_RATE", 0.20),
		MinTaxLossThreshold:            getEnvAsFloat("MIN_TAX_LOSS_THRESHOLD", 500.0),
		ReplacementCorrelationMinimum:  getEnvAsFloat("REPLACEMENT_CORRELATION_MINIMUM", 0.7),
		ReplacementLookbackDays:        getEnvAsInt("REPLACEMENT_LOOKBACK_DAYS", 252),

		TurnoverLimit:           getEnvAsFloat("TURNOVER_LIMIT", 0.20),
		TrackingErrorThreshold:  getEnvAsFloat("TRACKING_ERROR_THRESHOLD", 0.02),
		TrackingErrorCeiling:    getEnvAsFloat("TRACKING_ERROR_CEILING", 0.0),
		TransactionCostFixed:    getEnvAsFloat("TRANSACTION_COST_FIXED", 2.0),
		TransactionCostPercent:  getEnvAsFloat("TRANSACTION_COST_PERCENT", 0.002),
		LambdaTransactionCost:   getEnvAsFloat("LAMBDA_TRANSACTION_COST", 1.0),
		LambdaTaxBenefit:        getEnvAsFloat("LAMBDA_TAX_BENEFIT", 1.0),
		LambdaGainPenalty:       getEnvAsFloat("LAMBDA_GAIN_PENALTY", 0.5),
		MaxHarvestOpportunities: getEnvAsInt("MAX_HARVEST_OPPORTUNITIES", 10),

		LotSelectionStrategy: getEnv("LOT_SELECTION_STRATEGY", "hifo"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and internally consistent.
func (c *Config) Validate() error {
	if c.AnalyticsDatabasePath == "" {
		return fmt.Errorf("ANALYTICS_DATABASE_PATH is required")
	}
	if c.AccountDatabasePath == "" {
		return fmt.Errorf("ACCOUNT_DATABASE_PATH is required")
	}
	switch c.LotSelectionStrategy {
	case "hifo", "fifo", "mintax":
	default:
		return fmt.Errorf("LOT_SELECTION_STRATEGY must be one of hifo, fifo, mintax, got %q", c.LotSelectionStrategy)
	}
	if c.TurnoverLimit <= 0 || c.TurnoverLimit > 1 {
		return fmt.Errorf("TURNOVER_LIMIT must be in (0, 1], got %v", c.TurnoverLimit)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
