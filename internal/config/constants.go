package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Ledger reads made while handling a request
const LedgerCallTimeout = 10 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 60

// Session limit floors in micro-units (0.0001 and 0.001).
const (
	MinSingleLimit = 100
	MinDailyLimit  = 1000
)
