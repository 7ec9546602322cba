package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                   int    `env:"PORT" envDefault:"8080"`
	DatabaseURL            string `env:"DATABASE_URL,required"`
	RedisURL               string `env:"REDIS_URL,required"`
	LogLevel               string `env:"LOG_LEVEL" envDefault:"info"`
	LedgerRPCURL           string `env:"LEDGER_RPC_URL"`
	SettlementContract     string `env:"SETTLEMENT_CONTRACT_ADDRESS"`
	FundingToken           string `env:"FUNDING_TOKEN_ADDRESS"`
	ChainID                int64  `env:"CHAIN_ID" envDefault:"97"`
	NonceTTLSeconds        int    `env:"NONCE_TTL_SECONDS" envDefault:"2592000"`
	PaymentRateLimitPerMin int    `env:"PAYMENT_RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	BodyLimitBytes         int64  `env:"BODY_LIMIT_BYTES" envDefault:"1048576"`
	MigrateOnStart         bool   `env:"MIGRATE_ON_START" envDefault:"false"`
}

func (c *Config) NonceTTL() time.Duration {
	return time.Duration(c.NonceTTLSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LedgerEnabled reports whether sessions are verified against the settlement contract.
func (c *Config) LedgerEnabled() bool {
	return c.LedgerRPCURL != "" && c.SettlementContract != ""
}

func (c *Config) Validate(isProduction bool) error {
	for name, addr := range map[string]string{
		"SETTLEMENT_CONTRACT_ADDRESS": c.SettlementContract,
		"FUNDING_TOKEN_ADDRESS":       c.FundingToken,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s must be a 0x-prefixed 20-byte hex address", name)
		}
	}

	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}
	if c.NonceTTLSeconds <= 0 {
		return fmt.Errorf("NONCE_TTL_SECONDS must be positive")
	}

	if isProduction {
		if !c.LedgerEnabled() {
			return fmt.Errorf("LEDGER_RPC_URL and SETTLEMENT_CONTRACT_ADDRESS are required in production")
		}
		if c.FundingToken == "" {
			return fmt.Errorf("FUNDING_TOKEN_ADDRESS is required in production")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	} else if !c.LedgerEnabled() {
		log.Warn().Msg("ledger not configured: session ids are generated locally and not verified on-chain")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
