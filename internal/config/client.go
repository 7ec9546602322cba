package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// ClientConfig configures the owner-side delegate CLI.
type ClientConfig struct {
	RPCURL                string `env:"DELEGATE_RPC_URL"`
	RegistryURL           string `env:"DELEGATE_REGISTRY_URL" envDefault:"http://localhost:8080"`
	APIToken              string `env:"DELEGATE_API_TOKEN"`
	OwnerKeystore         string `env:"DELEGATE_OWNER_KEYSTORE"`
	OwnerPassword         string `env:"DELEGATE_OWNER_PASSWORD"`
	OwnerKey              string `env:"DELEGATE_OWNER_KEY"`
	SettlementContract    string `env:"DELEGATE_SETTLEMENT_ADDRESS"`
	FundingToken          string `env:"DELEGATE_TOKEN_ADDRESS"`
	KeyDir                string `env:"DELEGATE_KEY_DIR" envDefault:".sessionpay/keys"`
	SessionPassphrase     string `env:"DELEGATE_SESSION_PASSPHRASE"`
	ChainID               int64  `env:"DELEGATE_CHAIN_ID" envDefault:"0"`
	RetryAttempts         int    `env:"DELEGATE_RETRY_ATTEMPTS" envDefault:"5"`
	RetryDelaySeconds     int    `env:"DELEGATE_RETRY_DELAY_SECONDS" envDefault:"3"`
	LedgerAttempts        int    `env:"DELEGATE_LEDGER_ATTEMPTS" envDefault:"1"`
	SettleDelaySeconds    int    `env:"DELEGATE_SETTLE_DELAY_SECONDS" envDefault:"2"`
	ReceiptTimeoutSeconds int    `env:"DELEGATE_RECEIPT_TIMEOUT_SECONDS" envDefault:"120"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *ClientConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c *ClientConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelaySeconds) * time.Second
}

func (c *ClientConfig) ReceiptTimeout() time.Duration {
	return time.Duration(c.ReceiptTimeoutSeconds) * time.Second
}

// ValidateWallet checks the settings needed by commands that sign or send transactions.
func (c *ClientConfig) ValidateWallet() error {
	if c.RPCURL == "" {
		return fmt.Errorf("DELEGATE_RPC_URL is required")
	}
	if c.OwnerKeystore == "" && c.OwnerKey == "" {
		return fmt.Errorf("one of DELEGATE_OWNER_KEYSTORE or DELEGATE_OWNER_KEY is required")
	}
	if c.OwnerKeystore != "" && c.OwnerPassword == "" {
		return fmt.Errorf("DELEGATE_OWNER_PASSWORD is required with DELEGATE_OWNER_KEYSTORE")
	}
	for name, addr := range map[string]string{
		"DELEGATE_SETTLEMENT_ADDRESS": c.SettlementContract,
		"DELEGATE_TOKEN_ADDRESS":      c.FundingToken,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s must be a 0x-prefixed 20-byte hex address", name)
		}
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("DELEGATE_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

func LoadClient() (*ClientConfig, error) {
	var cfg ClientConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	return &cfg, nil
}
