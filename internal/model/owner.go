package model

import (
	"time"
)

type Owner struct {
	ID              string     `db:"id" json:"id"`
	WalletAddress   string     `db:"wallet_address" json:"walletAddress"`
	APITokenHash    string     `db:"api_token_hash" json:"-"`
	RateLimitPerMin int        `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updatedAt"`
	DisabledAt      *time.Time `db:"disabled_at" json:"disabledAt,omitempty"`
}

type CreateOwnerParams struct {
	WalletAddress   string
	APITokenHash    string
	RateLimitPerMin int
}
