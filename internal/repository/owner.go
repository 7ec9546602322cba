package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/model"
)

type OwnerRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Owner, error)
	FindByWallet(ctx context.Context, walletAddress string) (*model.Owner, error)
	Create(ctx context.Context, params model.CreateOwnerParams) (*model.Owner, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) OwnerRepository
}

type ownerRepo struct {
	db database.DBTX
}

func NewOwnerRepository(db *sqlx.DB) OwnerRepository {
	return &ownerRepo{db: db}
}

func (r *ownerRepo) WithTx(tx *sqlx.Tx) OwnerRepository {
	return &ownerRepo{db: tx}
}

func (r *ownerRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Owner, error) {
	var owner model.Owner
	err := r.db.GetContext(ctx, &owner, `
		SELECT * FROM owners
		WHERE api_token_hash = $1 AND disabled_at IS NULL
	`, tokenHash)
	return HandleNotFound(&owner, err)
}

func (r *ownerRepo) FindByWallet(ctx context.Context, walletAddress string) (*model.Owner, error) {
	var owner model.Owner
	err := r.db.GetContext(ctx, &owner, `
		SELECT * FROM owners WHERE lower(wallet_address) = lower($1)
	`, walletAddress)
	return HandleNotFound(&owner, err)
}

func (r *ownerRepo) Create(ctx context.Context, params model.CreateOwnerParams) (*model.Owner, error) {
	var owner model.Owner
	err := r.db.GetContext(ctx, &owner, `
		INSERT INTO owners (wallet_address, api_token_hash, rate_limit_per_minute)
		VALUES ($1, $2, $3)
		RETURNING *
	`, params.WalletAddress, params.APITokenHash, params.RateLimitPerMin)
	if err != nil {
		return nil, err
	}
	return &owner, nil
}
