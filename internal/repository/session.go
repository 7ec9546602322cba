package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/model"
)

var (
	// ErrSessionExists is returned by Create when the session id is already registered.
	ErrSessionExists = errors.New("session already exists")
	// ErrUsageRejected is returned by RecordUsage when the conditional update matched no row.
	ErrUsageRejected = errors.New("usage rejected")
)

type SessionFilter struct {
	ActiveOnly bool
	Now        time.Time
	Limit      int
	Offset     int
}

type SessionRepository interface {
	FindBySessionID(ctx context.Context, sessionID string) (*model.Session, error)
	FindActiveByOwner(ctx context.Context, ownerID string, now time.Time) (*model.Session, error)
	ListByOwner(ctx context.Context, ownerID string, filter SessionFilter) ([]model.Session, error)
	CountByOwner(ctx context.Context, ownerID string, filter SessionFilter) (int, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	RecordUsage(ctx context.Context, sessionID string, amount int64, now time.Time) (*model.Session, error)
	Revoke(ctx context.Context, sessionID string, now time.Time) (*model.Session, error)
	MarkExpired(ctx context.Context, sessionID string, now time.Time) error
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindBySessionID(ctx context.Context, sessionID string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE session_id = $1
	`, sessionID)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindActiveByOwner(ctx context.Context, ownerID string, now time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions
		WHERE owner_id = $1
		AND status = 'active'
		AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, now)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) ListByOwner(ctx context.Context, ownerID string, filter SessionFilter) ([]model.Session, error) {
	sessions := []model.Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE owner_id = $1
		AND (NOT $2::boolean OR (status = 'active' AND expires_at > $3))
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`, ownerID, filter.ActiveOnly, filter.Now, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) CountByOwner(ctx context.Context, ownerID string, filter SessionFilter) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM sessions
		WHERE owner_id = $1
		AND (NOT $2::boolean OR (status = 'active' AND expires_at > $3))
	`, ownerID, filter.ActiveOnly, filter.Now)
	return count, err
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (
			session_id, owner_id, owner_address, signer_address, agent_id,
			single_limit, daily_limit, usage_day, expires_at, id_verified,
			auth_message, owner_signature
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::date, $9, $10, $11, $12)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING *
	`, params.SessionID, params.OwnerID, params.OwnerAddress, params.SignerAddress, params.AgentID,
		params.SingleLimit, params.DailyLimit, model.UsageDayOf(time.Now()), params.ExpiresAt, params.IDVerified,
		params.AuthMessage, params.OwnerSignature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionExists
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// RecordUsage adds amount to the session's usage for the day containing now.
// The counter resets when the stored usage day is older. The update only
// applies while the session is active, unexpired and the new total stays
// within both limits; otherwise ErrUsageRejected is returned and nothing changes.
func (r *sessionRepo) RecordUsage(ctx context.Context, sessionID string, amount int64, now time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			used_today = CASE WHEN usage_day < $3::date THEN $2::bigint ELSE used_today + $2::bigint END,
			usage_day = GREATEST(usage_day, $3::date),
			updated_at = $4
		WHERE session_id = $1
		AND status = 'active'
		AND expires_at > $4
		AND $2::bigint > 0
		AND $2::bigint <= single_limit
		AND (CASE WHEN usage_day < $3::date THEN 0 ELSE used_today END) + $2::bigint <= daily_limit
		RETURNING *
	`, sessionID, amount, model.UsageDayOf(now), now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUsageRejected
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Revoke moves an active session to revoked. Calling it again, or on an
// expired session, leaves the row untouched and returns it as stored.
func (r *sessionRepo) Revoke(ctx context.Context, sessionID string, now time.Time) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		UPDATE sessions SET
			status = 'revoked',
			revoked_at = $2,
			updated_at = $2
		WHERE session_id = $1 AND status = 'active'
		RETURNING *
	`, sessionID, now)
	if errors.Is(err, sql.ErrNoRows) {
		return r.FindBySessionID(ctx, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) MarkExpired(ctx context.Context, sessionID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			status = 'expired',
			updated_at = $2
		WHERE session_id = $1
		AND status = 'active'
		AND expires_at <= $2
	`, sessionID, now)
	return err
}
