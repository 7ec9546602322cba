package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/repository"
)

// SpendEnforcer decides whether a payment fits within a session's limits and,
// if so, records it against the day's usage in one atomic step.
type SpendEnforcer struct {
	sessionRepo repository.SessionRepository
	now         func() time.Time
}

func NewSpendEnforcer(sessionRepo repository.SessionRepository) *SpendEnforcer {
	return &SpendEnforcer{
		sessionRepo: sessionRepo,
		now:         time.Now,
	}
}

// WithTx returns an enforcer whose reads and writes run in tx.
func (e *SpendEnforcer) WithTx(tx *sqlx.Tx) *SpendEnforcer {
	return &SpendEnforcer{
		sessionRepo: e.sessionRepo.WithTx(tx),
		now:         e.now,
	}
}

// Authorize checks amount (micro-units) against the session and records the
// usage. It returns the session as updated.
func (e *SpendEnforcer) Authorize(ctx context.Context, sessionID string, amount int64) (*model.Session, error) {
	session, err := e.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	now := e.now()
	if err := e.checkUsable(ctx, session, now); err != nil {
		return nil, err
	}

	if amount <= 0 {
		return nil, apperrors.InvalidInput("amount", "must be positive")
	}
	if amount > session.SingleLimit {
		return nil, apperrors.LimitExceeded("Exceeds single limit")
	}
	if session.UsedOn(now)+amount > session.DailyLimit {
		return nil, apperrors.LimitExceeded("Exceeds daily limit")
	}

	updated, err := e.sessionRepo.RecordUsage(ctx, sessionID, amount, now)
	if errors.Is(err, repository.ErrUsageRejected) {
		return nil, e.classifyRejection(ctx, sessionID, now)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Debug().
		Str("sessionId", sessionID).
		Int64("amount", amount).
		Int64("usedToday", updated.UsedToday).
		Int64("dailyLimit", updated.DailyLimit).
		Msg("spend authorized")

	return updated, nil
}

func (e *SpendEnforcer) checkUsable(ctx context.Context, session *model.Session, now time.Time) error {
	if session.Status != model.SessionStatusActive {
		return apperrors.StaleSession(string(session.Status))
	}
	if !now.Before(session.ExpiresAt) {
		if err := e.sessionRepo.MarkExpired(ctx, session.SessionID, now); err != nil {
			log.Warn().Err(err).Str("sessionId", session.SessionID).Msg("failed to mark session expired")
		}
		return apperrors.StaleSession(string(model.SessionStatusExpired))
	}
	return nil
}

// classifyRejection explains a conditional update that matched no row: the
// session changed state, or a concurrent payment consumed the remaining limit.
func (e *SpendEnforcer) classifyRejection(ctx context.Context, sessionID string, now time.Time) error {
	session, err := e.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return apperrors.Database(err)
	}
	if session == nil {
		return apperrors.NotFound("Session")
	}
	if err := e.checkUsable(ctx, session, now); err != nil {
		return err
	}
	return apperrors.LimitExceeded("Exceeds daily limit")
}
