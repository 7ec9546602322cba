package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/model"
)

// ErrDuplicatePayment is returned when a payment id was already recorded for the session.
var ErrDuplicatePayment = errors.New("payment already recorded")

const pqUniqueViolation = "23505"

type PaymentRepository interface {
	Create(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentRecord, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.PaymentRecord, error)
	// WithTx returns a new repository that uses the given transaction
	WithTx(tx *sqlx.Tx) PaymentRepository
}

type paymentRepo struct {
	db database.DBTX
}

func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepo{db: db}
}

func (r *paymentRepo) WithTx(tx *sqlx.Tx) PaymentRepository {
	return &paymentRepo{db: tx}
}

func (r *paymentRepo) Create(ctx context.Context, params model.CreatePaymentParams) (*model.PaymentRecord, error) {
	var record model.PaymentRecord
	err := r.db.GetContext(ctx, &record, `
		INSERT INTO payment_records (id, session_id, payment_id, recipient, amount, nonce, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, uuid.NewString(), params.SessionID, params.PaymentID, params.Recipient, params.Amount, params.Nonce, time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrDuplicatePayment
		}
		return nil, err
	}
	return &record, nil
}

func (r *paymentRepo) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]model.PaymentRecord, error) {
	records := []model.PaymentRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM payment_records
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	if err != nil {
		return nil, err
	}
	return records, nil
}
