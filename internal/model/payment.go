package model

import (
	"time"
)

// PaymentRecord is the append-only trail of authorized payments.
type PaymentRecord struct {
	ID        string    `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"sessionId"`
	PaymentID string    `db:"payment_id" json:"paymentId"`
	Recipient string    `db:"recipient" json:"recipient"`
	Amount    int64     `db:"amount" json:"amount"`
	Nonce     int64     `db:"nonce" json:"nonce"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

type CreatePaymentParams struct {
	SessionID string
	PaymentID string
	Recipient string
	Amount    int64
	Nonce     int64
}
