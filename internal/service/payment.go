package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/database"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/repository"
	"github.com/paymind/sessionpay/internal/sse"
	"github.com/paymind/sessionpay/internal/units"
)

// TxRunner runs fn in a database transaction. *database.DB satisfies it.
type TxRunner interface {
	WithTx(ctx context.Context, fn database.TxFunc) error
}

// NonceAdvancer is the replay guard for payment requests.
type NonceAdvancer interface {
	Advance(ctx context.Context, sessionID string, nonce int64) (bool, error)
}

// PaymentRequest is an agent's request to spend from a session. Amount is in
// base units of a token with TokenDecimals decimals (6 when unset).
type PaymentRequest struct {
	SessionID     string `json:"sessionId"`
	PaymentID     string `json:"paymentId"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
	TokenDecimals *uint8 `json:"tokenDecimals,omitempty"`
	Nonce         int64  `json:"nonce"`
	Signature     string `json:"signature"`
}

type PaymentResult struct {
	Payment        *model.PaymentRecord `json:"payment"`
	SessionID      string               `json:"sessionId"`
	UsedToday      int64                `json:"usedToday"`
	RemainingToday int64                `json:"remainingToday"`
	OwnerID        string               `json:"-"`
}

type PaymentService struct {
	db          TxRunner
	sessionRepo repository.SessionRepository
	paymentRepo repository.PaymentRepository
	enforcer    *SpendEnforcer
	nonces      NonceAdvancer
	broker      EventPublisher
	chainID     *big.Int
	now         func() time.Time
}

func NewPaymentService(
	db TxRunner,
	sessionRepo repository.SessionRepository,
	paymentRepo repository.PaymentRepository,
	enforcer *SpendEnforcer,
	nonces NonceAdvancer,
	broker EventPublisher,
	chainID int64,
) *PaymentService {
	return &PaymentService{
		db:          db,
		sessionRepo: sessionRepo,
		paymentRepo: paymentRepo,
		enforcer:    enforcer,
		nonces:      nonces,
		broker:      broker,
		chainID:     big.NewInt(chainID),
		now:         time.Now,
	}
}

// Authorize verifies the session-key signature over the payment, guards
// against replay, enforces the session limits and records the payment.
func (s *PaymentService) Authorize(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	sessionHash, to, micro, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.FindBySessionID(ctx, sessionHash.Hex())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	digest := ledger.PaymentDigest(sessionHash, to, big.NewInt(micro), ledger.PaymentIDHash(req.PaymentID), s.chainID)
	recovered, err := ledger.RecoverPersonalSigner(digest.Bytes(), req.Signature)
	if err != nil {
		return nil, apperrors.InvalidSignature("Malformed payment signature").WithCause(err)
	}
	if !strings.EqualFold(recovered.Hex(), session.SignerAddress) {
		return nil, apperrors.InvalidSignature("Payment was not signed by the session key")
	}

	fresh, err := s.nonces.Advance(ctx, session.SessionID, req.Nonce)
	if err != nil {
		return nil, apperrors.External("nonce store", err)
	}
	if !fresh {
		return nil, apperrors.NonceReplay()
	}

	var updated *model.Session
	var record *model.PaymentRecord
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		enforcer, payments := s.enforcer, s.paymentRepo
		if tx != nil {
			enforcer, payments = s.enforcer.WithTx(tx), s.paymentRepo.WithTx(tx)
		}

		var err error
		updated, err = enforcer.Authorize(ctx, session.SessionID, micro)
		if err != nil {
			return err
		}

		record, err = payments.Create(ctx, model.CreatePaymentParams{
			SessionID: session.SessionID,
			PaymentID: req.PaymentID,
			Recipient: to.Hex(),
			Amount:    micro,
			Nonce:     req.Nonce,
		})
		if errors.Is(err, repository.ErrDuplicatePayment) {
			return apperrors.AlreadyExists("Payment")
		}
		if err != nil {
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		if _, ok := apperrors.AsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.Database(err)
	}

	now := s.now()
	result := &PaymentResult{
		Payment:        record,
		SessionID:      updated.SessionID,
		UsedToday:      updated.UsedOn(now),
		RemainingToday: updated.RemainingToday(now),
		OwnerID:        updated.OwnerID,
	}

	log.Info().
		Str("sessionId", updated.SessionID).
		Str("paymentId", req.PaymentID).
		Str("recipient", record.Recipient).
		Int64("amount", micro).
		Int64("remainingToday", result.RemainingToday).
		Msg("payment authorized")

	s.publish(ctx, updated.OwnerID, result)
	return result, nil
}

func (s *PaymentService) validate(req PaymentRequest) (common.Hash, common.Address, int64, error) {
	var none common.Hash
	var noAddr common.Address

	sessionHash, err := ledger.ParseSessionID(req.SessionID)
	if err != nil {
		return none, noAddr, 0, apperrors.InvalidInput("sessionId", err.Error())
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		return none, noAddr, 0, apperrors.MissingRequired("paymentId")
	}
	if !common.IsHexAddress(req.To) {
		return none, noAddr, 0, apperrors.InvalidInput("to", "must be a 0x-prefixed 20-byte address")
	}
	to := common.HexToAddress(req.To)
	if to == noAddr {
		return none, noAddr, 0, apperrors.InvalidInput("to", "zero address is not a valid recipient")
	}
	if req.Nonce <= 0 {
		return none, noAddr, 0, apperrors.InvalidInput("nonce", "must be positive")
	}
	if req.Signature == "" {
		return none, noAddr, 0, apperrors.MissingRequired("signature")
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return none, noAddr, 0, apperrors.InvalidInput("amount", "must be a positive integer in token base units")
	}

	decimals := uint8(units.SessionDecimals)
	if req.TokenDecimals != nil {
		decimals = *req.TokenDecimals
	}
	micro, err := units.FromToken(amount, decimals)
	if err != nil {
		return none, noAddr, 0, apperrors.InvalidInput("amount", err.Error())
	}
	if micro <= 0 {
		return none, noAddr, 0, apperrors.InvalidInput("amount", "below session precision")
	}

	return sessionHash, to, micro, nil
}

func (s *PaymentService) publish(ctx context.Context, ownerID string, result *PaymentResult) {
	if s.broker == nil {
		return
	}
	event, err := sse.NewEvent(string(model.EventPaymentAuthorized), result)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode payment event")
		return
	}
	if err := s.broker.Publish(ctx, ownerID, event); err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Msg("failed to publish payment event")
	}
}
