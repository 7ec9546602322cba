package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/delegation"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/repository"
	"github.com/paymind/sessionpay/internal/sse"
	"github.com/paymind/sessionpay/internal/units"
)

const maxExpiryDays = 365

// SessionLedger reads session records from the settlement contract.
type SessionLedger interface {
	GetSession(ctx context.Context, sessionID common.Hash) (*ledger.OnChainSession, error)
	TokenDecimals(ctx context.Context) uint8
}

// EventPublisher delivers events to an owner's stream.
type EventPublisher interface {
	Publish(ctx context.Context, ownerID string, event sse.Event) error
}

type CreateSessionInput struct {
	SessionID   string
	Signer      string
	SingleLimit int64
	DailyLimit  int64
	ExpiryDays  int
	Signature   string
	AgentID     *string
	IDVerified  *bool
}

type ListSessionsInput struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}

type SessionService struct {
	sessionRepo repository.SessionRepository
	ledger      SessionLedger
	broker      EventPublisher
	now         func() time.Time
}

// NewSessionService creates the registry service. A nil ledger runs the
// registry without on-chain verification and assigns ids locally.
func NewSessionService(
	sessionRepo repository.SessionRepository,
	ledger SessionLedger,
	broker EventPublisher,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		ledger:      ledger,
		broker:      broker,
		now:         time.Now,
	}
}

func (s *SessionService) Create(ctx context.Context, owner *model.Owner, in CreateSessionInput) (*model.Session, error) {
	if err := validateCreateInput(in); err != nil {
		return nil, err
	}

	message := delegation.BuildAuthorizationMessage(delegation.AuthorizationRequest{
		SignerAddress: in.Signer,
		SingleLimit:   in.SingleLimit,
		DailyLimit:    in.DailyLimit,
		ExpiryDays:    in.ExpiryDays,
	})

	ownerAddr := common.HexToAddress(owner.WalletAddress)
	recovered, err := ledger.RecoverPersonalSigner([]byte(message), in.Signature)
	if err != nil {
		return nil, apperrors.InvalidSignature("Malformed authorization signature").WithCause(err)
	}
	if recovered != ownerAddr {
		return nil, apperrors.InvalidSignature("Authorization was not signed by the owner wallet")
	}

	now := s.now()
	signer := common.HexToAddress(in.Signer)
	params := model.CreateSessionParams{
		OwnerID:        owner.ID,
		OwnerAddress:   ownerAddr.Hex(),
		SignerAddress:  signer.Hex(),
		AgentID:        in.AgentID,
		SingleLimit:    in.SingleLimit,
		DailyLimit:     in.DailyLimit,
		ExpiresAt:      now.Add(time.Duration(in.ExpiryDays) * 24 * time.Hour),
		IDVerified:     true,
		AuthMessage:    message,
		OwnerSignature: in.Signature,
	}
	if in.IDVerified != nil {
		params.IDVerified = *in.IDVerified
	}

	switch {
	case s.ledger != nil:
		if in.SessionID == "" {
			return nil, apperrors.MissingRequired("sessionId")
		}
		id, err := ledger.ParseSessionID(in.SessionID)
		if err != nil {
			return nil, apperrors.InvalidInput("sessionId", err.Error())
		}
		if err := s.applyLedgerRecord(ctx, id, ownerAddr, signer, now, &params); err != nil {
			return nil, err
		}
	case in.SessionID != "":
		id, err := ledger.ParseSessionID(in.SessionID)
		if err != nil {
			return nil, apperrors.InvalidInput("sessionId", err.Error())
		}
		params.SessionID = id.Hex()
	default:
		params.SessionID = ledger.LocalSessionID(ownerAddr, signer, now.UnixMilli()).Hex()
	}

	session, err := s.sessionRepo.Create(ctx, params)
	if errors.Is(err, repository.ErrSessionExists) {
		return s.existingSession(ctx, owner, params)
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Info().
		Str("sessionId", session.SessionID).
		Str("ownerId", owner.ID).
		Str("signer", session.SignerAddress).
		Int64("singleLimit", session.SingleLimit).
		Int64("dailyLimit", session.DailyLimit).
		Bool("idVerified", session.IDVerified).
		Msg("session registered")

	s.publish(ctx, owner.ID, model.EventSessionCreated, session)
	return session, nil
}

// applyLedgerRecord checks the on-chain record against the request and copies
// its limits and expiry, which take precedence over the submitted values.
func (s *SessionService) applyLedgerRecord(
	ctx context.Context,
	id common.Hash,
	owner, signer common.Address,
	now time.Time,
	params *model.CreateSessionParams,
) error {
	ctx, cancel := context.WithTimeout(ctx, config.LedgerCallTimeout)
	defer cancel()

	record, err := s.ledger.GetSession(ctx, id)
	if err != nil {
		return apperrors.External("ledger", err)
	}
	if !record.Exists() {
		return apperrors.SessionNotOnChain(id.Hex())
	}
	if record.Owner != owner {
		return apperrors.LedgerMismatch("owner")
	}
	if record.Signer != signer {
		return apperrors.LedgerMismatch("signer")
	}
	if !record.IsActive {
		return apperrors.StaleSession(string(model.SessionStatusRevoked))
	}

	decimals := s.ledger.TokenDecimals(ctx)
	single, err := units.FromToken(record.SingleLimit, decimals)
	if err != nil {
		return apperrors.LedgerMismatch("single limit").WithCause(err)
	}
	daily, err := units.FromToken(record.DailyLimit, decimals)
	if err != nil {
		return apperrors.LedgerMismatch("daily limit").WithCause(err)
	}
	if single <= 0 || daily < single {
		return apperrors.LedgerMismatch("limits")
	}

	expiresAt := time.Unix(record.Expiry.Int64(), 0)
	if !expiresAt.After(now) {
		return apperrors.StaleSession(string(model.SessionStatusExpired))
	}

	params.SessionID = id.Hex()
	params.SingleLimit = single
	params.DailyLimit = daily
	params.ExpiresAt = expiresAt
	return nil
}

// existingSession resolves a create that collided with an already registered id.
// Re-submitting the same owner and signer returns the stored record.
func (s *SessionService) existingSession(ctx context.Context, owner *model.Owner, params model.CreateSessionParams) (*model.Session, error) {
	existing, err := s.sessionRepo.FindBySessionID(ctx, params.SessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing == nil || existing.OwnerID != owner.ID || !strings.EqualFold(existing.SignerAddress, params.SignerAddress) {
		return nil, apperrors.AlreadyExists("Session")
	}

	log.Info().
		Str("sessionId", existing.SessionID).
		Str("ownerId", owner.ID).
		Msg("session already registered, returning existing record")
	return existing, nil
}

func (s *SessionService) Get(ctx context.Context, ownerID, sessionID string) (*model.Session, error) {
	session, err := s.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil || session.OwnerID != ownerID {
		return nil, apperrors.NotFound("Session")
	}
	return session, nil
}

func (s *SessionService) List(ctx context.Context, ownerID string, in ListSessionsInput) ([]model.Session, int, error) {
	filter := repository.SessionFilter{
		ActiveOnly: in.ActiveOnly,
		Now:        s.now(),
		Limit:      in.Limit,
		Offset:     in.Offset,
	}

	sessions, err := s.sessionRepo.ListByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	total, err := s.sessionRepo.CountByOwner(ctx, ownerID, filter)
	if err != nil {
		return nil, 0, apperrors.Database(err)
	}
	return sessions, total, nil
}

// Active returns the owner's newest usable session, or nil.
func (s *SessionService) Active(ctx context.Context, ownerID string) (*model.Session, error) {
	session, err := s.sessionRepo.FindActiveByOwner(ctx, ownerID, s.now())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return session, nil
}

// Revoke marks the session revoked. Revoking an already revoked or expired
// session returns it unchanged.
func (s *SessionService) Revoke(ctx context.Context, ownerID, sessionID string) (*model.Session, error) {
	current, err := s.Get(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	session, err := s.sessionRepo.Revoke(ctx, sessionID, s.now())
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.NotFound("Session")
	}

	if current.Status == model.SessionStatusActive && session.Status == model.SessionStatusRevoked {
		log.Info().
			Str("sessionId", sessionID).
			Str("ownerId", ownerID).
			Msg("session revoked")
		s.publish(ctx, ownerID, model.EventSessionRevoked, session)
	}
	return session, nil
}

func (s *SessionService) publish(ctx context.Context, ownerID string, eventType model.EventType, data any) {
	if s.broker == nil {
		return
	}
	event, err := sse.NewEvent(string(eventType), data)
	if err != nil {
		log.Error().Err(err).Str("eventType", string(eventType)).Msg("failed to encode event")
		return
	}
	if err := s.broker.Publish(ctx, ownerID, event); err != nil {
		log.Warn().Err(err).Str("ownerId", ownerID).Str("eventType", string(eventType)).Msg("failed to publish event")
	}
}

func validateCreateInput(in CreateSessionInput) error {
	if in.Signer == "" {
		return apperrors.MissingRequired("signer")
	}
	if !common.IsHexAddress(in.Signer) {
		return apperrors.InvalidInput("signer", "must be a 0x-prefixed 20-byte address")
	}
	if in.Signature == "" {
		return apperrors.MissingRequired("signature")
	}
	if in.SingleLimit < config.MinSingleLimit {
		return apperrors.InvalidInput("singleLimit", "below minimum of "+units.Format(config.MinSingleLimit))
	}
	if in.DailyLimit < max(in.SingleLimit, config.MinDailyLimit) {
		return apperrors.InvalidInput("dailyLimit", "must be at least the single limit and "+units.Format(config.MinDailyLimit))
	}
	if in.ExpiryDays < 1 || in.ExpiryDays > maxExpiryDays {
		return apperrors.InvalidInput("expiryDays", "must be between 1 and 365")
	}
	return nil
}
