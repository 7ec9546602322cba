package delegation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/registryclient"
	"github.com/paymind/sessionpay/internal/units"
)

const maxExpiryDays = 365

// Registry is the part of the registry API the delegation pipeline uses.
type Registry interface {
	CreateSession(ctx context.Context, req registryclient.CreateSessionRequest) (*registryclient.Session, error)
	RevokeSession(ctx context.Context, sessionID string) (*registryclient.Session, error)
}

type DelegatorConfig struct {
	Settlement  common.Address
	Token       common.Address
	SettleDelay time.Duration
	Retry       RetryPolicy
	// LedgerAttempts bounds how often a dropped createSession is resent.
	// Zero means a single attempt.
	LedgerAttempts int
}

// Delegator runs the owner-side session setup: key generation, authorization,
// funding allowance, ledger registration and registry hand-off.
type Delegator struct {
	registry  Registry
	keys      *SessionKeyStore
	signer    *AuthorizationSigner
	allowance *AllowanceManager
	registrar *Registrar
	reader    *ledger.SessionReader
	retry     RetryPolicy
	resend    RetryPolicy
	now       func() time.Time
}

func NewDelegator(wallet WalletSigner, registry Registry, keys *SessionKeyStore, cfg DelegatorConfig) *Delegator {
	retry := cfg.Retry
	if retry.Retryable == nil {
		retry.Retryable = registryclient.IsNotOnChainYet
	}
	resend := RetryPolicy{
		MaxAttempts: cfg.LedgerAttempts,
		Retryable:   func(err error) bool { return errors.Is(err, ErrTransactionDropped) },
	}
	return &Delegator{
		registry:  registry,
		keys:      keys,
		signer:    NewAuthorizationSigner(wallet),
		allowance: NewAllowanceManager(wallet, cfg.Token, cfg.Settlement),
		registrar: NewRegistrar(wallet, cfg.Settlement, cfg.SettleDelay),
		reader:    ledger.NewSessionReader(wallet, cfg.Settlement, cfg.Token),
		retry:     retry,
		resend:    resend,
		now:       time.Now,
	}
}

// SetupParams are the owner's choices for a new session. Limits are micro-units.
type SetupParams struct {
	SingleLimit int64
	DailyLimit  int64
	ExpiryDays  int
	Passphrase  string
	AgentID     *string
}

type SetupResult struct {
	SignerAddress common.Address
	KeyPath       string
	SingleLimit   int64
	DailyLimit    int64
	Decimals      uint8
	Registration  *Registration
	Session       *registryclient.Session
}

// ClampLimits raises limits to the registry floors and keeps daily at least single.
func ClampLimits(single, daily int64) (int64, int64) {
	single = max(single, config.MinSingleLimit)
	daily = max(daily, single, config.MinDailyLimit)
	return single, daily
}

// Setup creates a session end to end. Steps run in order and the first failure
// stops the pipeline. When the ledger session exists but the registry never
// accepts it, the result is returned together with an *UnconfirmedError and a
// pending registration is left in the key store.
func (d *Delegator) Setup(ctx context.Context, p SetupParams) (*SetupResult, error) {
	if p.ExpiryDays < 1 || p.ExpiryDays > maxExpiryDays {
		return nil, fmt.Errorf("expiry must be between 1 and %d days", maxExpiryDays)
	}
	single, daily := ClampLimits(p.SingleLimit, p.DailyLimit)
	if single != p.SingleLimit || daily != p.DailyLimit {
		log.Warn().
			Str("singleLimit", units.Format(single)).
			Str("dailyLimit", units.Format(daily)).
			Msg("limits raised to registry minimums")
	}

	key, err := GenerateSessionKey()
	if err != nil {
		return nil, err
	}
	result := &SetupResult{
		SignerAddress: key.Address(),
		SingleLimit:   single,
		DailyLimit:    daily,
	}

	_, signature, err := d.signer.Sign(ctx, AuthorizationRequest{
		SignerAddress: key.Address().Hex(),
		SingleLimit:   single,
		DailyLimit:    daily,
		ExpiryDays:    p.ExpiryDays,
	})
	if err != nil {
		return nil, err
	}

	result.Decimals = d.reader.TokenDecimals(ctx)
	if _, err := d.allowance.EnsureAllowance(ctx, units.ToToken(daily, result.Decimals)); err != nil {
		return nil, err
	}

	prepared, err := d.registrar.Prepare(ctx, RegistrationParams{
		Signer:      key.Address(),
		SingleLimit: single,
		DailyLimit:  daily,
		ExpiryDays:  p.ExpiryDays,
		Decimals:    result.Decimals,
	})
	if err != nil {
		return nil, err
	}

	// The key must be on disk before the ledger can hold a session for it.
	if result.KeyPath, err = d.keys.Save(key, p.Passphrase); err != nil {
		return nil, err
	}

	var reg *Registration
	err = d.resend.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		reg, err = d.registrar.Submit(ctx, prepared)
		if err != nil && d.resend.Retryable(err) {
			log.Warn().Err(err).Int("attempt", attempt).Msg("createSession dropped")
		}
		return err
	})
	if err != nil {
		// A rejected transaction leaves no session, so the key is useless.
		// A dropped one may still be mined later and keeps its key.
		if errors.Is(err, ErrLedgerRejected) {
			if rerr := d.keys.Remove(key.Address()); rerr != nil {
				log.Warn().Err(rerr).Str("signer", key.Address().Hex()).Msg("failed to remove session key")
			}
		}
		return nil, err
	}
	result.Registration = reg

	pending := PendingRegistration{
		SessionID:   reg.SessionID.Hex(),
		Confirmed:   reg.Confirmed,
		Signer:      key.Address().Hex(),
		SingleLimit: single,
		DailyLimit:  daily,
		ExpiryDays:  p.ExpiryDays,
		Signature:   signature,
		TxHash:      reg.TxHash.Hex(),
		CreatedAt:   d.now().UTC(),
	}
	if err := d.keys.SavePending(pending); err != nil {
		log.Warn().Err(err).Str("sessionId", pending.SessionID).Msg("failed to write pending registration")
	}

	session, err := d.submit(ctx, pending, p.AgentID)
	if err != nil {
		return result, err
	}
	result.Session = session
	return result, nil
}

// Resume re-submits a pending registration to the registry.
func (d *Delegator) Resume(ctx context.Context, pending PendingRegistration) (*registryclient.Session, error) {
	return d.submit(ctx, pending, nil)
}

func (d *Delegator) submit(ctx context.Context, pending PendingRegistration, agentID *string) (*registryclient.Session, error) {
	idVerified := pending.Confirmed
	req := registryclient.CreateSessionRequest{
		SessionID:   pending.SessionID,
		Signer:      pending.Signer,
		SingleLimit: pending.SingleLimit,
		DailyLimit:  pending.DailyLimit,
		ExpiryDays:  pending.ExpiryDays,
		Signature:   pending.Signature,
		AgentID:     agentID,
		IDVerified:  &idVerified,
	}

	var session *registryclient.Session
	err := d.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		session, err = d.registry.CreateSession(ctx, req)
		if err != nil && d.retry.Retryable(err) {
			log.Info().
				Str("sessionId", req.SessionID).
				Int("attempt", attempt).
				Msg("registry cannot see session on ledger yet")
		}
		return err
	})
	if err != nil {
		if d.retry.Retryable(err) {
			return nil, &UnconfirmedError{SessionID: pending.SessionID, Err: err}
		}
		return nil, fmt.Errorf("register session: %w", err)
	}

	if rerr := d.keys.RemovePending(common.HexToAddress(pending.Signer)); rerr != nil {
		log.Warn().Err(rerr).Str("sessionId", pending.SessionID).Msg("failed to remove pending registration")
	}

	log.Info().
		Str("sessionId", session.SessionID).
		Str("signer", pending.Signer).
		Msg("session registered")
	return session, nil
}
