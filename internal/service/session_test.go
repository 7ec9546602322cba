package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/paymind/sessionpay/internal/delegation"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/model"
)

type sessionFixture struct {
	svc      *SessionService
	repo     *memSessionRepo
	ledger   *mockLedger
	events   *recordingPublisher
	owner    *model.Owner
	ownerKey *ecdsa.PrivateKey
	signer   common.Address
	now      time.Time
}

func newSessionFixture(t *testing.T, withLedger bool) *sessionFixture {
	t.Helper()

	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	f := &sessionFixture{
		repo:     newMemSessionRepo(),
		events:   &recordingPublisher{},
		ownerKey: ownerKey,
		signer:   crypto.PubkeyToAddress(signerKey.PublicKey),
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		owner: &model.Owner{
			ID:            "owner-1",
			WalletAddress: crypto.PubkeyToAddress(ownerKey.PublicKey).Hex(),
		},
	}

	var sl SessionLedger
	if withLedger {
		f.ledger = &mockLedger{}
		sl = f.ledger
	}
	f.svc = NewSessionService(f.repo, sl, f.events)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *sessionFixture) input(t *testing.T, sessionID string) CreateSessionInput {
	t.Helper()
	in := CreateSessionInput{
		SessionID:   sessionID,
		Signer:      f.signer.Hex(),
		SingleLimit: 10 * usdc,
		DailyLimit:  100 * usdc,
		ExpiryDays:  30,
	}
	in.Signature = f.sign(t, f.ownerKey, in)
	return in
}

func (f *sessionFixture) sign(t *testing.T, key *ecdsa.PrivateKey, in CreateSessionInput) string {
	t.Helper()
	msg := delegation.BuildAuthorizationMessage(delegation.AuthorizationRequest{
		SignerAddress: in.Signer,
		SingleLimit:   in.SingleLimit,
		DailyLimit:    in.DailyLimit,
		ExpiryDays:    in.ExpiryDays,
	})
	sig, err := ledger.SignPersonal(key, []byte(msg))
	require.NoError(t, err)
	return hexutil.Encode(sig)
}

func (f *sessionFixture) onChain(single, daily int64) *ledger.OnChainSession {
	return &ledger.OnChainSession{
		Signer:        f.signer,
		Owner:         common.HexToAddress(f.owner.WalletAddress),
		SingleLimit:   big.NewInt(single),
		DailyLimit:    big.NewInt(daily),
		UsedToday:     big.NewInt(0),
		Expiry:        big.NewInt(f.now.Add(30 * 24 * time.Hour).Unix()),
		LastResetDate: big.NewInt(0),
		IsActive:      true,
	}
}

const testSessionID = "0x7a3f000000000000000000000000000000000000000000000000000000000001"

func TestSessionService_CreateWithoutLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns a local id and publishes", func(t *testing.T) {
		f := newSessionFixture(t, false)

		session, err := f.svc.Create(ctx, f.owner, f.input(t, ""))
		require.NoError(t, err)

		assert.Len(t, session.SessionID, 66)
		assert.Equal(t, f.signer.Hex(), session.SignerAddress)
		assert.Equal(t, 10*usdc, session.SingleLimit)
		assert.Equal(t, 100*usdc, session.DailyLimit)
		assert.Equal(t, f.now.Add(30*24*time.Hour), session.ExpiresAt)
		assert.Equal(t, []string{string(model.EventSessionCreated)}, f.events.types())
	})

	t.Run("keeps a supplied id", func(t *testing.T) {
		f := newSessionFixture(t, false)

		session, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		require.NoError(t, err)
		assert.Equal(t, common.HexToHash(testSessionID).Hex(), session.SessionID)
	})

	t.Run("rejects signature from another wallet", func(t *testing.T) {
		f := newSessionFixture(t, false)
		other, err := crypto.GenerateKey()
		require.NoError(t, err)

		in := f.input(t, "")
		in.Signature = f.sign(t, other, in)

		_, err = f.svc.Create(ctx, f.owner, in)
		assert.Equal(t, apperrors.ErrCodeInvalidSignature, apperrors.GetCode(err))
	})

	t.Run("rejects signature over different limits", func(t *testing.T) {
		f := newSessionFixture(t, false)

		in := f.input(t, "")
		in.DailyLimit = 200 * usdc

		_, err := f.svc.Create(ctx, f.owner, in)
		assert.Equal(t, apperrors.ErrCodeInvalidSignature, apperrors.GetCode(err))
	})

	t.Run("validates input", func(t *testing.T) {
		f := newSessionFixture(t, false)

		tests := []struct {
			name   string
			mutate func(*CreateSessionInput)
		}{
			{"bad signer", func(in *CreateSessionInput) { in.Signer = "0x123" }},
			{"single below floor", func(in *CreateSessionInput) { in.SingleLimit = 1 }},
			{"daily below single", func(in *CreateSessionInput) { in.DailyLimit = in.SingleLimit - 1 }},
			{"zero expiry", func(in *CreateSessionInput) { in.ExpiryDays = 0 }},
			{"expiry too long", func(in *CreateSessionInput) { in.ExpiryDays = 366 }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := f.input(t, "")
				tt.mutate(&in)
				_, err := f.svc.Create(ctx, f.owner, in)
				assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))
			})
		}
	})
}

func TestSessionService_CreateWithLedger(t *testing.T) {
	ctx := context.Background()
	id := common.HexToHash(testSessionID)

	t.Run("requires session id", func(t *testing.T) {
		f := newSessionFixture(t, true)

		_, err := f.svc.Create(ctx, f.owner, f.input(t, ""))
		assert.Equal(t, apperrors.ErrCodeMissingRequired, apperrors.GetCode(err))
	})

	t.Run("not visible yet", func(t *testing.T) {
		f := newSessionFixture(t, true)
		f.ledger.On("GetSession", mock.Anything, id).Return(&ledger.OnChainSession{}, nil)

		_, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		assert.Equal(t, apperrors.ErrCodeSessionNotOnChain, apperrors.GetCode(err))
		assert.Empty(t, f.repo.sessions)
	})

	t.Run("ledger read failure", func(t *testing.T) {
		f := newSessionFixture(t, true)
		f.ledger.On("GetSession", mock.Anything, id).Return(nil, errors.New("rpc down"))

		_, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		assert.Equal(t, apperrors.ErrCodeExternal, apperrors.GetCode(err))
	})

	t.Run("signer mismatch", func(t *testing.T) {
		f := newSessionFixture(t, true)
		record := f.onChain(10*usdc, 100*usdc)
		record.Signer = common.HexToAddress("0x9999999999999999999999999999999999999999")
		f.ledger.On("GetSession", mock.Anything, id).Return(record, nil)

		_, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		assert.Equal(t, apperrors.ErrCodeLedgerMismatch, apperrors.GetCode(err))
	})

	t.Run("inactive record is stale", func(t *testing.T) {
		f := newSessionFixture(t, true)
		record := f.onChain(10*usdc, 100*usdc)
		record.IsActive = false
		f.ledger.On("GetSession", mock.Anything, id).Return(record, nil)

		_, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		assert.Equal(t, apperrors.ErrCodeStaleSession, apperrors.GetCode(err))
	})

	t.Run("ledger limits take precedence", func(t *testing.T) {
		f := newSessionFixture(t, true)
		// 18-decimal token: 5 and 50 whole units
		single := new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18))
		daily := new(big.Int).Mul(big.NewInt(50), big.NewInt(1e18))
		record := f.onChain(0, 0)
		record.SingleLimit = single
		record.DailyLimit = daily
		f.ledger.On("GetSession", mock.Anything, id).Return(record, nil)
		f.ledger.On("TokenDecimals", mock.Anything).Return(uint8(18))

		session, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		require.NoError(t, err)

		assert.Equal(t, id.Hex(), session.SessionID)
		assert.Equal(t, 5*usdc, session.SingleLimit)
		assert.Equal(t, 50*usdc, session.DailyLimit)
		assert.Equal(t, time.Unix(record.Expiry.Int64(), 0), session.ExpiresAt)
		assert.True(t, session.IDVerified)
		f.ledger.AssertExpectations(t)
	})

	t.Run("unverified id is persisted", func(t *testing.T) {
		f := newSessionFixture(t, true)
		f.ledger.On("GetSession", mock.Anything, id).Return(f.onChain(10*usdc, 100*usdc), nil)
		f.ledger.On("TokenDecimals", mock.Anything).Return(uint8(6))

		in := f.input(t, testSessionID)
		unverified := false
		in.IDVerified = &unverified

		session, err := f.svc.Create(ctx, f.owner, in)
		require.NoError(t, err)
		assert.False(t, session.IDVerified)
		assert.False(t, f.repo.sessions[id.Hex()].IDVerified)
	})

	t.Run("re-registering the same session is idempotent", func(t *testing.T) {
		f := newSessionFixture(t, true)
		f.ledger.On("GetSession", mock.Anything, id).Return(f.onChain(10*usdc, 100*usdc), nil)
		f.ledger.On("TokenDecimals", mock.Anything).Return(uint8(6))

		first, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		require.NoError(t, err)
		second, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, f.repo.sessions, 1)
	})

	t.Run("id owned by someone else conflicts", func(t *testing.T) {
		f := newSessionFixture(t, true)
		f.repo.put(model.Session{SessionID: id.Hex(), OwnerID: "owner-2", SignerAddress: f.signer.Hex()})
		f.ledger.On("GetSession", mock.Anything, id).Return(f.onChain(10*usdc, 100*usdc), nil)
		f.ledger.On("TokenDecimals", mock.Anything).Return(uint8(6))

		_, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
		assert.Equal(t, apperrors.ErrCodeAlreadyExists, apperrors.GetCode(err))
	})
}

func TestSessionService_Revoke(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, false)

	session, err := f.svc.Create(ctx, f.owner, f.input(t, testSessionID))
	require.NoError(t, err)

	first, err := f.svc.Revoke(ctx, f.owner.ID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusRevoked, first.Status)

	second, err := f.svc.Revoke(ctx, f.owner.ID, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.RevokedAt, second.RevokedAt)

	assert.Equal(t, []string{
		string(model.EventSessionCreated),
		string(model.EventSessionRevoked),
	}, f.events.types())

	t.Run("other owners cannot see or revoke", func(t *testing.T) {
		_, err := f.svc.Revoke(ctx, "owner-2", session.SessionID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))

		_, err = f.svc.Get(ctx, "owner-2", session.SessionID)
		assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.GetCode(err))
	})
}

func TestSessionService_ListAndActive(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, false)

	older := activeSession("0xold", 10*usdc, 100*usdc, f.now)
	older.CreatedAt = f.now.Add(-2 * time.Hour)
	expired := activeSession("0xexp", 10*usdc, 100*usdc, f.now)
	expired.ExpiresAt = f.now.Add(-time.Minute)
	expired.CreatedAt = f.now.Add(-time.Hour)
	for _, s := range []model.Session{older, expired} {
		s.OwnerID = f.owner.ID
		f.repo.put(s)
	}

	all, total, err := f.svc.List(ctx, f.owner.ID, ListSessionsInput{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, total)

	active, total, err := f.svc.List(ctx, f.owner.ID, ListSessionsInput{ActiveOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "0xold", active[0].SessionID)

	current, err := f.svc.Active(ctx, f.owner.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "0xold", current.SessionID)

	none, err := f.svc.Active(ctx, "owner-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}
