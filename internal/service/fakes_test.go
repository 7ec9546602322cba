package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/mock"

	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/repository"
	"github.com/paymind/sessionpay/internal/sse"
)

// memSessionRepo applies the same conditional update as the SQL repository
// under a mutex.
type memSessionRepo struct {
	mu            sync.Mutex
	sessions      map[string]*model.Session
	seq           int
	expiredMarked []string
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*model.Session)}
}

func (r *memSessionRepo) put(s model.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Status == "" {
		s.Status = model.SessionStatusActive
	}
	r.sessions[s.SessionID] = &s
}

func (r *memSessionRepo) WithTx(*sqlx.Tx) repository.SessionRepository { return r }

func (r *memSessionRepo) FindBySessionID(_ context.Context, sessionID string) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) FindActiveByOwner(_ context.Context, ownerID string, now time.Time) (*model.Session, error) {
	list, _ := r.ListByOwner(context.Background(), ownerID, repository.SessionFilter{ActiveOnly: true, Now: now})
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

func (r *memSessionRepo) ListByOwner(_ context.Context, ownerID string, filter repository.SessionFilter) ([]model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Session{}
	for _, s := range r.sessions {
		if s.OwnerID != ownerID {
			continue
		}
		if filter.ActiveOnly && (s.Status != model.SessionStatusActive || !filter.Now.Before(s.ExpiresAt)) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memSessionRepo) CountByOwner(ctx context.Context, ownerID string, filter repository.SessionFilter) (int, error) {
	list, err := r.ListByOwner(ctx, ownerID, filter)
	return len(list), err
}

func (r *memSessionRepo) Create(_ context.Context, p model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[p.SessionID]; ok {
		return nil, repository.ErrSessionExists
	}
	r.seq++
	now := time.Now()
	s := &model.Session{
		ID:             fmt.Sprintf("row-%d", r.seq),
		SessionID:      p.SessionID,
		OwnerID:        p.OwnerID,
		OwnerAddress:   p.OwnerAddress,
		SignerAddress:  p.SignerAddress,
		AgentID:        p.AgentID,
		SingleLimit:    p.SingleLimit,
		DailyLimit:     p.DailyLimit,
		ExpiresAt:      p.ExpiresAt,
		Status:         model.SessionStatusActive,
		IDVerified:     p.IDVerified,
		AuthMessage:    p.AuthMessage,
		OwnerSignature: p.OwnerSignature,
		CreatedAt:      now.Add(time.Duration(r.seq) * time.Millisecond),
		UpdatedAt:      now,
	}
	r.sessions[p.SessionID] = s
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) RecordUsage(_ context.Context, sessionID string, amount int64, now time.Time) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.Status != model.SessionStatusActive || !now.Before(s.ExpiresAt) || amount > s.SingleLimit {
		return nil, repository.ErrUsageRejected
	}
	used := s.UsedOn(now)
	if used+amount > s.DailyLimit {
		return nil, repository.ErrUsageRejected
	}
	s.UsedToday = used + amount
	s.UsageDay = now.UTC().Truncate(24 * time.Hour)
	s.UpdatedAt = now
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) Revoke(_ context.Context, sessionID string, now time.Time) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	if s.Status == model.SessionStatusActive {
		s.Status = model.SessionStatusRevoked
		s.RevokedAt = &now
		s.UpdatedAt = now
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) MarkExpired(_ context.Context, sessionID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if ok && s.Status == model.SessionStatusActive && !now.Before(s.ExpiresAt) {
		s.Status = model.SessionStatusExpired
		s.UpdatedAt = now
		r.expiredMarked = append(r.expiredMarked, sessionID)
	}
	return nil
}

type memPaymentRepo struct {
	mu       sync.Mutex
	payments []model.PaymentRecord
}

func (r *memPaymentRepo) WithTx(*sqlx.Tx) repository.PaymentRepository { return r }

func (r *memPaymentRepo) Create(_ context.Context, p model.CreatePaymentParams) (*model.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.payments {
		if existing.SessionID == p.SessionID && existing.PaymentID == p.PaymentID {
			return nil, repository.ErrDuplicatePayment
		}
	}
	rec := model.PaymentRecord{
		ID:        fmt.Sprintf("pay-%d", len(r.payments)+1),
		SessionID: p.SessionID,
		PaymentID: p.PaymentID,
		Recipient: p.Recipient,
		Amount:    p.Amount,
		Nonce:     p.Nonce,
		CreatedAt: time.Now(),
	}
	r.payments = append(r.payments, rec)
	return &rec, nil
}

func (r *memPaymentRepo) ListBySession(_ context.Context, sessionID string, limit, offset int) ([]model.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.PaymentRecord{}
	for _, p := range r.payments {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	return out, nil
}

// inlineTx runs the callback without a real transaction.
type inlineTx struct{}

func (inlineTx) WithTx(_ context.Context, fn database.TxFunc) error {
	return fn(nil)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) GetSession(ctx context.Context, sessionID common.Hash) (*ledger.OnChainSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.OnChainSession), args.Error(1)
}

func (m *mockLedger) TokenDecimals(ctx context.Context) uint8 {
	args := m.Called(ctx)
	return args.Get(0).(uint8)
}

type publishedEvent struct {
	ownerID string
	event   sse.Event
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ownerID string, event sse.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{ownerID: ownerID, event: event})
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event.Type)
	}
	return out
}
