package model

import (
	"time"
)

// LimitDecimals is the fixed precision of every amount stored by the registry.
const LimitDecimals = 6

// DayLayout formats the UTC calendar day a usage counter belongs to.
const DayLayout = "2006-01-02"

type Session struct {
	ID             string        `db:"id" json:"-"`
	SessionID      string        `db:"session_id" json:"sessionId"`
	OwnerID        string        `db:"owner_id" json:"-"`
	OwnerAddress   string        `db:"owner_address" json:"ownerAddress"`
	SignerAddress  string        `db:"signer_address" json:"signer"`
	AgentID        *string       `db:"agent_id" json:"agentId,omitempty"`
	SingleLimit    int64         `db:"single_limit" json:"singleLimit"`
	DailyLimit     int64         `db:"daily_limit" json:"dailyLimit"`
	UsedToday      int64         `db:"used_today" json:"usedToday"`
	UsageDay       time.Time     `db:"usage_day" json:"usageDay"`
	ExpiresAt      time.Time     `db:"expires_at" json:"expiresAt"`
	Status         SessionStatus `db:"status" json:"status"`
	IDVerified     bool          `db:"id_verified" json:"idVerified"`
	AuthMessage    string        `db:"auth_message" json:"-"`
	OwnerSignature string        `db:"owner_signature" json:"-"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`
	RevokedAt      *time.Time    `db:"revoked_at" json:"revokedAt,omitempty"`
}

// EffectiveStatus reports the status with expiry applied, without writing it back.
func (s *Session) EffectiveStatus(now time.Time) SessionStatus {
	if s.Status == SessionStatusActive && !now.Before(s.ExpiresAt) {
		return SessionStatusExpired
	}
	return s.Status
}

// UsedOn returns the usage counted against the UTC day containing now.
func (s *Session) UsedOn(now time.Time) int64 {
	if UsageDayOf(s.UsageDay) != UsageDayOf(now) {
		return 0
	}
	return s.UsedToday
}

// RemainingToday is the amount still spendable in the current day window.
func (s *Session) RemainingToday(now time.Time) int64 {
	remaining := s.DailyLimit - s.UsedOn(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsageDayOf returns the day window key for t.
func UsageDayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

type CreateSessionParams struct {
	SessionID      string
	OwnerID        string
	OwnerAddress   string
	SignerAddress  string
	AgentID        *string
	SingleLimit    int64
	DailyLimit     int64
	ExpiresAt      time.Time
	IDVerified     bool
	AuthMessage    string
	OwnerSignature string
}
