package model

type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusRevoked SessionStatus = "revoked"
	SessionStatusExpired SessionStatus = "expired"
)

// EventType names the messages published on an owner's event stream.
type EventType string

const (
	EventSessionCreated    EventType = "session_created"
	EventSessionRevoked    EventType = "session_revoked"
	EventPaymentAuthorized EventType = "payment_authorized"
)
