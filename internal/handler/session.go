package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/paymind/sessionpay/internal/audit"
	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/httputil"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/middleware"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/service"
	"github.com/paymind/sessionpay/internal/util"
)

// SessionRegistry is the owner-scoped session API. *service.SessionService satisfies it.
type SessionRegistry interface {
	Create(ctx context.Context, owner *model.Owner, in service.CreateSessionInput) (*model.Session, error)
	Get(ctx context.Context, ownerID, sessionID string) (*model.Session, error)
	List(ctx context.Context, ownerID string, in service.ListSessionsInput) ([]model.Session, int, error)
	Active(ctx context.Context, ownerID string) (*model.Session, error)
	Revoke(ctx context.Context, ownerID, sessionID string) (*model.Session, error)
}

type SessionHandler struct {
	sessions SessionRegistry
	now      func() time.Time
}

func NewSessionHandler(sessions SessionRegistry) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		now:      time.Now,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/", h.ListSessions)
	r.Get("/active", h.GetActiveSession)
	r.Get("/{sessionId}", h.GetSession)
	r.Post("/{sessionId}/revoke", h.RevokeSession)

	return r
}

type createSessionRequest struct {
	SessionID   string  `json:"sessionId"`
	Signer      string  `json:"signer"`
	SingleLimit int64   `json:"singleLimit"`
	DailyLimit  int64   `json:"dailyLimit"`
	ExpiryDays  int     `json:"expiryDays"`
	Signature   string  `json:"signature"`
	AgentID     *string `json:"agentId,omitempty"`
	IDVerified  *bool   `json:"idVerified,omitempty"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	if owner == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), owner, service.CreateSessionInput{
		SessionID:   req.SessionID,
		Signer:      req.Signer,
		SingleLimit: req.SingleLimit,
		DailyLimit:  req.DailyLimit,
		ExpiryDays:  req.ExpiryDays,
		Signature:   req.Signature,
		AgentID:     req.AgentID,
		IDVerified:  req.IDVerified,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		OwnerID:   owner.ID,
		SessionID: session.SessionID,
		Details: map[string]interface{}{
			"signer":     session.SignerAddress,
			"dailyLimit": session.DailyLimit,
		},
	})

	writeJSON(w, http.StatusCreated, formatSession(session, h.now()))
}

// GET /v1/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	if owner == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	status := r.URL.Query().Get("status")
	if !util.IsValidEnum(status, []string{string(model.SessionStatusActive)}) {
		httputil.WriteError(w, apperrors.InvalidInput("status", "only 'active' is supported"))
		return
	}

	page := ParsePagination(r)
	sessions, total, err := h.sessions.List(r.Context(), owner.ID, service.ListSessionsInput{
		ActiveOnly: status != "",
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": formatSessions(sessions, h.now()),
		"total":    total,
		"limit":    page.Limit,
		"offset":   page.Offset,
	})
}

// GET /v1/sessions/active
func (h *SessionHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	if owner == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	session, err := h.sessions.Active(r.Context(), owner.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if session == nil {
		httputil.WriteError(w, apperrors.NotFound("Active session"))
		return
	}

	writeJSON(w, http.StatusOK, formatSession(session, h.now()))
}

// GET /v1/sessions/{sessionId}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	if owner == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	sessionID, err := sessionIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.sessions.Get(r.Context(), owner.ID, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, formatSession(session, h.now()))
}

// POST /v1/sessions/{sessionId}/revoke
func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	if owner == nil {
		httputil.WriteError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	sessionID, err := sessionIDParam(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	session, err := h.sessions.Revoke(r.Context(), owner.ID, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionRevoke,
		OwnerID:   owner.ID,
		SessionID: session.SessionID,
	})

	writeJSON(w, http.StatusOK, formatSession(session, h.now()))
}

// sessionIDParam normalizes the path id to the lowercase form the registry stores.
func sessionIDParam(r *http.Request) (string, error) {
	id, err := ledger.ParseSessionID(chi.URLParam(r, "sessionId"))
	if err != nil {
		return "", apperrors.InvalidInput("sessionId", err.Error())
	}
	return id.Hex(), nil
}
