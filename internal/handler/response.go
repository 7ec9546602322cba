package handler

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/paymind/sessionpay/internal/errors"
	"github.com/paymind/sessionpay/internal/httputil"
	"github.com/paymind/sessionpay/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.ValidationError("Invalid request body").WithCause(err)
	}
	return nil
}

// sessionView is the API shape of a session, with expiry and the day
// boundary applied as of the response time.
type sessionView struct {
	*model.Session
	Status         model.SessionStatus `json:"status"`
	UsedToday      int64               `json:"usedToday"`
	RemainingToday int64               `json:"remainingToday"`
}

func formatSession(s *model.Session, now time.Time) sessionView {
	return sessionView{
		Session:        s,
		Status:         s.EffectiveStatus(now),
		UsedToday:      s.UsedOn(now),
		RemainingToday: s.RemainingToday(now),
	}
}

func formatSessions(sessions []model.Session, now time.Time) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for i := range sessions {
		out = append(out, formatSession(&sessions[i], now))
	}
	return out
}
