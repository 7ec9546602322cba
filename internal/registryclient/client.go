// Package registryclient is the owner-side HTTP client for the session registry API.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10

	codeSessionNotOnChain = "SESSION_NOT_ON_CHAIN"
	codeNotFound          = "NOT_FOUND"
)

// APIError is a non-2xx registry response.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("registry: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("registry: %s: %s", e.Code, e.Message)
}

// IsNotOnChainYet reports whether the registry could not yet see the session
// on the ledger. It is the only retryable registration failure.
func IsNotOnChainYet(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeSessionNotOnChain
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Code == codeNotFound || apiErr.Status == http.StatusNotFound)
}

// Session is a registry session record as returned by the API.
type Session struct {
	model.Session
	RemainingToday int64 `json:"remainingToday"`
}

// CreateSessionRequest mirrors the body of POST /v1/sessions. Limits are micro-units.
type CreateSessionRequest struct {
	SessionID   string  `json:"sessionId,omitempty"`
	Signer      string  `json:"signer"`
	SingleLimit int64   `json:"singleLimit"`
	DailyLimit  int64   `json:"dailyLimit"`
	ExpiryDays  int     `json:"expiryDays"`
	Signature   string  `json:"signature"`
	AgentID     *string `json:"agentId,omitempty"`
	IDVerified  *bool   `json:"idVerified,omitempty"`
}

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
	Payment        model.PaymentRecord `json:"payment"`
	SessionID      string              `json:"sessionId"`
	UsedToday      int64               `json:"usedToday"`
	RemainingToday int64               `json:"remainingToday"`
}

// RemoteConfig is the registry's GET /v1/config response.
type RemoteConfig struct {
	ChainID            int64  `json:"chainId"`
	SettlementContract string `json:"settlementContract"`
	FundingToken       string `json:"fundingToken"`
	LedgerEnabled      bool   `json:"ledgerEnabled"`
	LimitDecimals      int    `json:"limitDecimals"`
	MinSingleLimit     int64  `json:"minSingleLimit"`
	MinDailyLimit      int64  `json:"minDailyLimit"`
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) ListSessions(ctx context.Context, activeOnly bool) ([]Session, error) {
	path := "/v1/sessions?limit=100"
	if activeOnly {
		path += "&status=active"
	}

	var resp struct {
		Sessions []Session `json:"sessions"`
		Total    int       `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *Client) RevokeSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/revoke", nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) AuthorizePayment(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var resp struct {
		Success bool          `json:"success"`
		Result  PaymentResult `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/payments/authorize", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

func (c *Client) Config(ctx context.Context) (*RemoteConfig, error) {
	var cfg RemoteConfig
	if err := c.do(ctx, http.MethodGet, "/v1/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("registry request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Details any    `json:"details"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, &body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
