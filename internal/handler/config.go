package handler

import (
	"net/http"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/model"
)

// ConfigHandler publishes what a client needs to build ledger transactions
// and registry requests.
type ConfigHandler struct {
	body map[string]any
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		body: map[string]any{
			"chainId":            cfg.ChainID,
			"settlementContract": cfg.SettlementContract,
			"fundingToken":       cfg.FundingToken,
			"ledgerEnabled":      cfg.LedgerEnabled(),
			"limitDecimals":      model.LimitDecimals,
			"minSingleLimit":     config.MinSingleLimit,
			"minDailyLimit":      config.MinDailyLimit,
		},
	}
}

// GET /v1/config
func (h *ConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.body)
}
