package delegation

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/registryclient"
)

// RevocationResult reports what each revocation step did.
type RevocationResult struct {
	SessionID string
	LedgerTx  common.Hash
	// LedgerAlreadyRevoked is set when the ledger rejected the revoke,
	// which happens for sessions that are already revoked or unknown.
	LedgerAlreadyRevoked bool
	// AllowanceErr is a failed allowance reset. The owner should retry it;
	// the session itself is revoked regardless.
	AllowanceErr error
	Session      *registryclient.Session
}

// Revoker revokes a session on the ledger, resets the funding allowance and
// marks the session revoked in the registry, in that order.
type Revoker struct {
	wallet     WalletSigner
	settlement common.Address
	allowance  *AllowanceManager
	registry   Registry
}

func NewRevoker(wallet WalletSigner, registry Registry, settlement, token common.Address) *Revoker {
	return &Revoker{
		wallet:     wallet,
		settlement: settlement,
		allowance:  NewAllowanceManager(wallet, token, settlement),
		registry:   registry,
	}
}

// Revoke is safe to repeat. It fails only when the ledger step cannot be
// submitted or the registry rejects the revoke.
func (r *Revoker) Revoke(ctx context.Context, sessionID string) (*RevocationResult, error) {
	id, err := ledger.ParseSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	result := &RevocationResult{SessionID: id.Hex()}

	data, err := ledger.PackRevokeSession(id)
	if err != nil {
		return nil, err
	}
	receipt, err := transact(ctx, r.wallet, r.settlement, data)
	switch {
	case err == nil:
		result.LedgerTx = receipt.TxHash
		log.Info().Str("sessionId", result.SessionID).Str("txHash", receipt.TxHash.Hex()).Msg("session revoked on ledger")
	case errors.Is(err, ErrLedgerRejected):
		result.LedgerAlreadyRevoked = true
		log.Warn().Err(err).Str("sessionId", result.SessionID).Msg("ledger rejected revoke, treating session as already revoked")
	default:
		return nil, fmt.Errorf("revoke on ledger: %w", err)
	}

	if err := r.allowance.RevokeAllowance(ctx); err != nil {
		result.AllowanceErr = err
		log.Warn().Err(err).Str("sessionId", result.SessionID).Msg("allowance reset failed, retry it manually")
	}

	session, err := r.registry.RevokeSession(ctx, result.SessionID)
	if err != nil {
		return result, fmt.Errorf("revoke in registry: %w", err)
	}
	result.Session = session
	return result, nil
}
