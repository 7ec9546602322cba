package delegation

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/units"
)

// RegistrationParams describes a session to create on the ledger. Limits are
// micro-units and are converted to token base units with Decimals.
type RegistrationParams struct {
	Signer      common.Address
	SingleLimit int64
	DailyLimit  int64
	ExpiryDays  int
	Decimals    uint8
}

// Registration is a session created on the ledger.
type Registration struct {
	SessionID common.Hash
	// Confirmed is false when the id came from the pre-send simulation
	// because no SessionCreated log could be decoded.
	Confirmed bool
	TxHash    common.Hash
	Expiry    time.Time
}

// Registrar creates sessions on the settlement contract from the owner's wallet.
type Registrar struct {
	wallet      WalletSigner
	settlement  common.Address
	settleDelay time.Duration
	now         func() time.Time
}

func NewRegistrar(wallet WalletSigner, settlement common.Address, settleDelay time.Duration) *Registrar {
	return &Registrar{
		wallet:      wallet,
		settlement:  settlement,
		settleDelay: settleDelay,
		now:         time.Now,
	}
}

// PreparedSession is a simulated createSession call ready to be sent.
type PreparedSession struct {
	Params    RegistrationParams
	Data      []byte
	Predicted common.Hash
	Expiry    time.Time
}

// Register prepares and submits a session in one go.
func (r *Registrar) Register(ctx context.Context, p RegistrationParams) (*Registration, error) {
	prepared, err := r.Prepare(ctx, p)
	if err != nil {
		return nil, err
	}
	return r.Submit(ctx, prepared)
}

// Prepare encodes the createSession call and simulates it to learn the
// session id the ledger is expected to assign. Nothing is sent.
func (r *Registrar) Prepare(ctx context.Context, p RegistrationParams) (*PreparedSession, error) {
	expiry := r.now().Add(time.Duration(p.ExpiryDays) * 24 * time.Hour).Truncate(time.Second)

	data, err := ledger.PackCreateSession(
		p.Signer,
		units.ToToken(p.SingleLimit, p.Decimals),
		units.ToToken(p.DailyLimit, p.Decimals),
		expiry.Unix(),
	)
	if err != nil {
		return nil, err
	}

	ret, err := r.wallet.CallContract(ctx, ethereum.CallMsg{
		From: r.wallet.Address(),
		To:   &r.settlement,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("simulate createSession: %w", ClassifyWalletError(err))
	}
	predicted, err := ledger.UnpackCreateSession(ret)
	if err != nil {
		return nil, fmt.Errorf("simulate createSession: %w", err)
	}

	return &PreparedSession{
		Params:    p,
		Data:      data,
		Predicted: predicted,
		Expiry:    expiry,
	}, nil
}

// Submit sends a prepared createSession and waits for it. The wallet picks a
// fresh nonce on every call, so a Submit that failed with
// ErrTransactionDropped may be called again with the same PreparedSession.
func (r *Registrar) Submit(ctx context.Context, prepared *PreparedSession) (*Registration, error) {
	receipt, err := transact(ctx, r.wallet, r.settlement, prepared.Data)
	if err != nil {
		return nil, fmt.Errorf("createSession: %w", err)
	}

	ref := ledger.DecodeSessionID(receipt.Logs, r.settlement, prepared.Predicted)
	if !ref.Confirmed {
		log.Warn().
			Str("sessionId", ref.ID.Hex()).
			Str("txHash", receipt.TxHash.Hex()).
			Msg("SessionCreated event not found, using simulated session id")
	}

	log.Info().
		Str("sessionId", ref.ID.Hex()).
		Str("signer", prepared.Params.Signer.Hex()).
		Str("txHash", receipt.TxHash.Hex()).
		Uint64("block", blockNumber(receipt.BlockNumber)).
		Msg("session created on ledger")

	if err := sleep(ctx, r.settleDelay); err != nil {
		return nil, err
	}

	return &Registration{
		SessionID: ref.ID,
		Confirmed: ref.Confirmed,
		TxHash:    receipt.TxHash,
		Expiry:    prepared.Expiry,
	}, nil
}

func blockNumber(n *big.Int) uint64 {
	if n == nil {
		return 0
	}
	return n.Uint64()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
