package delegation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/ledger"
)

// AllowanceMultiplier sizes the standing allowance relative to the daily limit
// so the owner does not have to re-approve every day.
const AllowanceMultiplier = 3

// AllowanceTarget is the allowance granted for a session with dailyLimit
// (in token base units).
func AllowanceTarget(dailyLimit *big.Int) *big.Int {
	return new(big.Int).Mul(dailyLimit, big.NewInt(AllowanceMultiplier))
}

// AllowanceManager grants the settlement contract a spending allowance over
// the owner's funding token.
type AllowanceManager struct {
	wallet  WalletSigner
	token   common.Address
	spender common.Address
}

func NewAllowanceManager(wallet WalletSigner, token, spender common.Address) *AllowanceManager {
	return &AllowanceManager{wallet: wallet, token: token, spender: spender}
}

// Allowance reads the current allowance of the owner toward the spender.
func (m *AllowanceManager) Allowance(ctx context.Context) (*big.Int, error) {
	data, err := ledger.PackAllowance(m.wallet.Address(), m.spender)
	if err != nil {
		return nil, err
	}
	ret, err := m.wallet.CallContract(ctx, ethereum.CallMsg{From: m.wallet.Address(), To: &m.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", ClassifyWalletError(err))
	}
	return ledger.UnpackAllowance(ret)
}

// EnsureAllowance approves AllowanceTarget(dailyLimit) unless the current
// allowance already covers it. It returns only once the approval is mined.
func (m *AllowanceManager) EnsureAllowance(ctx context.Context, dailyLimit *big.Int) (*big.Int, error) {
	target := AllowanceTarget(dailyLimit)

	current, err := m.Allowance(ctx)
	if err != nil {
		return nil, err
	}
	if current.Cmp(target) >= 0 {
		log.Debug().
			Str("allowance", current.String()).
			Str("target", target.String()).
			Msg("allowance already sufficient")
		return current, nil
	}

	if err := m.approve(ctx, target); err != nil {
		return nil, fmt.Errorf("approve allowance: %w", err)
	}

	log.Info().
		Str("token", m.token.Hex()).
		Str("spender", m.spender.Hex()).
		Str("amount", target.String()).
		Msg("allowance approved")
	return target, nil
}

// RevokeAllowance sets the allowance back to zero.
func (m *AllowanceManager) RevokeAllowance(ctx context.Context) error {
	if err := m.approve(ctx, new(big.Int)); err != nil {
		return fmt.Errorf("revoke allowance: %w", err)
	}
	return nil
}

func (m *AllowanceManager) approve(ctx context.Context, amount *big.Int) error {
	data, err := ledger.PackApprove(m.spender, amount)
	if err != nil {
		return err
	}
	_, err = transact(ctx, m.wallet, m.token, data)
	return err
}
