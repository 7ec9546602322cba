package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/units"
)

// ContractCaller executes read-only contract calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OnChainSession mirrors the getSession tuple. Amounts are in token base units.
type OnChainSession struct {
	Signer        common.Address
	Owner         common.Address
	SingleLimit   *big.Int
	DailyLimit    *big.Int
	UsedToday     *big.Int
	Expiry        *big.Int
	LastResetDate *big.Int
	IsActive      bool
}

// Exists reports whether the ledger holds a record. Unknown ids read back as
// a zeroed struct.
func (s *OnChainSession) Exists() bool {
	return s != nil && s.Signer != (common.Address{})
}

type SessionReader struct {
	caller     ContractCaller
	settlement common.Address
	token      common.Address
}

func NewSessionReader(caller ContractCaller, settlement, token common.Address) *SessionReader {
	return &SessionReader{
		caller:     caller,
		settlement: settlement,
		token:      token,
	}
}

func (r *SessionReader) Settlement() common.Address {
	return r.settlement
}

func (r *SessionReader) GetSession(ctx context.Context, sessionID common.Hash) (*OnChainSession, error) {
	data, err := PackGetSession(sessionID)
	if err != nil {
		return nil, err
	}

	ret, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.settlement, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getSession: %w", err)
	}

	out, err := sessionManagerABI.Unpack("getSession", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack getSession: %w", err)
	}

	session := *abi.ConvertType(out[0], new(OnChainSession)).(*OnChainSession)
	return &session, nil
}

// TokenDecimals reads decimals() from the funding token, falling back to 18
// when the token does not implement it.
func (r *SessionReader) TokenDecimals(ctx context.Context) uint8 {
	if r.token == (common.Address{}) {
		return units.DefaultTokenDecimals
	}

	data, err := PackDecimals()
	if err != nil {
		return units.DefaultTokenDecimals
	}

	ret, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err == nil {
		var decimals uint8
		if decimals, err = UnpackDecimals(ret); err == nil {
			return decimals
		}
	}

	log.Warn().
		Err(err).
		Str("token", r.token.Hex()).
		Msg("failed to read token decimals, defaulting to 18")
	return units.DefaultTokenDecimals
}
