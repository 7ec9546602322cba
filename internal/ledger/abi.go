// Package ledger talks to the settlement contract and the funding token:
// ABI encoding, session reads, receipt log decoding and signature recovery.
package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const SessionManagerABI = `[
	{"type":"function","name":"createSession","stateMutability":"nonpayable",
	 "inputs":[{"name":"signer","type":"address"},{"name":"singleLimit","type":"uint256"},{"name":"dailyLimit","type":"uint256"},{"name":"expiry","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"revokeSession","stateMutability":"nonpayable",
	 "inputs":[{"name":"sessionId","type":"bytes32"}],"outputs":[]},
	{"type":"function","name":"getSession","stateMutability":"view",
	 "inputs":[{"name":"sessionId","type":"bytes32"}],
	 "outputs":[{"name":"","type":"tuple","components":[
		{"name":"signer","type":"address"},
		{"name":"owner","type":"address"},
		{"name":"singleLimit","type":"uint256"},
		{"name":"dailyLimit","type":"uint256"},
		{"name":"usedToday","type":"uint256"},
		{"name":"expiry","type":"uint256"},
		{"name":"lastResetDate","type":"uint256"},
		{"name":"isActive","type":"bool"}]}]},
	{"type":"event","name":"SessionCreated","anonymous":false,
	 "inputs":[{"name":"sessionId","type":"bytes32","indexed":true},{"name":"owner","type":"address","indexed":true},{"name":"signer","type":"address","indexed":true},
	           {"name":"singleLimit","type":"uint256","indexed":false},{"name":"dailyLimit","type":"uint256","indexed":false},{"name":"expiry","type":"uint256","indexed":false}]}
]`

const ERC20ABI = `[
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	sessionManagerABI = mustParseABI(SessionManagerABI)
	erc20ABI          = mustParseABI(ERC20ABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("ledger: parse abi: %v", err))
	}
	return parsed
}

// SessionCreatedTopic is topic[0] of the SessionCreated event.
func SessionCreatedTopic() common.Hash {
	return sessionManagerABI.Events["SessionCreated"].ID
}

func PackCreateSession(signer common.Address, singleLimit, dailyLimit *big.Int, expiry int64) ([]byte, error) {
	return sessionManagerABI.Pack("createSession", signer, singleLimit, dailyLimit, big.NewInt(expiry))
}

// UnpackCreateSession reads the session id returned by a simulated createSession call.
func UnpackCreateSession(ret []byte) (common.Hash, error) {
	out, err := sessionManagerABI.Unpack("createSession", ret)
	if err != nil {
		return common.Hash{}, fmt.Errorf("unpack createSession: %w", err)
	}
	id := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	return common.Hash(id), nil
}

func PackRevokeSession(sessionID common.Hash) ([]byte, error) {
	return sessionManagerABI.Pack("revokeSession", sessionID)
}

func PackGetSession(sessionID common.Hash) ([]byte, error) {
	return sessionManagerABI.Pack("getSession", sessionID)
}

func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

func UnpackAllowance(ret []byte) (*big.Int, error) {
	out, err := erc20ABI.Unpack("allowance", ret)
	if err != nil {
		return nil, fmt.Errorf("unpack allowance: %w", err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

func PackDecimals() ([]byte, error) {
	return erc20ABI.Pack("decimals")
}

func UnpackDecimals(ret []byte) (uint8, error) {
	out, err := erc20ABI.Unpack("decimals", ret)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}
