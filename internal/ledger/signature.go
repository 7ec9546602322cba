package ledger

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// SignPersonal signs msg with the EIP-191 personal message prefix and returns a
// 65-byte signature with V in {27, 28}.
func SignPersonal(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverPersonalSigner returns the address that produced an EIP-191 personal
// signature over msg. Both {0,1} and {27,28} recovery ids are accepted.
func RecoverPersonalSigner(msg []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}

	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	if sig[crypto.RecoveryIDOffset] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id", ErrInvalidSignature)
	}

	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// PaymentDigest is keccak256(abi.encodePacked(sessionId, to, amount, paymentId, chainId)),
// the value a session key signs to authorize one payment.
func PaymentDigest(sessionID common.Hash, to common.Address, amount *big.Int, paymentID common.Hash, chainID *big.Int) common.Hash {
	return crypto.Keccak256Hash(
		sessionID.Bytes(),
		to.Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		paymentID.Bytes(),
		common.LeftPadBytes(chainID.Bytes(), 32),
	)
}

// PaymentIDHash maps a payment reference to bytes32: 0x-prefixed 32-byte hex is
// used as is, anything else is hashed.
func PaymentIDHash(paymentID string) common.Hash {
	if id, err := ParseSessionID(paymentID); err == nil {
		return id
	}
	return crypto.Keccak256Hash([]byte(paymentID))
}

// ParseSessionID parses a 0x-prefixed 32-byte hex identifier.
func ParseSessionID(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("session id must be 0x-prefixed")
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("session id must be 32 bytes of hex")
	}
	return common.BytesToHash(b), nil
}

var localIDArgs = mustArguments("address", "address", "uint256")

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("ledger: abi type %s: %v", t, err))
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// LocalSessionID derives a session id for registries running without a ledger:
// keccak256(abi.encode(owner, signer, unixMillis)).
func LocalSessionID(owner, signer common.Address, unixMillis int64) common.Hash {
	packed, err := localIDArgs.Pack(owner, signer, big.NewInt(unixMillis))
	if err != nil {
		panic(fmt.Sprintf("ledger: pack local session id: %v", err))
	}
	return crypto.Keccak256Hash(packed)
}
