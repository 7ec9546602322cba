package delegation

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/paymind/sessionpay/internal/ledger"
)

// SessionKey is an ephemeral secp256k1 key the agent signs payments with.
// Only its address leaves the machine.
type SessionKey struct {
	key *ecdsa.PrivateKey
}

// GenerateSessionKey creates a fresh session key. It does no network I/O.
func GenerateSessionKey() (*SessionKey, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}
	return &SessionKey{key: key}, nil
}

// Address is the signer identity registered on the ledger.
func (k *SessionKey) Address() common.Address {
	return crypto.PubkeyToAddress(k.key.PublicKey)
}

// SignPayment signs a payment authorization the registry can verify against
// the session's signer address.
func (k *SessionKey) SignPayment(sessionID common.Hash, to common.Address, amount *big.Int, paymentID string, chainID *big.Int) ([]byte, error) {
	digest := ledger.PaymentDigest(sessionID, to, amount, ledger.PaymentIDHash(paymentID), chainID)
	return ledger.SignPersonal(k.key, digest.Bytes())
}

// SessionKeyStore keeps session keys as encrypted keystore files in one directory.
type SessionKeyStore struct {
	dir     string
	scryptN int
	scryptP int
}

func NewSessionKeyStore(dir string) *SessionKeyStore {
	return &SessionKeyStore{dir: dir, scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
}

// NewLightSessionKeyStore uses cheaper scrypt parameters. Meant for tests.
func NewLightSessionKeyStore(dir string) *SessionKeyStore {
	return &SessionKeyStore{dir: dir, scryptN: keystore.LightScryptN, scryptP: keystore.LightScryptP}
}

func (s *SessionKeyStore) keyPath(addr common.Address) string {
	return filepath.Join(s.dir, strings.ToLower(addr.Hex())+".json")
}

func (s *SessionKeyStore) pendingPath(addr common.Address) string {
	return filepath.Join(s.dir, strings.ToLower(addr.Hex())+".pending.json")
}

// Save encrypts the key with passphrase and writes it with owner-only permissions.
func (s *SessionKeyStore) Save(k *SessionKey, passphrase string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("keystore id: %w", err)
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    k.Address(),
		PrivateKey: k.key,
	}, passphrase, s.scryptN, s.scryptP)
	if err != nil {
		return "", fmt.Errorf("encrypt session key: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("create key dir: %w", err)
	}
	path := s.keyPath(k.Address())
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return "", fmt.Errorf("write session key: %w", err)
	}
	return path, nil
}

func (s *SessionKeyStore) Load(addr common.Address, passphrase string) (*SessionKey, error) {
	blob, err := os.ReadFile(s.keyPath(addr))
	if err != nil {
		return nil, fmt.Errorf("read session key: %w", err)
	}
	key, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt session key: %w", err)
	}
	return &SessionKey{key: key.PrivateKey}, nil
}

// Remove deletes the encrypted key for addr. A missing file is not an error.
func (s *SessionKeyStore) Remove(addr common.Address) error {
	err := os.Remove(s.keyPath(addr))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// PendingRegistration records a session that exists on the ledger but was
// never accepted by the registry.
type PendingRegistration struct {
	SessionID   string    `json:"sessionId"`
	Confirmed   bool      `json:"confirmed"`
	Signer      string    `json:"signer"`
	SingleLimit int64     `json:"singleLimit"`
	DailyLimit  int64     `json:"dailyLimit"`
	ExpiryDays  int       `json:"expiryDays"`
	Signature   string    `json:"signature"`
	TxHash      string    `json:"txHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (s *SessionKeyStore) SavePending(p PendingRegistration) error {
	if !common.IsHexAddress(p.Signer) {
		return fmt.Errorf("pending registration: invalid signer %q", p.Signer)
	}
	blob, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	return os.WriteFile(s.pendingPath(common.HexToAddress(p.Signer)), blob, 0o600)
}

// LoadPending returns (nil, nil) when no pending registration exists for signer.
func (s *SessionKeyStore) LoadPending(signer common.Address) (*PendingRegistration, error) {
	blob, err := os.ReadFile(s.pendingPath(signer))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p PendingRegistration
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("decode pending registration: %w", err)
	}
	return &p, nil
}

func (s *SessionKeyStore) RemovePending(signer common.Address) error {
	err := os.Remove(s.pendingPath(signer))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ListPending returns every pending registration in the store directory.
func (s *SessionKeyStore) ListPending() ([]PendingRegistration, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.pending.json"))
	if err != nil {
		return nil, err
	}
	out := make([]PendingRegistration, 0, len(matches))
	for _, path := range matches {
		blob, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var p PendingRegistration
		if err := json.Unmarshal(blob, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		out = append(out, p)
	}
	return out, nil
}
