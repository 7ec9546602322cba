package delegation

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/registryclient"
)

var (
	testSettlement = common.HexToAddress("0x3310a6e841877f28C755bFb5aF90e6734EF059fA")
	testToken      = common.HexToAddress("0xc23453b4842FDc4360A0a3518E2C0f51a2069386")

	sessionABI = mustABI(ledger.SessionManagerABI)
	tokenABI   = mustABI(ledger.ERC20ABI)
)

const usdc = int64(1_000_000)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// journal records the order of wallet and registry operations.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(step string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, step)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type sentTx struct {
	to     common.Address
	method string
	args   []interface{}
}

// fakeWallet emulates the owner's wallet against an in-memory token and
// settlement contract.
type fakeWallet struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	journal   *journal
	decimals  uint8
	allowance *big.Int
	predicted common.Hash
	// eventID is emitted in the SessionCreated log; zero means no log.
	eventID  common.Hash
	signErr  error
	sendErrs map[string]error
	// failOnce errors are returned once each, in order, before sendErrs.
	failOnce map[string][]error
	reverts  map[string]bool
	sent     []sentTx
	receipts map[common.Hash]*types.Receipt
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &fakeWallet{
		key:       key,
		journal:   &journal{},
		decimals:  6,
		allowance: new(big.Int),
		predicted: crypto.Keccak256Hash([]byte("predicted")),
		eventID:   crypto.Keccak256Hash([]byte("from-event")),
		sendErrs:  map[string]error{},
		failOnce:  map[string][]error{},
		reverts:   map[string]bool{},
		receipts:  map[common.Hash]*types.Receipt{},
	}
}

func (w *fakeWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *fakeWallet) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	w.journal.add("sign")
	if w.signErr != nil {
		return nil, w.signErr
	}
	return ledger.SignPersonal(w.key, msg)
}

func methodOf(data []byte) (*abi.Method, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}
	if m, err := sessionABI.MethodById(data[:4]); err == nil {
		return m, nil
	}
	return tokenABI.MethodById(data[:4])
}

func (w *fakeWallet) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, err := methodOf(call.Data)
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "allowance":
		return m.Outputs.Pack(new(big.Int).Set(w.allowance))
	case "decimals":
		return m.Outputs.Pack(w.decimals)
	case "createSession":
		return m.Outputs.Pack(w.predicted)
	}
	return nil, fmt.Errorf("unexpected call %s", m.Name)
}

func (w *fakeWallet) SendTransaction(_ context.Context, to common.Address, data []byte) (common.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m, err := methodOf(data)
	if err != nil {
		return common.Hash{}, err
	}
	w.journal.add("tx:" + m.Name)
	if queued := w.failOnce[m.Name]; len(queued) > 0 {
		w.failOnce[m.Name] = queued[1:]
		return common.Hash{}, queued[0]
	}
	if err := w.sendErrs[m.Name]; err != nil {
		return common.Hash{}, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return common.Hash{}, err
	}
	w.sent = append(w.sent, sentTx{to: to, method: m.Name, args: args})

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(len(w.sent)))
	hash := crypto.Keccak256Hash(data, nonce[:])

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: big.NewInt(int64(len(w.sent))),
	}
	switch {
	case w.reverts[m.Name]:
		receipt.Status = types.ReceiptStatusFailed
	case m.Name == "approve":
		w.allowance = new(big.Int).Set(args[1].(*big.Int))
	case m.Name == "createSession" && w.eventID != (common.Hash{}):
		receipt.Logs = []*types.Log{w.sessionCreatedLog(args)}
	}
	w.receipts[hash] = receipt
	return hash, nil
}

func (w *fakeWallet) sessionCreatedLog(args []interface{}) *types.Log {
	event := sessionABI.Events["SessionCreated"]
	data, err := event.Inputs.NonIndexed().Pack(args[1], args[2], args[3])
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: testSettlement,
		Topics: []common.Hash{
			event.ID,
			w.eventID,
			common.BytesToHash(w.Address().Bytes()),
			common.BytesToHash(args[0].(common.Address).Bytes()),
		},
		Data: data,
	}
}

func (w *fakeWallet) WaitReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	receipt, ok := w.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (w *fakeWallet) sentMethods() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.sent))
	for _, tx := range w.sent {
		out = append(out, tx.method)
	}
	return out
}

func (w *fakeWallet) lastSent(method string) *sentTx {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.sent) - 1; i >= 0; i-- {
		if w.sent[i].method == method {
			tx := w.sent[i]
			return &tx
		}
	}
	return nil
}

// fakeRegistry returns createErrs in order before accepting a session.
type fakeRegistry struct {
	mu         sync.Mutex
	journal    *journal
	createErrs []error
	createReqs []registryclient.CreateSessionRequest
	created    []registryclient.CreateSessionRequest
	revokeErr  error
	revoked    []string
}

func (r *fakeRegistry) CreateSession(_ context.Context, req registryclient.CreateSessionRequest) (*registryclient.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal.add("registry:create")
	r.createReqs = append(r.createReqs, req)
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		return nil, err
	}
	r.created = append(r.created, req)

	s := &registryclient.Session{}
	s.SessionID = req.SessionID
	s.SignerAddress = req.Signer
	s.SingleLimit = req.SingleLimit
	s.DailyLimit = req.DailyLimit
	s.Status = "active"
	return s, nil
}

func (r *fakeRegistry) RevokeSession(_ context.Context, sessionID string) (*registryclient.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal.add("registry:revoke")
	if r.revokeErr != nil {
		return nil, r.revokeErr
	}
	r.revoked = append(r.revoked, sessionID)

	s := &registryclient.Session{}
	s.SessionID = sessionID
	s.Status = "revoked"
	return s, nil
}

func notOnChain() error {
	return &registryclient.APIError{Status: 409, Code: "SESSION_NOT_ON_CHAIN", Message: "Session not found on chain"}
}
