// Package wallet is a key-in-process owner wallet that signs and submits
// transactions through a JSON-RPC node.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/delegation"
	"github.com/paymind/sessionpay/internal/ledger"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultReceiptTimeout = 2 * time.Minute
)

// Backend is the node API the wallet needs. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ConfirmFunc asks the owner to approve an action. Returning false declines it.
type ConfirmFunc func(action string) bool

type LocalWallet struct {
	backend        Backend
	key            *ecdsa.PrivateKey
	chainID        *big.Int
	signer         types.Signer
	confirm        ConfirmFunc
	pollInterval   time.Duration
	receiptTimeout time.Duration
}

type Option func(*LocalWallet)

func WithConfirm(fn ConfirmFunc) Option {
	return func(w *LocalWallet) { w.confirm = fn }
}

func WithReceiptTimeout(d time.Duration) Option {
	return func(w *LocalWallet) {
		if d > 0 {
			w.receiptTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(w *LocalWallet) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

func New(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, opts ...Option) *LocalWallet {
	w := &LocalWallet{
		backend:        backend,
		key:            key,
		chainID:        chainID,
		signer:         types.LatestSignerForChainID(chainID),
		pollInterval:   defaultPollInterval,
		receiptTimeout: defaultReceiptTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open builds a wallet from client configuration. The returned client must be
// closed by the caller.
func Open(ctx context.Context, cfg *config.ClientConfig, opts ...Option) (*LocalWallet, *ethclient.Client, error) {
	if err := cfg.ValidateWallet(); err != nil {
		return nil, nil, err
	}

	var (
		key *ecdsa.PrivateKey
		err error
	)
	if cfg.OwnerKeystore != "" {
		key, err = KeyFromKeystore(cfg.OwnerKeystore, cfg.OwnerPassword)
	} else {
		key, err = KeyFromHex(cfg.OwnerKey)
	}
	if err != nil {
		return nil, nil, err
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = client.ChainID(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("read chain id: %w", err)
		}
	}

	opts = append([]Option{WithReceiptTimeout(cfg.ReceiptTimeout())}, opts...)
	return New(client, key, chainID, opts...), client, nil
}

func KeyFromKeystore(path, passphrase string) (*ecdsa.PrivateKey, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read owner keystore: %w", err)
	}
	key, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypt owner keystore: %w", err)
	}
	return key.PrivateKey, nil
}

func KeyFromHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse owner key: %w", err)
	}
	return key, nil
}

func (w *LocalWallet) Address() common.Address {
	return crypto.PubkeyToAddress(w.key.PublicKey)
}

func (w *LocalWallet) ChainID() *big.Int {
	return new(big.Int).Set(w.chainID)
}

func (w *LocalWallet) approve(action string) error {
	if w.confirm != nil && !w.confirm(action) {
		return delegation.ErrUserCancelled
	}
	return nil
}

// SignMessage produces an EIP-191 personal signature.
func (w *LocalWallet) SignMessage(_ context.Context, msg []byte) ([]byte, error) {
	if err := w.approve("Sign message:\n" + string(msg)); err != nil {
		return nil, err
	}
	return ledger.SignPersonal(w.key, msg)
}

func (w *LocalWallet) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return w.backend.CallContract(ctx, call, blockNumber)
}

// SendTransaction signs and broadcasts a contract call. EIP-1559 fees are used
// when the chain reports a base fee, legacy gas pricing otherwise.
func (w *LocalWallet) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	from := w.Address()

	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	gas = gas * 6 / 5

	nonce, err := w.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}

	txData, err := w.feeFields(ctx, nonce, gas, to, data)
	if err != nil {
		return common.Hash{}, err
	}

	if err := w.approve(fmt.Sprintf("Send transaction to %s (gas %d)", to.Hex(), gas)); err != nil {
		return common.Hash{}, err
	}

	tx, err := types.SignNewTx(w.key, w.signer, txData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}

	log.Debug().
		Str("txHash", tx.Hash().Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("transaction sent")
	return tx.Hash(), nil
}

func (w *LocalWallet) feeFields(ctx context.Context, nonce, gas uint64, to common.Address, data []byte) (types.TxData, error) {
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}

	if head.BaseFee == nil {
		price, err := w.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		return &types.LegacyTx{Nonce: nonce, GasPrice: price, Gas: gas, To: &to, Data: data}, nil
	}

	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas tip: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	return &types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}, nil
}

// WaitReceipt polls until the transaction is mined or the receipt timeout
// passes. A timeout wraps context.DeadlineExceeded.
func (w *LocalWallet) WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.backend.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transaction %s not found after %s: %w", txHash.Hex(), w.receiptTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ delegation.WalletSigner = (*LocalWallet)(nil)
