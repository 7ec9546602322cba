package delegation

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// WalletSigner is the owner's wallet: it signs messages, reads contract state
// and submits transactions on the owner's behalf. It satisfies
// ledger.ContractCaller.
type WalletSigner interface {
	Address() common.Address
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error)
	WaitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// transact submits data to the contract and waits for a successful receipt.
func transact(ctx context.Context, wallet WalletSigner, to common.Address, data []byte) (*types.Receipt, error) {
	hash, err := wallet.SendTransaction(ctx, to, data)
	if err != nil {
		return nil, ClassifyWalletError(err)
	}

	receipt, err := wallet.WaitReceipt(ctx, hash)
	if err != nil {
		return nil, ClassifyWalletError(err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, ErrLedgerRejected
	}
	return receipt, nil
}
