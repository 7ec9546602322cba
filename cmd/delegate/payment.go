package main

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/paymind/sessionpay/internal/delegation"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/registryclient"
	"github.com/paymind/sessionpay/internal/units"
)

func newKeygenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate and store a session key without registering it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.SessionPassphrase == "" {
				return fmt.Errorf("DELEGATE_SESSION_PASSPHRASE is required to encrypt the session key")
			}
			key, err := delegation.GenerateSessionKey()
			if err != nil {
				return err
			}
			path, err := delegation.NewSessionKeyStore(a.cfg.KeyDir).Save(key, a.cfg.SessionPassphrase)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{
				"signer":  key.Address().Hex(),
				"keyPath": path,
			})
		},
	}
}

func newPayCommand(a *app) *cobra.Command {
	var (
		signer    string
		sessionID string
		to        string
		amount    string
		paymentID string
		nonce     int64
	)

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Sign a payment with a session key and ask the registry to authorize it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if !common.IsHexAddress(signer) {
				return fmt.Errorf("--signer must be a session key address")
			}
			if !common.IsHexAddress(to) {
				return fmt.Errorf("--to must be an address")
			}
			id, err := ledger.ParseSessionID(sessionID)
			if err != nil {
				return fmt.Errorf("--session-id: %w", err)
			}
			micro, err := units.Parse(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			if paymentID == "" {
				paymentID = uuid.NewString()
			}
			if nonce == 0 {
				nonce = time.Now().UnixMilli()
			}

			key, err := delegation.NewSessionKeyStore(a.cfg.KeyDir).Load(common.HexToAddress(signer), a.cfg.SessionPassphrase)
			if err != nil {
				return err
			}

			chainID := big.NewInt(a.cfg.ChainID)
			if a.cfg.ChainID == 0 {
				remote, err := a.registry().Config(ctx)
				if err != nil {
					return fmt.Errorf("load registry config: %w", err)
				}
				chainID = big.NewInt(remote.ChainID)
			}

			recipient := common.HexToAddress(to)
			sig, err := key.SignPayment(id, recipient, big.NewInt(micro), paymentID, chainID)
			if err != nil {
				return err
			}

			result, err := a.registry().AuthorizePayment(ctx, registryclient.PaymentRequest{
				SessionID: id.Hex(),
				PaymentID: paymentID,
				To:        recipient.Hex(),
				Amount:    strconv.FormatInt(micro, 10),
				Nonce:     nonce,
				Signature: hexutil.Encode(sig),
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&signer, "signer", "", "Session key address")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id (0x-prefixed bytes32)")
	cmd.Flags().StringVar(&to, "to", "", "Recipient address")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in USDC")
	cmd.Flags().StringVar(&paymentID, "payment-id", "", "Payment reference (random if empty)")
	cmd.Flags().Int64Var(&nonce, "nonce", 0, "Payment nonce (current time in ms if zero)")
	return cmd
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the registry's published chain configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.registry().Config(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}
