package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/paymind/sessionpay/internal/delegation"
	"github.com/paymind/sessionpay/internal/units"
	"github.com/paymind/sessionpay/internal/wallet"
)

type chainContracts struct {
	settlement common.Address
	token      common.Address
	chainID    *big.Int
}

// contracts takes addresses from local config and falls back to the
// registry's published config.
func (a *app) contracts(ctx context.Context) (*chainContracts, error) {
	c := &chainContracts{chainID: big.NewInt(a.cfg.ChainID)}
	if a.cfg.SettlementContract != "" && a.cfg.FundingToken != "" && a.cfg.ChainID != 0 {
		c.settlement = common.HexToAddress(a.cfg.SettlementContract)
		c.token = common.HexToAddress(a.cfg.FundingToken)
		return c, nil
	}

	remote, err := a.registry().Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry config: %w", err)
	}
	settlement, token := a.cfg.SettlementContract, a.cfg.FundingToken
	if settlement == "" {
		settlement = remote.SettlementContract
	}
	if token == "" {
		token = remote.FundingToken
	}
	if !common.IsHexAddress(settlement) || !common.IsHexAddress(token) {
		return nil, fmt.Errorf("settlement contract and funding token must be configured")
	}
	if a.cfg.ChainID == 0 {
		c.chainID = big.NewInt(remote.ChainID)
	}
	c.settlement = common.HexToAddress(settlement)
	c.token = common.HexToAddress(token)
	return c, nil
}

func (a *app) delegator(w delegation.WalletSigner, c *chainContracts) *delegation.Delegator {
	return delegation.NewDelegator(w, a.registry(), delegation.NewSessionKeyStore(a.cfg.KeyDir), delegation.DelegatorConfig{
		Settlement:     c.settlement,
		Token:          c.token,
		SettleDelay:    a.cfg.SettleDelay(),
		LedgerAttempts: a.cfg.LedgerAttempts,
		Retry: delegation.RetryPolicy{
			MaxAttempts: a.cfg.RetryAttempts,
			Delay:       a.cfg.RetryDelay(),
		},
	})
}

func newCreateCommand(a *app) *cobra.Command {
	var (
		single  string
		daily   string
		days    int
		agentID string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session key and register it on the ledger and the registry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			singleLimit, err := units.Parse(single)
			if err != nil {
				return fmt.Errorf("--single: %w", err)
			}
			dailyLimit, err := units.Parse(daily)
			if err != nil {
				return fmt.Errorf("--daily: %w", err)
			}
			if a.cfg.SessionPassphrase == "" {
				return fmt.Errorf("DELEGATE_SESSION_PASSPHRASE is required to encrypt the session key")
			}

			c, err := a.contracts(ctx)
			if err != nil {
				return err
			}
			w, client, err := wallet.Open(ctx, a.cfg, wallet.WithConfirm(a.confirm()))
			if err != nil {
				return err
			}
			defer client.Close()

			params := delegation.SetupParams{
				SingleLimit: singleLimit,
				DailyLimit:  dailyLimit,
				ExpiryDays:  days,
				Passphrase:  a.cfg.SessionPassphrase,
			}
			if agentID != "" {
				params.AgentID = &agentID
			}

			result, err := a.delegator(w, c).Setup(ctx, params)
			var unconfirmed *delegation.UnconfirmedError
			if errors.As(err, &unconfirmed) {
				log.Warn().
					Str("sessionId", unconfirmed.SessionID).
					Str("signer", result.SignerAddress.Hex()).
					Msg("session exists on the ledger but the registry did not accept it; run `delegate register --signer` later")
			}
			if result != nil && result.Registration != nil {
				if perr := printJSON(setupOutput(result)); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&single, "single", "10", "Single payment limit in USDC")
	cmd.Flags().StringVar(&daily, "daily", "100", "Daily limit in USDC")
	cmd.Flags().IntVar(&days, "expiry-days", 30, "Session lifetime in days (1-365)")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "Agent identifier recorded with the session")
	return cmd
}

func setupOutput(r *delegation.SetupResult) map[string]any {
	out := map[string]any{
		"signer":      r.SignerAddress.Hex(),
		"keyPath":     r.KeyPath,
		"singleLimit": units.Format(r.SingleLimit),
		"dailyLimit":  units.Format(r.DailyLimit),
		"decimals":    r.Decimals,
		"sessionId":   r.Registration.SessionID.Hex(),
		"confirmed":   r.Registration.Confirmed,
		"txHash":      r.Registration.TxHash.Hex(),
		"expiresAt":   r.Registration.Expiry,
		"registered":  r.Session != nil,
	}
	return out
}

func newRegisterCommand(a *app) *cobra.Command {
	var (
		signer string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Re-submit sessions the registry has not accepted yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store := delegation.NewSessionKeyStore(a.cfg.KeyDir)

			var pending []delegation.PendingRegistration
			switch {
			case all:
				list, err := store.ListPending()
				if err != nil {
					return err
				}
				pending = list
			case common.IsHexAddress(signer):
				p, err := store.LoadPending(common.HexToAddress(signer))
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("no pending registration for %s", signer)
				}
				pending = append(pending, *p)
			default:
				return fmt.Errorf("pass --signer <address> or --all")
			}

			// Resubmission only talks to the registry.
			d := a.delegator(nil, &chainContracts{})
			var failed int
			for _, p := range pending {
				session, err := d.Resume(ctx, p)
				if err != nil {
					failed++
					log.Error().Err(err).Str("sessionId", p.SessionID).Msg("registration failed")
					continue
				}
				if err := printJSON(session); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d registrations failed", failed, len(pending))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&signer, "signer", "", "Session key address of the pending registration")
	cmd.Flags().BoolVar(&all, "all", false, "Re-submit every pending registration")
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the owner's sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := a.registry().ListSessions(cmd.Context(), active)
			if err != nil {
				return err
			}
			return printJSON(sessions)
		},
	}

	cmd.Flags().BoolVar(&active, "active", false, "Only active sessions")
	return cmd
}

func newRevokeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <sessionId>",
		Short: "Revoke a session on the ledger, reset the allowance and mark it revoked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := a.contracts(ctx)
			if err != nil {
				return err
			}
			w, client, err := wallet.Open(ctx, a.cfg, wallet.WithConfirm(a.confirm()))
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := delegation.NewRevoker(w, a.registry(), c.settlement, c.token).Revoke(ctx, args[0])
			if result != nil {
				out := map[string]any{
					"sessionId":            result.SessionID,
					"ledgerTx":             result.LedgerTx.Hex(),
					"ledgerAlreadyRevoked": result.LedgerAlreadyRevoked,
					"registryRevoked":      result.Session != nil,
				}
				if result.AllowanceErr != nil {
					out["allowanceError"] = result.AllowanceErr.Error()
				}
				if perr := printJSON(out); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}
