package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/registryclient"
	"github.com/paymind/sessionpay/internal/wallet"
)

type app struct {
	cfg         *config.ClientConfig
	registryURL string
	token       string
	logLevel    string
	assumeYes   bool
}

func main() {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "delegate",
		Short: "Owner-side session key delegation",
		Long: `delegate creates spending sessions for an agent: it generates a session key,
signs the owner's authorization, funds the allowance, registers the session on the
ledger and hands it to the registry.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.registryURL, "registry", "", "Registry base URL (overrides DELEGATE_REGISTRY_URL)")
	rootCmd.PersistentFlags().StringVar(&a.token, "token", "", "Owner API token (overrides DELEGATE_API_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&a.assumeYes, "yes", "y", false, "Approve wallet prompts without asking")

	rootCmd.AddCommand(
		newCreateCommand(a),
		newRegisterCommand(a),
		newListCommand(a),
		newRevokeCommand(a),
		newKeygenCommand(a),
		newPayCommand(a),
		newConfigCommand(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if a.registryURL != "" {
		cfg.RegistryURL = a.registryURL
	}
	if a.token != "" {
		cfg.APIToken = a.token
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	setLogLevel(cfg.LogLevel)

	a.cfg = cfg
	return nil
}

func (a *app) registry() *registryclient.Client {
	return registryclient.New(a.cfg.RegistryURL, a.cfg.APIToken)
}

// confirm prompts on stdin unless --yes was given.
func (a *app) confirm() wallet.ConfirmFunc {
	if a.assumeYes {
		return nil
	}
	reader := bufio.NewReader(os.Stdin)
	return func(action string) bool {
		fmt.Fprintf(os.Stderr, "\n%s\nApprove? [y/N] ", action)
		line, _ := reader.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
