package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/model"
	"github.com/paymind/sessionpay/internal/repository"
	"github.com/paymind/sessionpay/internal/util"
)

func main() {
	if len(os.Args) < 2 || !common.IsHexAddress(os.Args[1]) {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/owner-token.go <wallet-address>\n")
		os.Exit(1)
	}
	wallet := strings.ToLower(common.HexToAddress(os.Args[1]).Hex())

	token, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	hash := util.HashToken(token)

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Println("DATABASE_URL not set, insert the owner manually:")
		fmt.Printf("INSERT INTO owners (wallet_address, api_token_hash) VALUES ('%s', '%s');\n", wallet, hash)
		fmt.Printf("API token: %s\n", token)
		return
	}

	db, err := database.Connect(databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	owners := repository.NewOwnerRepository(db.DB)

	existing, err := owners.FindByWallet(ctx, wallet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if existing != nil {
		fmt.Fprintf(os.Stderr, "Error: owner %s already exists for %s\n", existing.ID, wallet)
		os.Exit(1)
	}

	owner, err := owners.Create(ctx, model.CreateOwnerParams{
		WalletAddress:   wallet,
		APITokenHash:    hash,
		RateLimitPerMin: config.DefaultRateLimitPerMin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Owner: %s (%s)\n", owner.ID, owner.WalletAddress)
	fmt.Printf("API token: %s\n", token)
}
