package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/model"
)

// setupTestDB connects to TEST_DATABASE_URL and applies migrations. Tests are
// skipped when it is not set.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, database.Migrate(url, "up"))

	db, err := database.Connect(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestOwner(t *testing.T, db *database.DB) *model.Owner {
	t.Helper()
	suffix := uuid.NewString()
	owner, err := NewOwnerRepository(db.DB).Create(context.Background(), model.CreateOwnerParams{
		WalletAddress:   fmt.Sprintf("0x%040x", time.Now().UnixNano()),
		APITokenHash:    "hash-" + suffix,
		RateLimitPerMin: 60,
	})
	require.NoError(t, err)
	return owner
}

func testSessionID() string {
	return "0x" + strings.Repeat("0", 32) + strings.ReplaceAll(uuid.NewString(), "-", "")
}
