package delegation

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/paymind/sessionpay/internal/units"
)

// AuthorizationRequest is what the owner approves when delegating to a session key.
// Limits are in micro-units.
type AuthorizationRequest struct {
	SignerAddress string
	SingleLimit   int64
	DailyLimit    int64
	ExpiryDays    int
}

// BuildAuthorizationMessage renders the human-readable text the owner signs.
// The registry rebuilds it byte for byte to verify the signature.
func BuildAuthorizationMessage(req AuthorizationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Authorize Session Key: %s\n", req.SignerAddress)
	fmt.Fprintf(&b, "Single Limit: %s USDC\n", units.Format(req.SingleLimit))
	fmt.Fprintf(&b, "Daily Limit: %s USDC\n", units.Format(req.DailyLimit))
	fmt.Fprintf(&b, "Expiry: %d days", req.ExpiryDays)
	return b.String()
}

// AuthorizationSigner obtains the owner's signature over the authorization message.
type AuthorizationSigner struct {
	wallet WalletSigner
}

func NewAuthorizationSigner(wallet WalletSigner) *AuthorizationSigner {
	return &AuthorizationSigner{wallet: wallet}
}

// Sign returns the message and the 0x-encoded personal signature. A declined
// prompt yields ErrUserCancelled.
func (s *AuthorizationSigner) Sign(ctx context.Context, req AuthorizationRequest) (string, string, error) {
	message := BuildAuthorizationMessage(req)

	sig, err := s.wallet.SignMessage(ctx, []byte(message))
	if err != nil {
		return "", "", fmt.Errorf("sign authorization: %w", ClassifyWalletError(err))
	}
	return message, hexutil.Encode(sig), nil
}
