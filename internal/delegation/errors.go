package delegation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUserCancelled means the owner declined a signing or approval prompt.
	ErrUserCancelled = errors.New("user cancelled")
	// ErrInsufficientFunds means the owner lacks gas or asset balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrLedgerRejected means a submitted operation reverted.
	ErrLedgerRejected = errors.New("ledger rejected transaction")
	// ErrTransactionDropped means a transaction was not included in time.
	// The caller may resubmit with a fresh nonce.
	ErrTransactionDropped = errors.New("transaction dropped or timed out")
	// ErrRegistrationUnconfirmed means the registry never accepted a session
	// that exists on the ledger.
	ErrRegistrationUnconfirmed = errors.New("registration could not be confirmed")
)

// UnconfirmedError carries the on-chain session id of a registration the
// registry never accepted, so it can be resubmitted later.
type UnconfirmedError struct {
	SessionID string
	Err       error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("%s: session %s: %v", ErrRegistrationUnconfirmed, e.SessionID, e.Err)
}

func (e *UnconfirmedError) Unwrap() error { return e.Err }

func (e *UnconfirmedError) Is(target error) bool { return target == ErrRegistrationUnconfirmed }

// eip1193UserRejected is the provider error code for a declined request.
const eip1193UserRejected = 4001

var classified = []error{
	ErrUserCancelled,
	ErrInsufficientFunds,
	ErrLedgerRejected,
	ErrTransactionDropped,
	ErrRegistrationUnconfirmed,
}

// ClassifyWalletError maps wallet and RPC failures onto the error taxonomy.
// Errors it cannot place are returned unchanged.
func ClassifyWalletError(err error) error {
	if err == nil {
		return nil
	}
	for _, target := range classified {
		if errors.Is(err, target) {
			return err
		}
	}

	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) && coded.ErrorCode() == eip1193UserRejected {
		return fmt.Errorf("%w: %v", ErrUserCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransactionDropped, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "user rejected"),
		strings.Contains(msg, "user denied"),
		strings.Contains(msg, "cancelled by user"):
		return fmt.Errorf("%w: %v", ErrUserCancelled, err)
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "transfer amount exceeds balance"):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "revert"):
		return fmt.Errorf("%w: %v", ErrLedgerRejected, err)
	case strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "transaction dropped"),
		strings.Contains(msg, "not found after"):
		return fmt.Errorf("%w: %v", ErrTransactionDropped, err)
	}
	return err
}
