// Package ledger is the contract between the task workflow and the external
// credit registry: submit a mint, await its receipt, read the minted token id.
package ledger

import (
	"context"
	"errors"
	"math/big"
)

// EventCreditMinted is the receipt event carrying the new token id.
const EventCreditMinted = "CreditMinted"

var (
	// ErrReverted means the transaction was mined and failed. Awaiting it
	// again cannot succeed.
	ErrReverted = errors.New("ledger transaction reverted")
	// ErrUnknownTransaction means the ledger has no record of a handle.
	ErrUnknownTransaction = errors.New("ledger transaction unknown")
	// ErrUnavailable means submissions are short-circuited after repeated
	// transport failures. Nothing was broadcast.
	ErrUnavailable = errors.New("ledger temporarily unavailable")
)

// MintRequest names what to mint and for whom.
type MintRequest struct {
	ProjectID     string
	WalletAddress string
	MetadataRef   string
}

// Handle identifies a submitted transaction. It is persisted between
// submission and confirmation so a retry can await instead of resubmitting.
type Handle struct {
	TxHash string
}

// Event is one decoded receipt log.
type Event struct {
	Name string
	Args map[string]any
}

// Receipt is the confirmed outcome of a successful transaction.
type Receipt struct {
	TxHash string
	Logs   []Event
}

// Client submits mints and waits for their confirmation.
type Client interface {
	SubmitMint(ctx context.Context, req MintRequest) (Handle, error)
	// AwaitConfirmation blocks until the transaction is mined or ctx ends.
	// A mined but failed transaction returns ErrReverted.
	AwaitConfirmation(ctx context.Context, h Handle) (*Receipt, error)
}

// MintedTokenID returns the tokenId of the first CreditMinted event, or nil
// when the receipt has none or the value does not fit an int64.
func MintedTokenID(r *Receipt) *int64 {
	if r == nil {
		return nil
	}
	for _, ev := range r.Logs {
		if ev.Name != EventCreditMinted {
			continue
		}
		if v, ok := toInt64(ev.Args["tokenId"]); ok {
			return &v
		}
		return nil
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil || !n.IsInt64() {
			return 0, false
		}
		return n.Int64(), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}
