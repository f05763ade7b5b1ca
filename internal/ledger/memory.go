package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// Memory is an in-process ledger for development and tests. Token ids are
// sequential and hashes are derived from the submission order.
type Memory struct {
	mu        sync.Mutex
	nextToken int64
	seq       int
	txs       map[string]*memoryTx
	submitted []MintRequest

	// Hooks let tests inject failures. They run without the lock held.
	SubmitErr func(req MintRequest) error
	AwaitErr  func(h Handle) error
	// OmitEvent mines without emitting CreditMinted.
	OmitEvent bool
}

type memoryTx struct {
	req      MintRequest
	tokenID  int64
	reverted bool
}

func NewMemory() *Memory {
	return &Memory{nextToken: 1, txs: make(map[string]*memoryTx)}
}

func (m *Memory) SubmitMint(ctx context.Context, req MintRequest) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	if m.SubmitErr != nil {
		if err := m.SubmitErr(req); err != nil {
			return Handle{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", m.seq, req.ProjectID, req.WalletAddress, req.MetadataRef)))
	hash := "0x" + hex.EncodeToString(sum[:])
	m.txs[hash] = &memoryTx{req: req, tokenID: m.nextToken}
	m.nextToken++
	m.submitted = append(m.submitted, req)
	return Handle{TxHash: hash}, nil
}

func (m *Memory) AwaitConfirmation(ctx context.Context, h Handle) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.AwaitErr != nil {
		if err := m.AwaitErr(h); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[h.TxHash]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	if tx.reverted {
		return nil, ErrReverted
	}
	r := &Receipt{TxHash: h.TxHash}
	if !m.OmitEvent {
		r.Logs = []Event{{
			Name: EventCreditMinted,
			Args: map[string]any{
				"tokenId":   big.NewInt(tx.tokenID),
				"projectId": tx.req.ProjectID,
				"owner":     tx.req.WalletAddress,
				"tokenURI":  tx.req.MetadataRef,
			},
		}}
	}
	return r, nil
}

// Revert marks a submitted transaction as failed on chain.
func (m *Memory) Revert(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx, ok := m.txs[h.TxHash]; ok {
		tx.reverted = true
	}
}

// Submitted returns every mint request accepted so far.
func (m *Memory) Submitted() []MintRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MintRequest, len(m.submitted))
	copy(out, m.submitted)
	return out
}
