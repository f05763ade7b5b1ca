package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintedTokenID(t *testing.T) {
	tests := []struct {
		name    string
		receipt *Receipt
		want    *int64
	}{
		{name: "nil receipt"},
		{name: "no events", receipt: &Receipt{TxHash: "0x1"}},
		{
			name:    "other events only",
			receipt: &Receipt{Logs: []Event{{Name: "Transfer", Args: map[string]any{"tokenId": big.NewInt(9)}}}},
		},
		{
			name: "credit minted",
			receipt: &Receipt{Logs: []Event{
				{Name: "Transfer", Args: map[string]any{"tokenId": big.NewInt(9)}},
				{Name: EventCreditMinted, Args: map[string]any{"tokenId": big.NewInt(42)}},
			}},
			want: ptr(42),
		},
		{
			name:    "token id overflows int64",
			receipt: &Receipt{Logs: []Event{{Name: EventCreditMinted, Args: map[string]any{"tokenId": new(big.Int).Lsh(big.NewInt(1), 80)}}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MintedTokenID(tt.receipt))
		})
	}
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	req := MintRequest{ProjectID: "PRJ-1", WalletAddress: "0xabc", MetadataRef: "ipfs://meta"}

	h1, err := m.SubmitMint(ctx, req)
	require.NoError(t, err)
	h2, err := m.SubmitMint(ctx, req)
	require.NoError(t, err)
	require.NotEqual(t, h1.TxHash, h2.TxHash)

	r, err := m.AwaitConfirmation(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, ptr(2), MintedTokenID(r))

	m.Revert(h1)
	_, err = m.AwaitConfirmation(ctx, h1)
	assert.ErrorIs(t, err, ErrReverted)

	_, err = m.AwaitConfirmation(ctx, Handle{TxHash: "0xmissing"})
	assert.ErrorIs(t, err, ErrUnknownTransaction)

	boom := errors.New("rpc down")
	m.SubmitErr = func(MintRequest) error { return boom }
	_, err = m.SubmitMint(ctx, req)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, m.Submitted(), 2)
}

func ptr(v int64) *int64 { return &v }
