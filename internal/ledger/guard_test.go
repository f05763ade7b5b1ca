package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluecarbon/pkg/platform/circuit"
)

func TestGuardedSubmitMint(t *testing.T) {
	ctx := context.Background()
	req := MintRequest{ProjectID: "BC-001", WalletAddress: "0xabc", MetadataRef: "ipfs://meta"}
	rpcDown := errors.New("dial tcp: connection refused")

	t.Run("opens after repeated transport failures and fails fast", func(t *testing.T) {
		mem := NewMemory()
		calls := 0
		mem.SubmitErr = func(MintRequest) error { calls++; return rpcDown }
		g := NewGuarded(mem, circuit.New("ledger", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour)), nil)

		for range 2 {
			_, err := g.SubmitMint(ctx, req)
			require.ErrorIs(t, err, rpcDown)
		}
		_, err := g.SubmitMint(ctx, req)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 2, calls)
	})

	t.Run("a successful probe after the cooldown closes the breaker", func(t *testing.T) {
		now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		mem := NewMemory()
		mem.SubmitErr = func(MintRequest) error { return rpcDown }
		breaker := circuit.New("ledger",
			circuit.WithFailureThreshold(1),
			circuit.WithSuccessThreshold(1),
			circuit.WithCooldown(time.Minute),
			circuit.WithClock(func() time.Time { return now }),
		)
		g := NewGuarded(mem, breaker, nil)

		_, err := g.SubmitMint(ctx, req)
		require.ErrorIs(t, err, rpcDown)
		require.True(t, breaker.IsOpen())

		mem.SubmitErr = nil
		now = now.Add(time.Minute)
		h, err := g.SubmitMint(ctx, req)
		require.NoError(t, err)
		assert.NotEmpty(t, h.TxHash)
		assert.False(t, breaker.IsOpen())
	})

	t.Run("caller cancellation does not count", func(t *testing.T) {
		breaker := circuit.New("ledger", circuit.WithFailureThreshold(1))
		g := NewGuarded(NewMemory(), breaker, nil)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := g.SubmitMint(cancelled, req)
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, breaker.IsOpen())
	})

	t.Run("confirmation passes through while open", func(t *testing.T) {
		mem := NewMemory()
		h, err := mem.SubmitMint(ctx, req)
		require.NoError(t, err)

		breaker := circuit.New("ledger", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
		breaker.RecordFailure()
		g := NewGuarded(mem, breaker, nil)

		receipt, err := g.AwaitConfirmation(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, h.TxHash, receipt.TxHash)
	})
}
