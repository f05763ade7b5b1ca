package ledger

import (
	"context"
	"errors"
	"log/slog"

	"bluecarbon/pkg/platform/circuit"
)

// Guarded wraps a Client with a circuit breaker on submission. Once the
// breaker opens, SubmitMint returns ErrUnavailable without contacting the
// ledger until the cooldown lets a probe through. Confirmation waits are
// passed straight through so pending transactions can still be reconciled.
type Guarded struct {
	next    Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewGuarded(next Client, breaker *circuit.Breaker, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{next: next, breaker: breaker, logger: logger}
}

func (g *Guarded) SubmitMint(ctx context.Context, req MintRequest) (Handle, error) {
	if !g.breaker.Allow() {
		return Handle{}, ErrUnavailable
	}
	h, err := g.next.SubmitMint(ctx, req)
	switch {
	case err == nil:
		if _, change := g.breaker.RecordSuccess(); change.Closed {
			g.logger.InfoContext(ctx, "ledger circuit closed", "breaker", g.breaker.Name())
		}
	case countsAgainstLedger(ctx, err):
		if _, change := g.breaker.RecordFailure(); change.Opened {
			g.logger.WarnContext(ctx, "ledger circuit opened",
				"breaker", g.breaker.Name(),
				"error", err,
			)
		}
	}
	return h, err
}

func (g *Guarded) AwaitConfirmation(ctx context.Context, h Handle) (*Receipt, error) {
	return g.next.AwaitConfirmation(ctx, h)
}

// countsAgainstLedger ignores failures caused by the caller giving up.
func countsAgainstLedger(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
