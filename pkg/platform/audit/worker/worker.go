// Package worker relays outbox entries to the audit topic.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"bluecarbon/internal/platform/kafka"
	"bluecarbon/pkg/platform/audit/store/postgres"
)

const defaultBatchSize = 100

// Outbox is the relay's view of the outbox table.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]postgres.Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Sink publishes records to Kafka.
type Sink interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// Worker polls the outbox and publishes unpublished entries in creation order.
// Delivery is at-least-once: an entry published but not yet marked is sent
// again on the next pass, keyed by its outbox id so consumers can dedupe.
type Worker struct {
	outbox    Outbox
	sink      Sink
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewWorker(outbox Outbox, sink Sink, interval time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{outbox: outbox, sink: sink, interval: interval, batchSize: defaultBatchSize, logger: logger}
}

// Run relays until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many entries it relayed.
func (w *Worker) RelayOnce(ctx context.Context) (int, error) {
	entries, err := w.outbox.FetchUnpublished(ctx, w.batchSize)
	if err != nil || len(entries) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, 0, len(entries))
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Headers: map[string]string{
				"outbox_id":  e.ID.String(),
				"event_type": e.EventType,
				"category":   e.AggregateType,
			},
		})
		ids = append(ids, e.ID)
	}
	if err := w.sink.Publish(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := w.outbox.MarkPublished(ctx, ids, time.Now()); err != nil {
		return 0, err
	}
	return len(entries), nil
}
