// Package publisher fans audit events out to a store, either inline or through
// a bounded buffer drained by one goroutine.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	audit "bluecarbon/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer has no room.
var ErrBufferFull = errors.New("audit buffer full")

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
	buffer chan envelope
	wg     sync.WaitGroup
	once   sync.Once
}

type envelope struct {
	ctx   context.Context
	event audit.Event
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking: events are queued and appended by a
// background goroutine. Close drains the queue.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan envelope, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records event, stamping the timestamp and category when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.buffer == nil {
		return p.store.Append(ctx, event)
	}

	// The request context may be cancelled before the event is drained.
	env := envelope{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case p.buffer <- env:
		return nil
	default:
	}
	select {
	case p.buffer <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit event dropped: buffer full", "action", event.Action)
		return ErrBufferFull
	}
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for env := range p.buffer {
		if err := p.store.Append(env.ctx, env.event); err != nil {
			p.logger.ErrorContext(env.ctx, "failed to append audit event",
				"action", env.event.Action,
				"subject", env.event.Subject,
				"error", err,
			)
		}
	}
}

// Close stops accepting async events and waits for queued ones to be stored.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
}
