package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "bluecarbon/pkg/platform/audit"
	"bluecarbon/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: "industry:1",
		Action:  string(audit.EventAccountRegistered),
	})
	require.NoError(t, err)

	events, err := store.ListBySubject(context.Background(), "industry:1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventAccountRegistered), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			Subject: "task:3",
			Action:  string(audit.EventMintSubmitted),
		}))
	}
	pub.Close()

	events, err := store.ListBySubject(context.Background(), "task:3")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_AsyncSurvivesCancelledRequest(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pub.Emit(ctx, audit.Event{Subject: "task:1", Action: string(audit.EventCreditMinted)}))
	cancel()
	pub.Close()

	events, _ := store.ListAll(context.Background())
	assert.Len(t, events, 1)
}

func TestPublisher_BufferFull(t *testing.T) {
	blocked := &blockingStore{release: make(chan struct{})}
	pub := NewPublisher(blocked, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pub.Emit(context.Background(), audit.Event{Action: string(audit.EventTaskAssigned)})
		}()
	}
	wg.Wait()
	close(errs)

	var full int
	for err := range errs {
		if errors.Is(err, ErrBufferFull) {
			full++
		}
	}
	assert.Positive(t, full)

	close(blocked.release)
	pub.Close()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	before := time.Now()
	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(audit.EventTaskAssigned)}))
	after := time.Now()

	events, _ := store.ListAll(context.Background())
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.Before(before))
	assert.False(t, events[0].Timestamp.After(after))
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		Action:    string(audit.EventTaskAssigned),
		Timestamp: customTime,
	}))

	events, _ := store.ListAll(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

type blockingStore struct {
	release chan struct{}
}

func (s *blockingStore) Append(context.Context, audit.Event) error {
	<-s.release
	return nil
}
