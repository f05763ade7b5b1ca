//go:build integration

package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"bluecarbon/internal/platform/kafka"
	audit "bluecarbon/pkg/platform/audit"
	"bluecarbon/pkg/platform/audit/store/postgres"
	"bluecarbon/pkg/platform/audit/worker"
	"bluecarbon/pkg/testutil/containers"
)

const topic = "bluecarbon.audit.test"

type RelaySuite struct {
	suite.Suite
	pg       *containers.PostgresContainer
	brokers  []string
	store    *postgres.Store
	producer *kafka.Producer
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.pg = mgr.GetPostgres(s.T())
	s.brokers = mgr.GetRedpanda(s.T()).Brokers
	s.store = postgres.New(s.pg.DB)

	producer, err := kafka.NewProducer(s.brokers, topic)
	s.Require().NoError(err)
	s.Require().NoError(producer.EnsureTopic(context.Background(), 1, 1))
	s.producer = producer
}

func (s *RelaySuite) TearDownSuite() {
	s.producer.Close()
}

func (s *RelaySuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateTables(context.Background(), "outbox"))
}

func (s *RelaySuite) TestOutboxReachesTopic() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Subject:   "task:9",
		Action:    string(audit.EventCreditMinted),
		TxHash:    "0xabc",
		Timestamp: time.Now(),
	}))

	relay := worker.NewWorker(s.store, s.producer, time.Second, nil)
	n, err := relay.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	pending, err := s.store.FetchUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	pollCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	var got audit.Event
	for got.Action == "" {
		fetches := consumer.PollFetches(pollCtx)
		s.Require().NoError(pollCtx.Err())
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == "task:9" {
				s.Require().NoError(json.Unmarshal(r.Value, &got))
			}
		})
	}
	s.Equal(string(audit.EventCreditMinted), got.Action)
	s.Equal(audit.CategoryCompliance, got.Category)
	s.Equal("0xabc", got.TxHash)
}
