//go:build integration

package indexsync_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"logbook/internal/logbook/indexsync"
	"logbook/internal/logbook/logbooktest"
	"logbook/internal/logbook/models"
	"logbook/internal/logbook/store/document"
	"logbook/internal/logbook/store/index"
	"logbook/internal/platform/config"
	"logbook/internal/platform/kafka"
	"logbook/internal/platform/kafka/consumer"
	"logbook/internal/platform/kafka/producer"
	id "logbook/pkg/domain"
	"logbook/pkg/platform/circuit"
	"logbook/pkg/testutil/containers"
)

func TestKafkaResyncRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.KafkaConfig{
		Brokers:           broker.Brokers,
		ResyncTopic:       "logbook.index.resync." + uuid.NewString()[:8],
		ConsumerGroup:     "it-" + uuid.NewString(),
		Partitions:        1,
		ReplicationFactor: 1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	require.NoError(t, kafka.EnsureTopic(ctx, cfg, cfg.ResyncTopic, logger))
	require.NoError(t, kafka.EnsureTopic(ctx, cfg, cfg.ResyncTopic, logger), "ensuring twice is fine")

	tenant := id.TenantID(6)
	store := document.NewInMemory()
	idx := index.NewInMemory()
	require.NoError(t, store.Create(ctx, models.CollectionOperation, tenant,
		logbooktest.Document("P1", int(tenant), 0, logbooktest.Started("P1"))))

	router := consumer.NewRouter(logger)
	router.Register(cfg.ResyncTopic, indexsync.NewHandler(store, idx, circuit.New("it")))
	cons, err := consumer.New(cfg, router.Topics(), router, logger)
	require.NoError(t, err)
	defer cons.Close()
	done := make(chan error, 1)
	go func() { done <- cons.Run(ctx) }()

	prod, err := producer.New(cfg)
	require.NoError(t, err)
	defer prod.Close()
	require.NoError(t, prod.Health(ctx))

	pub := indexsync.NewKafkaPublisher(prod, cfg.ResyncTopic)
	req := models.NewResyncRequest(models.CollectionOperation, tenant, []string{"P1"}, indexsync.ReasonBulkFailed, time.Now())
	require.NoError(t, pub.Publish(ctx, req))

	require.Eventually(t, func() bool {
		page, err := idx.Search(ctx, models.CollectionOperation, tenant, nil, 0, 0)
		return err == nil && page.Total == 1
	}, time.Minute, 250*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
