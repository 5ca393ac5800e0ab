// Package kafka holds the shared franz-go client setup and topic
// administration used by the producer and consumer packages.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"logbook/internal/platform/config"
)

// ErrDisabled is returned when no brokers are configured.
var ErrDisabled = errors.New("kafka: no brokers configured")

// ClientOptions returns the options every client in this process shares.
func ClientOptions(cfg config.KafkaConfig) []kgo.Opt {
	return []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID("logbook"),
	}
}

// EnsureTopic creates topic when it does not exist yet.
func EnsureTopic(ctx context.Context, cfg config.KafkaConfig, topic string, logger *slog.Logger) error {
	if !cfg.Enabled() {
		return ErrDisabled
	}
	client, err := kgo.NewClient(ClientOptions(cfg)...)
	if err != nil {
		return fmt.Errorf("kafka admin client: %w", err)
	}
	defer client.Close()
	adm := kadm.NewClient(client)

	topics, err := adm.ListTopics(ctx, topic)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}
	if topics.Has(topic) {
		return nil
	}

	resp, err := adm.CreateTopic(ctx, cfg.Partitions, cfg.ReplicationFactor, nil, topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	logger.Info("kafka topic ready",
		"topic", topic,
		"partitions", cfg.Partitions,
		"replication_factor", cfg.ReplicationFactor,
	)
	return nil
}
