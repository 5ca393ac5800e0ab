// Package consumer runs a franz-go consumer group and hands each record to a
// Handler, committing offsets after every polled batch.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"logbook/internal/platform/config"
	"logbook/internal/platform/kafka"
)

// Consumer polls its topics until the context ends.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New joins cfg.ConsumerGroup for topics. Returns kafka.ErrDisabled without
// brokers.
func New(cfg config.KafkaConfig, topics []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if !cfg.Enabled() {
		return nil, kafka.ErrDisabled
	}
	opts := append(kafka.ClientOptions(cfg),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run blocks until ctx is canceled or the client is closed. Offsets are
// committed once every record of a poll has been handled. Handlers that must
// not lose a record retry until they succeed; when one is interrupted by
// cancellation the poll is left uncommitted and redelivered to the next
// group member.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) {
				return nil
			}
			c.logger.Warn("kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		interrupted := false
		fetches.EachRecord(func(r *kgo.Record) {
			if interrupted {
				return
			}
			msg := fromRecord(r)
			if err := c.handler.Handle(ctx, msg); err != nil {
				if ctx.Err() != nil {
					interrupted = true
					return
				}
				c.logger.Warn("kafka handler failed",
					"topic", msg.Topic,
					"partition", msg.Partition,
					"offset", msg.Offset,
					"error", err,
				)
			}
		})
		if interrupted {
			c.logger.Info("kafka poll interrupted, offsets left uncommitted")
			return nil
		}

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("kafka commit failed", "error", err)
		}
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}
