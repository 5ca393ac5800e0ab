package indexsync

import (
	"context"
	"encoding/json"
	"fmt"

	"logbook/internal/logbook/models"
	"logbook/pkg/platform/sentinel"
)

// ChannelPublisher queues resync requests in process for a Worker.
type ChannelPublisher struct {
	ch chan models.ResyncRequest
}

// NewChannelPublisher creates a queue holding up to buffer requests.
func NewChannelPublisher(buffer int) *ChannelPublisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelPublisher{ch: make(chan models.ResyncRequest, buffer)}
}

// Publish enqueues req without blocking. A full queue is reported as
// unavailable; the request is dropped.
func (p *ChannelPublisher) Publish(ctx context.Context, req models.ResyncRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.ch <- req:
		return nil
	default:
		return fmt.Errorf("resync queue full: %w", sentinel.ErrUnavailable)
	}
}

// Requests is the receive side of the queue.
func (p *ChannelPublisher) Requests() <-chan models.ResyncRequest {
	return p.ch
}

// Producer is the subset of the Kafka producer the publisher needs.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher writes resync requests to a topic keyed by index name, so
// requests for one index stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, req models.ResyncRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode resync request: %w", err)
	}
	headers := map[string]string{
		"content-type": "application/json",
		"request-id":   req.ID.String(),
	}
	return p.producer.Produce(ctx, p.topic, []byte(req.Key()), value, headers)
}
