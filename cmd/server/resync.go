package main

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"logbook/internal/logbook/indexsync"
	"logbook/internal/logbook/ports"
	"logbook/internal/platform/config"
	"logbook/internal/platform/kafka"
	"logbook/internal/platform/kafka/consumer"
	"logbook/internal/platform/kafka/producer"
)

// resyncPath is where index resync requests go and what drains them.
type resyncPath struct {
	publisher ports.ResyncPublisher
	health    func(ctx context.Context) error
	close     func()
}

// startResync publishes resync requests to Kafka when brokers are configured
// and consumes them in this process. Without Kafka an in-process queue and
// worker take their place.
func startResync(ctx context.Context, g *errgroup.Group, cfg *config.Config, handler *indexsync.Handler, log *slog.Logger) (*resyncPath, error) {
	if !cfg.Kafka.Enabled() {
		queue := indexsync.NewChannelPublisher(cfg.Logbook.ResyncBuffer)
		worker := indexsync.NewWorker(queue, handler, indexsync.WithWorkerLogger(log))
		g.Go(func() error { return worker.Run(ctx) })
		log.Info("kafka disabled, index resync runs in process")
		return &resyncPath{publisher: queue, close: func() {}}, nil
	}

	topic := cfg.Kafka.ResyncTopic
	if err := kafka.EnsureTopic(ctx, cfg.Kafka, topic, log); err != nil {
		return nil, err
	}
	prod, err := producer.New(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	router := consumer.NewRouter(log)
	router.Register(topic, handler)
	cons, err := consumer.New(cfg.Kafka, router.Topics(), router, log)
	if err != nil {
		prod.Close()
		return nil, err
	}
	g.Go(func() error { return cons.Run(ctx) })
	log.Info("index resync uses kafka", "topic", topic, "group", cfg.Kafka.ConsumerGroup)

	return &resyncPath{
		publisher: indexsync.NewKafkaPublisher(prod, topic),
		health:    prod.Health,
		close: func() {
			cons.Close()
			prod.Close()
		},
	}, nil
}
