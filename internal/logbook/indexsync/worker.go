package indexsync

import (
	"context"
	"io"
	"log/slog"
)

const defaultRetries = 3

// Worker drains a ChannelPublisher into a Handler.
type Worker struct {
	queue   *ChannelPublisher
	handler *Handler
	logger  *slog.Logger
	retries int
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithRetry sets how often a failed request is retried before the worker
// gives up on it. The wait between attempts is the handler's backoff.
func WithRetry(retries int) WorkerOption {
	return func(w *Worker) {
		if retries >= 0 {
			w.retries = retries
		}
	}
}

func NewWorker(queue *ChannelPublisher, handler *Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:   queue,
		handler: handler,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		retries: defaultRetries,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes requests until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("index resync worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("index resync worker stopped")
			return nil
		case req := <-w.queue.Requests():
			err := w.handler.resyncWithRetry(ctx, req, w.retries)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				w.logger.Error("index resync abandoned",
					"request_id", req.ID,
					"index", req.Key(),
					"error", err,
				)
			}
		}
	}
}
