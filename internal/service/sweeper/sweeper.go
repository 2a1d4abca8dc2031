// Package sweeper removes expired refresh tokens in background.
//
// Two sources of work: a periodic purge over all accounts (producer) and
// account ids enqueued after login or refresh (consumer workers).
// All work is opportunistic, reads from the store never depend on it.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devhub/internal/logger"
)

const (
	defaultCountWorkers = 2
	defaultInterval     = 10 * time.Minute
	defaultQueueSize    = 1024
)

type tokenStore interface {
	DeleteExpired(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Config struct {
	// Interval between global purges
	Interval time.Duration

	// Workers draining account queue and queue capacity
	CountWorkers int
	QueueSize    int
}

type Sweeper struct {
	queue    chan uuid.UUID
	consumer *Consumer
	producer *Producer
	logger   logger.Logger
}

func New(cfg Config, store tokenStore, logger logger.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = defaultCountWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Sweeper{
		queue: make(chan uuid.UUID, cfg.QueueSize),
		consumer: &Consumer{
			countWorkers: cfg.CountWorkers,
			store:        store,
			logger:       logger,
			now:          time.Now,
		},
		producer: &Producer{
			interval: cfg.Interval,
			store:    store,
			logger:   logger,
			now:      time.Now,
		},
		logger: logger,
	}
}

// Enqueue account for expired tokens cleanup
// Never blocks: if the queue is full the account is skipped, periodic purge gets it later
func (s *Sweeper) Enqueue(accountID uuid.UUID) {
	select {
	case s.queue <- accountID:
	default:
		s.logger.Debug("Sweeper queue is full, account skipped", "account_id", accountID)
	}
}

// Start producer and consumer; returned channel is closed when both stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	producerStopped := s.producer.Produce(ctx)
	consumerStopped := s.consumer.Consume(ctx, s.queue)

	go func() {
		defer close(idleStopped)
		<-producerStopped
		<-consumerStopped
		s.logger.Debug("Sweeper stopped")
	}()

	return idleStopped
}
