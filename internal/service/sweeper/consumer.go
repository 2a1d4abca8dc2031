package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devhub/internal/logger"
)

type Consumer struct {
	countWorkers int
	store        tokenStore
	logger       logger.Logger
	now          func() time.Time
}

func (c *Consumer) Consume(ctx context.Context, in <-chan uuid.UUID) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			return

		case accountID, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}

			deleted, err := c.store.DeleteExpired(ctx, accountID, c.now())
			if err != nil {
				c.logger.Error("Failed to delete expired refresh tokens", "error", err, "account_id", accountID)
				continue
			}
			if deleted > 0 {
				c.logger.Debug("Expired refresh tokens deleted", "account_id", accountID, "count", deleted)
			}
		}
	}
}
