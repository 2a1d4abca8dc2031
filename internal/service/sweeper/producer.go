package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/devhub/internal/logger"
)

type Producer struct {
	interval time.Duration
	store    tokenStore
	logger   logger.Logger
	now      func() time.Time
}

func (p *Producer) Produce(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting sweeper producer", "interval", p.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				purged, err := p.store.PurgeExpired(ctx, p.now())
				if err != nil {
					// Partial purge: failed accounts are listed in err
					p.logger.Error("Failed to purge expired refresh tokens", "error", err, "count", purged)
					continue
				}
				p.logger.Debug("Expired refresh tokens purged", "count", purged)
			}
		}
	}()

	return idleStopped
}
