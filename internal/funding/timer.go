package funding

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundlane/adwallet/internal/fees"
)

// ExpirySettler applies the expired outcome for a provider reference.
// The reconciler implements it, so sweeps serialize with provider
// webhooks on the same per-reference locks.
type ExpirySettler interface {
	Expire(ctx context.Context, rail fees.Rail, externalRef string) error
}

// ExpiryTimer periodically expires pending intents whose payment window
// has passed (crypto charges are the only rail that sets one).
type ExpiryTimer struct {
	service  *Service
	settler  ExpirySettler
	interval time.Duration
	stop     chan struct{}
	logger   *slog.Logger
}

// NewExpiryTimer creates a timer that sweeps for overdue intents.
func NewExpiryTimer(service *Service, settler ExpirySettler, interval time.Duration, logger *slog.Logger) *ExpiryTimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryTimer{
		service:  service,
		settler:  settler,
		interval: interval,
		stop:     make(chan struct{}),
		logger:   logger,
	}
}

// Start begins the sweep loop in a goroutine.
func (t *ExpiryTimer) Start(ctx context.Context) {
	go t.run(ctx)
}

// Stop halts the sweep loop.
func (t *ExpiryTimer) Stop() {
	close(t.stop)
}

func (t *ExpiryTimer) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			expired, err := t.service.ExpireOverdue(ctx, time.Now().UTC(), func(ctx context.Context, intent *FundingIntent) error {
				return t.settler.Expire(ctx, intent.Rail, intent.ExternalRef)
			})
			if err != nil {
				t.logger.Error("expiry sweep failed", "error", err)
				continue
			}
			if expired > 0 {
				t.logger.Info("expired overdue funding intents", "count", expired)
			}
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
