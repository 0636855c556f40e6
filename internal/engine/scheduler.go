package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives lifecycle transitions. Every tick it asks storage for
// auctions whose start or end time has passed and routes the transition
// through the auction's lane, so closures serialize behind in-flight bids.
// A missed tick is harmless: the next tick sees the same due rows.
type Scheduler struct {
	registry *Registry
	auctions AuctionStore
	logger   *zap.Logger
	interval time.Duration
}

// NewScheduler creates a scheduler ticking at the given interval. An
// interval at or below zero falls back to one second.
func NewScheduler(registry *Registry, auctions AuctionStore, logger *zap.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		registry: registry,
		auctions: auctions,
		logger:   logger,
		interval: interval,
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one promotion and closure sweep. Exported so tests and restart
// recovery can drive transitions without waiting on the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.registry.clock.Now()

	due, err := s.auctions.ListDuePromotions(ctx, now)
	if err != nil {
		s.logger.Error("promotion sweep failed", zap.Error(err))
	} else {
		for _, id := range due {
			lane, err := s.registry.Lane(ctx, id)
			if err != nil {
				s.logger.Error("promotion lane load failed",
					zap.String("auction_id", id.String()), zap.Error(err))
				continue
			}
			if err := lane.Promote(ctx); err != nil {
				s.logger.Error("promotion failed",
					zap.String("auction_id", id.String()), zap.Error(err))
			}
		}
	}

	due, err = s.auctions.ListDueClosures(ctx, now)
	if err != nil {
		s.logger.Error("closure sweep failed", zap.Error(err))
		return
	}
	for _, id := range due {
		lane, err := s.registry.Lane(ctx, id)
		if err != nil {
			s.logger.Error("closure lane load failed",
				zap.String("auction_id", id.String()), zap.Error(err))
			continue
		}
		if err := lane.Close(ctx); err != nil {
			s.logger.Error("closure failed",
				zap.String("auction_id", id.String()), zap.Error(err))
			continue
		}
		s.registry.Evict(id)
	}
}
