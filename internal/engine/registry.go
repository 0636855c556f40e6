package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openlot/realtime-auction-backend/internal/broadcast"
	"github.com/openlot/realtime-auction-backend/internal/domain/auction"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/metrics"
)

// Registry owns the live lanes. Lanes are created lazily on first reference
// and evicted when their auction reaches a terminal state.
type Registry struct {
	laneCfg  LaneConfig
	auctions AuctionStore
	bids     BidStore
	proxies  ProxyStore
	fabric   *broadcast.Fabric
	clock    auction.Clock
	notifier WinnerNotifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	lanes   map[uuid.UUID]*laneHandle
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type laneHandle struct {
	lane   *Lane
	cancel context.CancelFunc
}

// NewRegistry wires a registry over the given stores and broadcast fabric.
func NewRegistry(
	laneCfg LaneConfig,
	auctions AuctionStore,
	bids BidStore,
	proxies ProxyStore,
	fabric *broadcast.Fabric,
	clock auction.Clock,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		laneCfg:  laneCfg,
		auctions: auctions,
		bids:     bids,
		proxies:  proxies,
		fabric:   fabric,
		clock:    clock,
		logger:   logger,
		metrics:  m,
		lanes:    make(map[uuid.UUID]*laneHandle),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// SetWinnerNotifier injects the gateway after construction; the gateway and
// registry reference each other.
func (r *Registry) SetWinnerNotifier(n WinnerNotifier) {
	r.notifier = n
}

// Lane returns the lane for an auction, loading it from storage on first
// reference. Terminal auctions have no lane and answer not_live; not_found
// is reserved for ids that match nothing.
func (r *Registry) Lane(ctx context.Context, auctionID uuid.UUID) (*Lane, error) {
	r.mu.Lock()
	if h, ok := r.lanes[auctionID]; ok {
		r.mu.Unlock()
		return h.lane, nil
	}
	r.mu.Unlock()

	a, err := r.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, domerrors.ErrAuctionNotLive
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.lanes[auctionID]; ok {
		return h.lane, nil
	}

	lane := newLane(
		r.laneCfg, a,
		r.auctions, r.bids, r.proxies,
		r.fabric.Room(auctionID),
		r.clock, r.notifier, r.logger, r.metrics,
	)
	if err := lane.restore(ctx); err != nil {
		return nil, err
	}

	laneCtx, cancel := context.WithCancel(r.baseCtx)
	r.lanes[auctionID] = &laneHandle{lane: lane, cancel: cancel}
	r.metrics.ActiveLanes.Set(float64(len(r.lanes)))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		lane.Run(laneCtx)
	}()

	r.logger.Info("lane started",
		zap.String("auction_id", auctionID.String()),
		zap.String("status", string(a.Status)))
	return lane, nil
}

// Evict stops a lane and closes its room. Called after terminal transitions.
func (r *Registry) Evict(auctionID uuid.UUID) {
	r.mu.Lock()
	h, ok := r.lanes[auctionID]
	if ok {
		delete(r.lanes, auctionID)
		r.metrics.ActiveLanes.Set(float64(len(r.lanes)))
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	h.cancel()
	r.fabric.CloseRoom(auctionID)
	r.logger.Info("lane evicted", zap.String("auction_id", auctionID.String()))
}

// RestoreLive loads a lane for every non-terminal auction, so the scheduler
// and the gateway find warm state after a restart.
func (r *Registry) RestoreLive(ctx context.Context) error {
	open, err := r.auctions.ListNonTerminal(ctx)
	if err != nil {
		return domerrors.Wrap(err, "listing open auctions")
	}
	for _, a := range open {
		if _, err := r.Lane(ctx, a.ID); err != nil {
			r.logger.Error("lane restore failed",
				zap.String("auction_id", a.ID.String()),
				zap.Error(err))
		}
	}
	r.logger.Info("restart recovery complete", zap.Int("auctions", len(open)))
	return nil
}

// CancelAuction withdraws a bid-free auction on behalf of its owner and
// evicts the lane on success.
func (r *Registry) CancelAuction(ctx context.Context, auctionID, requesterID uuid.UUID) error {
	lane, err := r.Lane(ctx, auctionID)
	if err != nil {
		return err
	}
	if err := lane.CancelAuction(ctx, requesterID); err != nil {
		return err
	}
	r.Evict(auctionID)
	return nil
}

// Shutdown stops every lane and waits for their loops to exit.
func (r *Registry) Shutdown() {
	r.cancel()
	r.wg.Wait()
	r.mu.Lock()
	r.lanes = make(map[uuid.UUID]*laneHandle)
	r.metrics.ActiveLanes.Set(0)
	r.mu.Unlock()
}
