package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openlot/realtime-auction-backend/internal/broadcast"
	"github.com/openlot/realtime-auction-backend/internal/domain/auction"
	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/domain/values"
	"github.com/openlot/realtime-auction-backend/internal/metrics"
	"github.com/openlot/realtime-auction-backend/internal/pricing"
)

var tracer = otel.Tracer("github.com/openlot/realtime-auction-backend/internal/engine")

// telemetryDepth is how many committed bids the lane keeps for the pricing
// policy; the history snapshot depth is configured separately but shares the
// same ring.
const telemetryDepth = 20

// chainLimit is a safety stop for the proxy reaction chain. The chain
// terminates on its own because price strictly increases and intents cap at
// their max; the limit only guards against a future bookkeeping bug.
const chainLimit = 1000

// LaneConfig tunes one auction lane.
type LaneConfig struct {
	QueueSize     int
	HistorySize   int
	CommitTimeout time.Duration
}

// DefaultLaneConfig matches production settings.
func DefaultLaneConfig() LaneConfig {
	return LaneConfig{
		QueueSize:     256,
		HistorySize:   20,
		CommitTimeout: 5 * time.Second,
	}
}

// BidRequest is a place_bid command after the gateway tagged it with the
// authenticated identity.
type BidRequest struct {
	BidderID uuid.UUID
	Username string
	Amount   values.Money
}

// ProxyRequest is a set_proxy command after identity tagging.
type ProxyRequest struct {
	BidderID  uuid.UUID
	Username  string
	MaxAmount values.Money
}

// Snapshot is the lane state handed to a joining subscriber.
type Snapshot struct {
	Auction       auction.Auction
	SuggestedBid  values.Money
	NextIncrement values.Money
	Predicted     values.Money
	History       []broadcast.HistoryBid
	LastSeq       uint64
}

// Lane is the single writer for one auction. Every mutation of the
// auction's price, bid set, winner flag, and proxy book flows through the
// lane's command loop in strict arrival order.
type Lane struct {
	cfg      LaneConfig
	a        *auction.Auction
	auctions AuctionStore
	bids     BidStore
	proxies  ProxyStore
	room     *broadcast.Room
	clock    auction.Clock
	notifier WinnerNotifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	queue chan *laneRequest
	done  chan struct{}

	// Owned state, touched only from the command loop.
	lastBidder      uuid.UUID
	history         []historyEntry
	winning         *bid.Bid
	winningUsername string
	proxy           *proxyBook
	quarantined     bool
}

type historyEntry struct {
	bid      *bid.Bid
	username string
}

type cmdKind int

const (
	cmdPlaceBid cmdKind = iota
	cmdSetProxy
	cmdCancelProxy
	cmdSnapshot
	cmdPromote
	cmdClose
	cmdCancelAuction
)

type laneRequest struct {
	kind     cmdKind
	bidReq   *BidRequest
	proxyReq *ProxyRequest
	actorID  uuid.UUID
	reply    chan laneReply
}

type laneReply struct {
	bid      *bid.Bid
	intent   *bid.ProxyIntent
	snapshot *Snapshot
	err      error
}

func newLane(
	cfg LaneConfig,
	a *auction.Auction,
	auctions AuctionStore,
	bids BidStore,
	proxies ProxyStore,
	room *broadcast.Room,
	clock auction.Clock,
	notifier WinnerNotifier,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Lane {
	return &Lane{
		cfg:      cfg,
		a:        a,
		auctions: auctions,
		bids:     bids,
		proxies:  proxies,
		room:     room,
		clock:    clock,
		notifier: notifier,
		logger:   logger.With(zap.String("auction_id", a.ID.String())),
		metrics:  m,
		queue:    make(chan *laneRequest, cfg.QueueSize),
		done:     make(chan struct{}),
		proxy:    newProxyBook(),
	}
}

// restore seeds the lane's owned state from the persistent store: recent
// bids for telemetry and history, the last bidder, the winning bid, and the
// active proxy intents.
func (l *Lane) restore(ctx context.Context) error {
	depth := l.cfg.HistorySize
	if depth < telemetryDepth {
		depth = telemetryDepth
	}
	recent, err := l.bids.ListRecent(ctx, l.a.ID, depth)
	if err != nil {
		return domerrors.Wrap(err, "restoring bid history")
	}
	for _, rb := range recent {
		l.history = append(l.history, historyEntry{bid: rb.Bid, username: rb.BidderUsername})
		if rb.Bid.Winning {
			l.winning = rb.Bid
			l.winningUsername = rb.BidderUsername
		}
	}
	if n := len(recent); n > 0 {
		l.lastBidder = recent[n-1].Bid.BidderID
	}

	intents, err := l.proxies.ListActive(ctx, l.a.ID)
	if err != nil {
		return domerrors.Wrap(err, "restoring proxy intents")
	}
	for _, in := range intents {
		l.proxy.put(in.Intent, in.Username)
	}
	return nil
}

// Run processes commands until ctx is cancelled. One goroutine per lane.
func (l *Lane) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.queue:
			l.dispatch(req)
		}
	}
}

// AuctionID returns the auction this lane serializes.
func (l *Lane) AuctionID() uuid.UUID {
	return l.a.ID
}

// SellerID returns the auction owner's id.
func (l *Lane) SellerID() uuid.UUID {
	return l.a.SellerID
}

// PlaceBid validates and commits a manual bid, then drives the proxy
// reaction chain. Returns the committed bid or a typed rejection.
func (l *Lane) PlaceBid(ctx context.Context, req BidRequest) (*bid.Bid, error) {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdPlaceBid, bidReq: &req})
	if err != nil {
		return nil, err
	}
	return rep.bid, rep.err
}

// SetProxy upserts a proxy intent and evaluates an immediate auto-lead.
func (l *Lane) SetProxy(ctx context.Context, req ProxyRequest) (*bid.ProxyIntent, error) {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdSetProxy, proxyReq: &req})
	if err != nil {
		return nil, err
	}
	return rep.intent, rep.err
}

// CancelProxy deactivates the bidder's active intent, if any.
func (l *Lane) CancelProxy(ctx context.Context, bidderID uuid.UUID) error {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdCancelProxy, actorID: bidderID})
	if err != nil {
		return err
	}
	return rep.err
}

// Snapshot returns fresh auction state and bid history for a joining
// subscriber.
func (l *Lane) Snapshot(ctx context.Context) (*Snapshot, error) {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdSnapshot})
	if err != nil {
		return nil, err
	}
	return rep.snapshot, rep.err
}

// Promote transitions upcoming to live. Idempotent.
func (l *Lane) Promote(ctx context.Context) error {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdPromote})
	if err != nil {
		return err
	}
	return rep.err
}

// Close finalizes the auction through the lane, so no bid can commit after
// close is observed. Idempotent.
func (l *Lane) Close(ctx context.Context) error {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdClose})
	if err != nil {
		return err
	}
	return rep.err
}

// CancelAuction withdraws a bid-free auction on behalf of its owner.
func (l *Lane) CancelAuction(ctx context.Context, requesterID uuid.UUID) error {
	rep, err := l.submit(ctx, &laneRequest{kind: cmdCancelAuction, actorID: requesterID})
	if err != nil {
		return err
	}
	return rep.err
}

func (l *Lane) submit(ctx context.Context, req *laneRequest) (laneReply, error) {
	req.reply = make(chan laneReply, 1)
	select {
	case l.queue <- req:
	case <-l.done:
		// The lane only stops after a terminal transition.
		return laneReply{}, domerrors.ErrAuctionNotLive
	case <-ctx.Done():
		return laneReply{}, domerrors.NewInternalError("command dropped").WithCause(ctx.Err())
	}

	select {
	case rep := <-req.reply:
		return rep, nil
	case <-l.done:
		return laneReply{}, domerrors.ErrAuctionNotLive
	case <-ctx.Done():
		// The command may still execute; its response is discarded.
		return laneReply{}, domerrors.NewInternalError("response discarded").WithCause(ctx.Err())
	}
}

func (l *Lane) dispatch(req *laneRequest) {
	switch req.kind {
	case cmdPlaceBid:
		b, err := l.commitBid(req.bidReq, bid.KindManual)
		req.reply <- laneReply{bid: b, err: err}
		if err == nil {
			l.runProxyChain(bid.KindProxy)
		}
	case cmdSetProxy:
		intent, err := l.setProxy(req.proxyReq)
		req.reply <- laneReply{intent: intent, err: err}
		if err == nil {
			l.runProxyChain(bid.KindAutomatic)
		}
	case cmdCancelProxy:
		req.reply <- laneReply{err: l.cancelProxy(req.actorID)}
	case cmdSnapshot:
		req.reply <- laneReply{snapshot: l.snapshot()}
	case cmdPromote:
		req.reply <- laneReply{err: l.promote()}
	case cmdClose:
		req.reply <- laneReply{err: l.close()}
	case cmdCancelAuction:
		req.reply <- laneReply{err: l.cancelAuction(req.actorID)}
	}
}

// commitBid is steps 1-8 of the serializer contract. Called for manual bids
// and for every link of the proxy reaction chain.
func (l *Lane) commitBid(req *BidRequest, kind bid.Kind) (*bid.Bid, error) {
	now := l.clock.Now()

	if l.quarantined {
		return nil, l.reject(domerrors.NewInternalError("lane quarantined"))
	}
	if !l.a.IsLive(now) {
		return nil, l.reject(domerrors.ErrAuctionNotLive)
	}
	if req.BidderID == l.a.SellerID {
		return nil, l.reject(domerrors.ErrSellerSelfBid)
	}
	if l.lastBidder == req.BidderID {
		return nil, l.reject(domerrors.ErrConsecutiveBid)
	}
	if !req.Amount.IsPositive() {
		return nil, l.reject(domerrors.ErrInvalidAmount)
	}

	// Automatic bids step by the conservative proxy increment; manual bids
	// must clear the full dynamic increment.
	tel := l.telemetry(now)
	increment := pricing.BidIncrement(tel)
	if kind != bid.KindManual {
		increment = pricing.ProxyIncrement(tel)
	}
	minimum := l.a.CurrentPrice.AddAmount(increment)
	if req.Amount.LessThan(minimum) {
		return nil, l.reject(domerrors.BelowMinimum(minimum.String()))
	}

	b := bid.New(l.a.ID, req.BidderID, req.Amount, kind, now)

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "lane.commit_bid", trace.WithAttributes(
		attribute.String("auction_id", l.a.ID.String()),
		attribute.String("amount", req.Amount.String()),
		attribute.String("kind", string(kind)),
	))
	start := time.Now()
	err := l.bids.CommitBid(ctx, b, req.Username)
	span.End()
	l.metrics.BidCommitTime.Observe(time.Since(start).Seconds())

	if err != nil {
		l.logger.Error("bid commit failed",
			zap.String("bidder_id", req.BidderID.String()),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return nil, l.reject(domerrors.NewInternalError("bid commit failed").WithCause(err))
	}

	if err := l.a.ApplyBid(req.Amount, now); err != nil {
		l.quarantine(err)
		return nil, domerrors.NewInternalError("lane quarantined").WithCause(err)
	}

	l.lastBidder = req.BidderID
	l.winning = b
	l.winningUsername = req.Username
	l.appendHistory(b, req.Username)

	seq := l.room.Publish(func(seq uint64) []byte {
		return broadcast.Marshal(broadcast.NewBidEvent{
			Type:           broadcast.EventNewBid,
			AuctionID:      l.a.ID,
			BidID:          b.ID,
			Amount:         b.Amount.String(),
			BidderUsername: req.Username,
			Kind:           string(kind),
			Seq:            seq,
			Timestamp:      b.CreatedAt,
			TotalBids:      l.a.BidCount,
		})
	})

	l.metrics.BidsAccepted.WithLabelValues(string(kind)).Inc()
	l.logger.Info("bid committed",
		zap.String("bid_id", b.ID.String()),
		zap.String("bidder_id", req.BidderID.String()),
		zap.String("amount", b.Amount.String()),
		zap.String("kind", string(kind)),
		zap.Uint64("seq", seq),
		zap.Int("total_bids", l.a.BidCount))

	return b, nil
}

func (l *Lane) reject(err *domerrors.AppError) *domerrors.AppError {
	l.metrics.BidsRejected.WithLabelValues(err.Code).Inc()
	return err
}

// runProxyChain keeps offering the new price to the proxy book until no
// intent can counter. Every link commits on this lane before any queued
// external bid, so the reaction is atomic from other bidders' perspective.
// kind records what set the chain off: a manual bid or a set_proxy.
func (l *Lane) runProxyChain(kind bid.Kind) {
	for i := 0; i < chainLimit; i++ {
		now := l.clock.Now()
		auto := l.proxy.onPriceChange(l.a.CurrentPrice, l.lastBidder, l.telemetry(now))
		if auto == nil {
			return
		}

		username := auto.username
		if username == "" {
			username = l.usernameFor(auto.intent.BidderID)
		}

		b, err := l.commitBid(&BidRequest{
			BidderID: auto.intent.BidderID,
			Username: username,
			Amount:   auto.amount,
		}, kind)
		if err != nil {
			l.logger.Debug("auto bid rejected",
				zap.String("bidder_id", auto.intent.BidderID.String()),
				zap.String("amount", auto.amount.String()),
				zap.Error(err))
			return
		}

		auto.intent.RecordAutoBid(b.Amount, now)
		l.persistIntent(auto.intent)
	}
	l.logger.Error("proxy chain exceeded safety limit")
}

func (l *Lane) setProxy(req *ProxyRequest) (*bid.ProxyIntent, error) {
	now := l.clock.Now()

	if l.quarantined {
		return nil, l.reject(domerrors.NewInternalError("lane quarantined"))
	}
	if !l.a.IsLive(now) {
		return nil, l.reject(domerrors.ErrAuctionNotLive)
	}
	if req.BidderID == l.a.SellerID {
		return nil, l.reject(domerrors.ErrSellerSelfBid)
	}
	if !req.MaxAmount.GreaterThan(l.a.CurrentPrice) {
		return nil, l.reject(domerrors.ErrInvalidAmount)
	}

	intent := l.proxy.get(req.BidderID)
	if intent != nil {
		intent.Raise(req.MaxAmount, now)
	} else {
		intent = bid.NewProxyIntent(l.a.ID, req.BidderID, req.MaxAmount, now)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	if err := l.proxies.Upsert(ctx, intent); err != nil {
		l.logger.Error("proxy intent upsert failed",
			zap.String("bidder_id", req.BidderID.String()),
			zap.Error(err))
		return nil, l.reject(domerrors.NewInternalError("proxy intent upsert failed").WithCause(err))
	}

	l.proxy.put(intent, req.Username)
	l.logger.Info("proxy intent set",
		zap.String("bidder_id", req.BidderID.String()),
		zap.String("max_amount", req.MaxAmount.String()))
	return intent, nil
}

func (l *Lane) cancelProxy(bidderID uuid.UUID) error {
	now := l.clock.Now()
	if !l.proxy.deactivate(bidderID, now) {
		return domerrors.NewNotFoundError("proxy intent")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	if err := l.proxies.Deactivate(ctx, l.a.ID, bidderID, now); err != nil {
		l.logger.Error("proxy intent deactivate failed",
			zap.String("bidder_id", bidderID.String()),
			zap.Error(err))
		return domerrors.NewInternalError("proxy intent deactivate failed").WithCause(err)
	}
	return nil
}

func (l *Lane) snapshot() *Snapshot {
	now := l.clock.Now()
	tel := l.telemetry(now)

	cur := l.a.CurrentPrice
	history := make([]broadcast.HistoryBid, 0, len(l.history))
	from := 0
	if len(l.history) > l.cfg.HistorySize {
		from = len(l.history) - l.cfg.HistorySize
	}
	for _, h := range l.history[from:] {
		history = append(history, broadcast.HistoryBid{
			BidID:          h.bid.ID,
			Amount:         h.bid.Amount.String(),
			BidderUsername: h.username,
			Kind:           string(h.bid.Kind),
			Winning:        l.winning != nil && h.bid.ID == l.winning.ID,
			Timestamp:      h.bid.CreatedAt,
		})
	}

	a := *l.a
	return &Snapshot{
		Auction:       a,
		SuggestedBid:  values.MustNewMoney(pricing.SuggestedNextBid(tel), cur.Currency()),
		NextIncrement: values.MustNewMoney(pricing.BidIncrement(tel), cur.Currency()),
		Predicted:     values.MustNewMoney(pricing.PredictedFinalPrice(tel), cur.Currency()),
		History:       history,
		LastSeq:       l.room.LastSeq(),
	}
}

func (l *Lane) promote() error {
	if l.a.Status != auction.StatusUpcoming {
		return nil
	}
	now := l.clock.Now()
	if err := l.a.Promote(now); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	if err := l.auctions.UpdateStatus(ctx, l.a.ID, auction.StatusLive, now); err != nil {
		// Revert so the next scheduler tick retries.
		l.a.Status = auction.StatusUpcoming
		return domerrors.NewInternalError("promotion persist failed").WithCause(err)
	}

	l.room.Publish(func(seq uint64) []byte {
		return broadcast.Marshal(broadcast.AuctionTransitionEvent{
			Type:      broadcast.EventAuctionTransition,
			AuctionID: l.a.ID,
			Status:    string(auction.StatusLive),
			Seq:       seq,
			Timestamp: now,
		})
	})
	l.metrics.Transitions.WithLabelValues(string(auction.StatusLive)).Inc()
	l.logger.Info("auction live")
	return nil
}

func (l *Lane) close() error {
	if l.a.Status != auction.StatusLive {
		return nil
	}
	now := l.clock.Now()

	var winnerID *uuid.UUID
	if l.winning != nil {
		w := l.winning.BidderID
		winnerID = &w
	}

	if err := l.a.Close(winnerID, now); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	if err := l.auctions.FinalizeClose(ctx, l.a.ID, winnerID, now); err != nil {
		// Revert; the scheduler picks the closure up next tick.
		l.a.Status = auction.StatusLive
		l.a.WinnerID = nil
		return domerrors.NewInternalError("close persist failed").WithCause(err)
	}

	if err := l.proxies.DeactivateAll(ctx, l.a.ID, now); err != nil {
		l.logger.Error("proxy intent sweep failed", zap.Error(err))
	}
	l.proxy.deactivateAll(now)

	ev := broadcast.AuctionEndedEvent{
		Type:      broadcast.EventAuctionEnded,
		AuctionID: l.a.ID,
		WinnerID:  winnerID,
		Timestamp: now,
	}
	if l.winning != nil {
		ev.WinnerUsername = l.winningUsername
		ev.FinalPrice = l.winning.Amount.String()
	}
	l.room.Publish(func(seq uint64) []byte {
		ev.Seq = seq
		return broadcast.Marshal(ev)
	})

	if winnerID != nil && l.notifier != nil {
		l.notifier.NotifyWon(l.a.ID, *winnerID, l.winning.Amount)
	}

	l.metrics.Transitions.WithLabelValues(string(auction.StatusClosed)).Inc()
	l.logger.Info("auction closed",
		zap.Int("total_bids", l.a.BidCount),
		zap.Bool("has_winner", winnerID != nil))
	return nil
}

func (l *Lane) cancelAuction(requesterID uuid.UUID) error {
	now := l.clock.Now()
	prev := l.a.Status
	if err := l.a.Cancel(requesterID, now); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	if err := l.auctions.UpdateStatus(ctx, l.a.ID, auction.StatusCancelled, now); err != nil {
		l.a.Status = prev
		return domerrors.NewInternalError("cancel persist failed").WithCause(err)
	}

	l.room.Publish(func(seq uint64) []byte {
		return broadcast.Marshal(broadcast.AuctionTransitionEvent{
			Type:      broadcast.EventAuctionTransition,
			AuctionID: l.a.ID,
			Status:    string(auction.StatusCancelled),
			Seq:       seq,
			Timestamp: now,
		})
	})
	l.metrics.Transitions.WithLabelValues(string(auction.StatusCancelled)).Inc()
	l.logger.Info("auction cancelled")
	return nil
}

// Terminal reports whether the lane's auction can never take another bid.
func (l *Lane) Terminal() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Lane) quarantine(cause error) {
	l.quarantined = true
	l.metrics.LaneQuarantines.Inc()
	l.logger.Error("lane quarantined, refusing further bids; operator intervention required",
		zap.Error(cause))
}

func (l *Lane) telemetry(now time.Time) pricing.Telemetry {
	pts := make([]pricing.BidPoint, 0, len(l.history))
	for _, h := range l.history {
		pts = append(pts, pricing.BidPoint{
			BidderID: h.bid.BidderID,
			Amount:   h.bid.Amount.Amount(),
			PlacedAt: h.bid.CreatedAt,
		})
	}
	return pricing.Telemetry{
		StartingPrice: l.a.StartingPrice.Amount(),
		CurrentPrice:  l.a.CurrentPrice.Amount(),
		BidCount:      l.a.BidCount,
		TimeRemaining: l.a.TimeRemaining(now),
		RecentBids:    pts,
		Now:           now,
	}
}

func (l *Lane) appendHistory(b *bid.Bid, username string) {
	l.history = append(l.history, historyEntry{bid: b, username: username})
	limit := l.cfg.HistorySize
	if limit < telemetryDepth {
		limit = telemetryDepth
	}
	if len(l.history) > limit {
		l.history = l.history[len(l.history)-limit:]
	}
}

func (l *Lane) usernameFor(bidderID uuid.UUID) string {
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].bid.BidderID == bidderID {
			return l.history[i].username
		}
	}
	return ""
}

func (l *Lane) persistIntent(intent *bid.ProxyIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.CommitTimeout)
	defer cancel()
	if err := l.proxies.Upsert(ctx, intent); err != nil {
		l.logger.Error("proxy intent progress persist failed",
			zap.String("bidder_id", intent.BidderID.String()),
			zap.Error(err))
	}
}
