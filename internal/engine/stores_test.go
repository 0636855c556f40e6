package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openlot/realtime-auction-backend/internal/broadcast"
	"github.com/openlot/realtime-auction-backend/internal/domain/auction"
	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/domain/values"
	"github.com/openlot/realtime-auction-backend/internal/metrics"
)

// memStore is an in-memory stand-in for the postgres repositories. It
// enforces the same commit guard the auctions table does, so regression
// paths behave like production.
type memStore struct {
	mu       sync.Mutex
	auctions map[uuid.UUID]*auction.Auction
	bids     map[uuid.UUID][]RecentBid
	intents  map[uuid.UUID]map[uuid.UUID]*bid.ProxyIntent
	users    map[uuid.UUID]string

	failCommits bool
	commitCount int
}

func newMemStore() *memStore {
	return &memStore{
		auctions: make(map[uuid.UUID]*auction.Auction),
		bids:     make(map[uuid.UUID][]RecentBid),
		intents:  make(map[uuid.UUID]map[uuid.UUID]*bid.ProxyIntent),
		users:    make(map[uuid.UUID]string),
	}
}

func (s *memStore) putUser(id uuid.UUID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = username
}

func (s *memStore) putAuction(a *auction.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.auctions[a.ID] = &cp
}

func (s *memStore) auctionRow(id uuid.UUID) auction.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.auctions[id]
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, domerrors.NewNotFoundError("auction")
	}
	cp := *a
	return &cp, nil
}

func (s *memStore) ListNonTerminal(_ context.Context) ([]*auction.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auction.Auction
	for _, a := range s.auctions {
		if !a.Status.Terminal() {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListDuePromotions(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, a := range s.auctions {
		if a.DueForPromotion(now) {
			out = append(out, a.ID)
		}
	}
	return out, nil
}

func (s *memStore) ListDueClosures(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for _, a := range s.auctions {
		if a.DueForClose(now) {
			out = append(out, a.ID)
		}
	}
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id uuid.UUID, status auction.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domerrors.NewNotFoundError("auction")
	}
	a.Status = status
	a.UpdatedAt = now
	return nil
}

func (s *memStore) FinalizeClose(_ context.Context, id uuid.UUID, winnerID *uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return domerrors.NewNotFoundError("auction")
	}
	if a.Status != auction.StatusLive {
		return domerrors.NewConflictError("invalid_transition", "auction is not live")
	}
	a.Status = auction.StatusClosed
	a.WinnerID = winnerID
	a.UpdatedAt = now
	return nil
}

func (s *memStore) CommitBid(_ context.Context, b *bid.Bid, bidderUsername string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommits {
		return domerrors.NewInternalError("commit refused")
	}
	a, ok := s.auctions[b.AuctionID]
	if !ok {
		return domerrors.NewNotFoundError("auction")
	}
	if !b.Amount.GreaterThan(a.CurrentPrice) {
		return domerrors.NewConflictError("price_regression",
			"auction row rejected the price advance")
	}

	for _, rb := range s.bids[b.AuctionID] {
		rb.Bid.Winning = false
	}
	cp := *b
	s.bids[b.AuctionID] = append(s.bids[b.AuctionID], RecentBid{Bid: &cp, BidderUsername: bidderUsername})
	s.users[b.BidderID] = bidderUsername
	a.CurrentPrice = b.Amount
	a.BidCount++
	s.commitCount++
	return nil
}

func (s *memStore) ListRecent(_ context.Context, auctionID uuid.UUID, limit int) ([]RecentBid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.bids[auctionID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]RecentBid, 0, len(all))
	for _, rb := range all {
		cp := *rb.Bid
		out = append(out, RecentBid{Bid: &cp, BidderUsername: rb.BidderUsername})
	}
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, intent *bid.ProxyIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intents[intent.AuctionID] == nil {
		s.intents[intent.AuctionID] = make(map[uuid.UUID]*bid.ProxyIntent)
	}
	cp := *intent
	s.intents[intent.AuctionID][intent.BidderID] = &cp
	return nil
}

func (s *memStore) Deactivate(_ context.Context, auctionID, bidderID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in, ok := s.intents[auctionID][bidderID]; ok {
		in.Active = false
		in.UpdatedAt = now
	}
	return nil
}

func (s *memStore) DeactivateAll(_ context.Context, auctionID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range s.intents[auctionID] {
		in.Active = false
		in.UpdatedAt = now
	}
	return nil
}

func (s *memStore) ListActive(_ context.Context, auctionID uuid.UUID) ([]ActiveIntent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ActiveIntent
	for _, in := range s.intents[auctionID] {
		if in.Active {
			cp := *in
			out = append(out, ActiveIntent{Intent: &cp, Username: s.users[in.BidderID]})
		}
	}
	return out, nil
}

// recordingSubscriber captures every event published to a joined room.
type recordingSubscriber struct {
	id uuid.UUID

	mu     sync.Mutex
	events []map[string]interface{}
}

func newRecordingSubscriber() *recordingSubscriber {
	return &recordingSubscriber{id: uuid.New()}
}

func (r *recordingSubscriber) ConnectionID() uuid.UUID { return r.id }
func (r *recordingSubscriber) UserID() uuid.UUID       { return r.id }
func (r *recordingSubscriber) Username() string        { return "observer" }

func (r *recordingSubscriber) Deliver(payload []byte) bool {
	var ev map[string]interface{}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return true
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return true
}

func (r *recordingSubscriber) byType(eventType string) []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []map[string]interface{}
	for _, ev := range r.events {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	wins   []uuid.UUID
	amount values.Money
}

func (n *recordingNotifier) NotifyWon(auctionID, userID uuid.UUID, amount values.Money) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.wins = append(n.wins, userID)
	n.amount = amount
}

// harness wires a registry over in-memory stores with a mock clock.
type harness struct {
	store    *memStore
	fabric   *broadcast.Fabric
	registry *Registry
	clock    *auction.MockClock
	notifier *recordingNotifier
	observer *recordingSubscriber
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newMemStore()
	fabric := broadcast.NewFabric(zap.NewNop())
	clock := &auction.MockClock{CurrentTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}

	registry := NewRegistry(
		DefaultLaneConfig(),
		store, store, store, fabric, clock,
		zap.NewNop(), metrics.NewUnregistered(),
	)
	registry.SetWinnerNotifier(notifier)
	t.Cleanup(registry.Shutdown)

	return &harness{
		store:    store,
		fabric:   fabric,
		registry: registry,
		clock:    clock,
		notifier: notifier,
		observer: newRecordingSubscriber(),
	}
}

// liveAuction seeds a live auction at price 100.00 and joins the observer.
func (h *harness) liveAuction(t *testing.T, sellerID uuid.UUID) *auction.Auction {
	t.Helper()
	now := h.clock.Now()
	a, err := auction.New(sellerID, "vintage lens",
		values.MustNewMoneyFromString("100.00", values.USD),
		now.Add(-time.Hour), now.Add(2*time.Hour), now)
	require.NoError(t, err)
	h.store.putAuction(a)
	h.fabric.Room(a.ID).Join(h.observer)
	return a
}

func (h *harness) lane(t *testing.T, auctionID uuid.UUID) *Lane {
	t.Helper()
	lane, err := h.registry.Lane(context.Background(), auctionID)
	require.NoError(t, err)
	return lane
}

func money(s string) values.Money {
	return values.MustNewMoneyFromString(s, values.USD)
}
