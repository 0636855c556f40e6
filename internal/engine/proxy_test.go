package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/pricing"
)

func coldTelemetry(currentPrice string) pricing.Telemetry {
	return pricing.Telemetry{
		StartingPrice: money("100.00").Amount(),
		CurrentPrice:  money(currentPrice).Amount(),
		TimeRemaining: 2 * time.Hour,
		Now:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func intentAt(bidderID uuid.UUID, max string, createdAt time.Time) *bid.ProxyIntent {
	in := bid.NewProxyIntent(uuid.New(), bidderID, money(max), createdAt)
	return in
}

func TestProxyBookSingleIntentStepsUp(t *testing.T) {
	book := newProxyBook()
	alice := uuid.New()
	book.put(intentAt(alice, "200.00", time.Now()), "alice")

	// Proxy increment is 4 at price 100; a lone intent leads by one step.
	auto := book.onPriceChange(money("100.00"), uuid.Nil, coldTelemetry("100.00"))
	require.NotNil(t, auto)
	assert.Equal(t, alice, auto.intent.BidderID)
	assert.Equal(t, "104.00", auto.amount.String())
	assert.Equal(t, "alice", auto.username)
}

func TestProxyBookCounterClearsRivalCeiling(t *testing.T) {
	book := newProxyBook()
	alice, bob, mallory := uuid.New(), uuid.New(), uuid.New()
	t0 := time.Now()
	book.put(intentAt(alice, "200.00", t0), "alice")
	book.put(intentAt(bob, "150.00", t0.Add(time.Second)), "bob")

	// Mallory's manual bid moved price to 100; the strongest intent counters
	// just past the rival's ceiling.
	auto := book.onPriceChange(money("100.00"), mallory, coldTelemetry("100.00"))
	require.NotNil(t, auto)
	assert.Equal(t, alice, auto.intent.BidderID)
	assert.Equal(t, "154.00", auto.amount.String())
}

func TestProxyBookTieGoesToEarlierIntent(t *testing.T) {
	book := newProxyBook()
	alice, bob := uuid.New(), uuid.New()
	t0 := time.Now()
	book.put(intentAt(alice, "150.00", t0), "alice")
	book.put(intentAt(bob, "150.00", t0.Add(time.Second)), "bob")

	auto := book.onPriceChange(money("100.00"), uuid.New(), coldTelemetry("100.00"))
	require.NotNil(t, auto)
	assert.Equal(t, alice, auto.intent.BidderID)
	// Capped at the winner's own ceiling.
	assert.Equal(t, "150.00", auto.amount.String())
}

func TestProxyBookNeverExceedsCeiling(t *testing.T) {
	book := newProxyBook()
	book.put(intentAt(uuid.New(), "103.00", time.Now()), "alice")

	// One step past 100 is 104, above the 103 ceiling.
	auto := book.onPriceChange(money("100.00"), uuid.Nil, coldTelemetry("100.00"))
	assert.Nil(t, auto)
}

func TestProxyBookLeaderDoesNotOutbidItself(t *testing.T) {
	book := newProxyBook()
	alice := uuid.New()
	book.put(intentAt(alice, "200.00", time.Now()), "alice")

	auto := book.onPriceChange(money("104.00"), alice, coldTelemetry("104.00"))
	assert.Nil(t, auto)
}

func TestProxyBookIgnoresInactiveIntents(t *testing.T) {
	book := newProxyBook()
	alice := uuid.New()
	book.put(intentAt(alice, "200.00", time.Now()), "alice")
	book.deactivate(alice, time.Now())

	auto := book.onPriceChange(money("100.00"), uuid.Nil, coldTelemetry("100.00"))
	assert.Nil(t, auto)
}

func TestLaneSetProxyAutoLeads(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)
	alice := uuid.New()

	intent, err := lane.SetProxy(context.Background(), ProxyRequest{
		BidderID: alice, Username: "alice", MaxAmount: money("200.00"),
	})
	require.NoError(t, err)
	assert.True(t, intent.Active)

	// A fresh intent with no competition leads by a single proxy step.
	row := h.store.auctionRow(a.ID)
	assert.Equal(t, "104.00", row.CurrentPrice.String())
	assert.Equal(t, 1, row.BidCount)

	events := h.observer.byType("new_bid")
	require.Len(t, events, 1)
	assert.Equal(t, "automatic", events[0]["kind"])
	assert.Equal(t, "alice", events[0]["bidderUsername"])
}

func TestLaneManualBidTriggersProxyCounter(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := lane.SetProxy(ctx, ProxyRequest{BidderID: alice, Username: "alice", MaxAmount: money("200.00")})
	require.NoError(t, err)

	// Bob outbids Alice's auto-lead; her intent counters before any queued
	// bid can interleave.
	_, err = lane.PlaceBid(ctx, BidRequest{BidderID: bob, Username: "bob", Amount: money("110.00")})
	require.NoError(t, err)

	row := h.store.auctionRow(a.ID)
	assert.Equal(t, "115.00", row.CurrentPrice.String())
	assert.Equal(t, 3, row.BidCount)

	events := h.observer.byType("new_bid")
	require.Len(t, events, 3)
	assert.Equal(t, "104.00", events[0]["amount"])
	assert.Equal(t, "110.00", events[1]["amount"])
	assert.Equal(t, "115.00", events[2]["amount"])
	assert.Equal(t, "proxy", events[2]["kind"])
	assert.Equal(t, "alice", events[2]["bidderUsername"])
}

func TestLaneProxyBattle(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := lane.SetProxy(ctx, ProxyRequest{BidderID: alice, Username: "alice", MaxAmount: money("200.00")})
	require.NoError(t, err)

	_, err = lane.SetProxy(ctx, ProxyRequest{BidderID: bob, Username: "bob", MaxAmount: money("150.00")})
	require.NoError(t, err)

	// Bob's intent drives the price to his ceiling, Alice's tops it, and the
	// battle settles at min(rival.max + increment, winner.max).
	row := h.store.auctionRow(a.ID)
	assert.Equal(t, "155.00", row.CurrentPrice.String())
	assert.Equal(t, 3, row.BidCount)

	events := h.observer.byType("new_bid")
	require.Len(t, events, 3)
	assert.Equal(t, "104.00", events[0]["amount"])
	assert.Equal(t, "150.00", events[1]["amount"])
	assert.Equal(t, "bob", events[1]["bidderUsername"])
	assert.Equal(t, "155.00", events[2]["amount"])
	assert.Equal(t, "alice", events[2]["bidderUsername"])

	snap, err := lane.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.History[len(snap.History)-1].BidderUsername)
	assert.True(t, snap.History[len(snap.History)-1].Winning)
}

func TestLaneCancelProxyStopsCountering(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := lane.SetProxy(ctx, ProxyRequest{BidderID: alice, Username: "alice", MaxAmount: money("200.00")})
	require.NoError(t, err)
	require.NoError(t, lane.CancelProxy(ctx, alice))

	_, err = lane.PlaceBid(ctx, BidRequest{BidderID: bob, Username: "bob", Amount: money("110.00")})
	require.NoError(t, err)

	// No counter came: the intent is retired.
	row := h.store.auctionRow(a.ID)
	assert.Equal(t, "110.00", row.CurrentPrice.String())
	assert.Equal(t, 2, row.BidCount)
}

func TestLaneCancelProxyWithoutIntent(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)

	err := lane.CancelProxy(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, domerrors.CodeNotFound, domerrors.CodeOf(err))
}

func TestLaneSetProxyValidation(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	a := h.liveAuction(t, seller)
	lane := h.lane(t, a.ID)
	ctx := context.Background()

	_, err := lane.SetProxy(ctx, ProxyRequest{BidderID: seller, Username: "seller", MaxAmount: money("200.00")})
	require.Error(t, err)
	assert.Equal(t, domerrors.CodeSellerSelfBid, domerrors.CodeOf(err))

	// The ceiling must exceed the current price.
	_, err = lane.SetProxy(ctx, ProxyRequest{BidderID: uuid.New(), Username: "alice", MaxAmount: money("100.00")})
	require.Error(t, err)
	assert.Equal(t, domerrors.CodeInvalidAmount, domerrors.CodeOf(err))
}

func TestLaneRaiseProxyKeepsTieBreak(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	_, err := lane.SetProxy(ctx, ProxyRequest{BidderID: alice, Username: "alice", MaxAmount: money("150.00")})
	require.NoError(t, err)

	// Raising her own ceiling places no bid: she already leads.
	intent, err := lane.SetProxy(ctx, ProxyRequest{BidderID: alice, Username: "alice", MaxAmount: money("300.00")})
	require.NoError(t, err)
	assert.Equal(t, "300.00", intent.MaxAmount.String())
	assert.Equal(t, 1, h.store.auctionRow(a.ID).BidCount)

	// The raised ceiling backs her counter when Bob outbids.
	_, err = lane.PlaceBid(ctx, BidRequest{BidderID: bob, Username: "bob", Amount: money("110.00")})
	require.NoError(t, err)
	assert.Equal(t, "115.00", h.store.auctionRow(a.ID).CurrentPrice.String())
}

func TestLaneRestoreKeepsProxyUsernames(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	alice, bob := uuid.New(), uuid.New()
	ctx := context.Background()

	// The intent predates the lane and alice holds no committed bid, so her
	// username can only come from the stored intent.
	intent := bid.NewProxyIntent(a.ID, alice, money("200.00"), h.clock.Now())
	require.NoError(t, h.store.Upsert(ctx, intent))
	h.store.putUser(alice, "alice")

	lane := h.lane(t, a.ID)
	_, err := lane.PlaceBid(ctx, BidRequest{BidderID: bob, Username: "bob", Amount: money("110.00")})
	require.NoError(t, err)

	events := h.observer.byType("new_bid")
	require.Len(t, events, 2)
	assert.Equal(t, "bob", events[0]["bidderUsername"])
	assert.Equal(t, "alice", events[1]["bidderUsername"])
}

func TestLaneCloseDeactivatesIntents(t *testing.T) {
	h := newHarness(t)
	a := h.liveAuction(t, uuid.New())
	lane := h.lane(t, a.ID)
	alice := uuid.New()
	ctx := context.Background()

	_, err := lane.SetProxy(ctx, ProxyRequest{BidderID: alice, Username: "alice", MaxAmount: money("200.00")})
	require.NoError(t, err)
	require.NoError(t, lane.Close(ctx))

	stored, err := h.store.ListActive(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
