package engine

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	"github.com/openlot/realtime-auction-backend/internal/domain/values"
	"github.com/openlot/realtime-auction-backend/internal/pricing"
)

// autoBid is the proxy engine's instruction to the lane: commit this amount
// on behalf of the intent's owner.
type autoBid struct {
	intent   *bid.ProxyIntent
	username string
	amount   values.Money
}

// proxyBook holds the active intents for one auction. It lives inside the
// lane, so every access is already serialized; no locking here.
type proxyBook struct {
	intents   map[uuid.UUID]*bid.ProxyIntent // by bidder
	usernames map[uuid.UUID]string
}

func newProxyBook() *proxyBook {
	return &proxyBook{
		intents:   make(map[uuid.UUID]*bid.ProxyIntent),
		usernames: make(map[uuid.UUID]string),
	}
}

func (pb *proxyBook) get(bidderID uuid.UUID) *bid.ProxyIntent {
	return pb.intents[bidderID]
}

func (pb *proxyBook) put(intent *bid.ProxyIntent, username string) {
	pb.intents[intent.BidderID] = intent
	pb.usernames[intent.BidderID] = username
}

// onPriceChange computes the next automatic counter-bid after price moved to
// newPrice, or nil when no intent can or should react. The bidder holding
// the current price is excluded; an intent never outbids its own lead.
//
// The ranked intent with the highest max wins the right to counter; when a
// rival intent also qualifies the counter jumps past the rival's ceiling
// ("bid the minimum you must" against the strongest opposition), capped at
// the winner's own max.
func (pb *proxyBook) onPriceChange(newPrice values.Money, leader uuid.UUID, tel pricing.Telemetry) *autoBid {
	eligible := make([]*bid.ProxyIntent, 0, len(pb.intents))
	for _, in := range pb.intents {
		if in.BidderID == leader {
			continue
		}
		if in.CanCounter(newPrice) {
			eligible = append(eligible, in)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	// Highest max first; ties broken by earliest creation.
	sort.Slice(eligible, func(i, j int) bool {
		c := eligible[i].MaxAmount.Compare(eligible[j].MaxAmount)
		if c != 0 {
			return c > 0
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	top := eligible[0]
	increment := pricing.ProxyIncrement(tel)
	floor := newPrice.AddAmount(increment)

	// The counter must beat the strongest rival ceiling, not just the
	// current price. The leader's own intent counts as a rival here: it is
	// the ceiling the counter-bidder has to climb toward.
	var rival *bid.ProxyIntent
	for _, in := range pb.intents {
		if !in.Active || in.BidderID == top.BidderID {
			continue
		}
		if rival == nil || in.MaxAmount.GreaterThan(rival.MaxAmount) {
			rival = in
		}
	}

	var counter values.Money
	if rival == nil {
		counter = floor
	} else {
		counter = rival.MaxAmount.AddAmount(increment)
		if counter.GreaterThan(top.MaxAmount) {
			counter = top.MaxAmount
		}
		if counter.LessThan(floor) {
			counter = floor
		}
	}

	if counter.GreaterThan(top.MaxAmount) {
		return nil
	}

	return &autoBid{
		intent:   top,
		username: pb.usernames[top.BidderID],
		amount:   counter,
	}
}

// deactivate retires one bidder's intent; reports whether one was active.
func (pb *proxyBook) deactivate(bidderID uuid.UUID, now time.Time) bool {
	in, ok := pb.intents[bidderID]
	if !ok || !in.Active {
		return false
	}
	in.Deactivate(now)
	return true
}

// deactivateAll retires every intent, as happens when the auction closes.
func (pb *proxyBook) deactivateAll(now time.Time) {
	for _, in := range pb.intents {
		if in.Active {
			in.Deactivate(now)
		}
	}
}
