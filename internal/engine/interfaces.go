package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/realtime-auction-backend/internal/domain/auction"
	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	"github.com/openlot/realtime-auction-backend/internal/domain/values"
)

// AuctionStore loads auction rows and persists lifecycle transitions. Price
// and bid-count updates happen inside BidStore.CommitBid, never here.
type AuctionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error)

	// ListNonTerminal returns every upcoming or live auction, for restart
	// recovery.
	ListNonTerminal(ctx context.Context) ([]*auction.Auction, error)

	// ListDuePromotions returns ids of upcoming auctions whose start time
	// has passed.
	ListDuePromotions(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ListDueClosures returns ids of live auctions whose end time has passed.
	ListDueClosures(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status auction.Status, now time.Time) error

	// FinalizeClose marks the auction closed and records the winner in one
	// statement. winnerID is nil when no bids existed.
	FinalizeClose(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, now time.Time) error
}

// RecentBid pairs a bid with the bidder's username snapshot.
type RecentBid struct {
	Bid            *bid.Bid
	BidderUsername string
}

// BidStore persists bids. CommitBid runs the single transaction of the lane
// commit: flip the previous winning flag, insert the new winning bid, and
// advance the auction row's price and count. The update guards on
// current_price < amount so a regression can never reach the table.
type BidStore interface {
	CommitBid(ctx context.Context, b *bid.Bid, bidderUsername string) error

	// ListRecent returns up to limit latest bids, oldest first.
	ListRecent(ctx context.Context, auctionID uuid.UUID, limit int) ([]RecentBid, error)
}

// ActiveIntent pairs a proxy intent with its owner's username, so restored
// intents can counter-bid under the right name.
type ActiveIntent struct {
	Intent   *bid.ProxyIntent
	Username string
}

// ProxyStore persists proxy intents; the in-memory book inside each lane is
// authoritative while the lane runs.
type ProxyStore interface {
	Upsert(ctx context.Context, intent *bid.ProxyIntent) error
	Deactivate(ctx context.Context, auctionID, bidderID uuid.UUID, now time.Time) error
	DeactivateAll(ctx context.Context, auctionID uuid.UUID, now time.Time) error
	ListActive(ctx context.Context, auctionID uuid.UUID) ([]ActiveIntent, error)
}

// WinnerNotifier reaches the winner's active connections with you_won. The
// session gateway implements it.
type WinnerNotifier interface {
	NotifyWon(auctionID, userID uuid.UUID, amount values.Money)
}
