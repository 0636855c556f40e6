package bid

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlot/realtime-auction-backend/internal/domain/values"
)

// Kind distinguishes how a bid was produced. The distinction between proxy
// and automatic is informational: proxy bids react to a specific manual bid,
// automatic bids come from evaluating intents at set-intent time.
type Kind string

const (
	KindManual    Kind = "manual"
	KindProxy     Kind = "proxy"
	KindAutomatic Kind = "automatic"
)

// Bid is one committed price step on an auction. At most one bid per auction
// carries Winning=true at any instant.
type Bid struct {
	ID        uuid.UUID    `json:"id"`
	AuctionID uuid.UUID    `json:"auction_id"`
	BidderID  uuid.UUID    `json:"bidder_id"`
	Amount    values.Money `json:"amount"`
	Kind      Kind         `json:"kind"`
	Winning   bool         `json:"winning"`
	CreatedAt time.Time    `json:"created_at"`
}

// New creates a bid stamped with the commit clock.
func New(auctionID, bidderID uuid.UUID, amount values.Money, kind Kind, now time.Time) *Bid {
	return &Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		Kind:      kind,
		Winning:   true,
		CreatedAt: now.UTC(),
	}
}
