package bid

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlot/realtime-auction-backend/internal/domain/values"
)

// ProxyIntent is a bidder's standing instruction authorising automatic bids
// up to MaxAmount. At most one active intent exists per (auction, bidder);
// repeated sets update in place.
type ProxyIntent struct {
	ID            uuid.UUID    `json:"id"`
	AuctionID     uuid.UUID    `json:"auction_id"`
	BidderID      uuid.UUID    `json:"bidder_id"`
	MaxAmount     values.Money `json:"max_amount"`
	CurrentAmount values.Money `json:"current_amount"`
	Active        bool         `json:"active"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// NewProxyIntent creates an active intent with nothing bid on its behalf yet.
func NewProxyIntent(auctionID, bidderID uuid.UUID, maxAmount values.Money, now time.Time) *ProxyIntent {
	return &ProxyIntent{
		ID:            uuid.New(),
		AuctionID:     auctionID,
		BidderID:      bidderID,
		MaxAmount:     maxAmount,
		CurrentAmount: values.Zero(maxAmount.Currency()),
		Active:        true,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}
}

// Raise updates the ceiling in place, keeping the original creation time for
// tie-breaking between intents.
func (p *ProxyIntent) Raise(maxAmount values.Money, now time.Time) {
	p.MaxAmount = maxAmount
	p.Active = true
	p.UpdatedAt = now.UTC()
}

// RecordAutoBid notes the highest amount actually bid on behalf of this intent.
func (p *ProxyIntent) RecordAutoBid(amount values.Money, now time.Time) {
	p.CurrentAmount = amount
	p.UpdatedAt = now.UTC()
}

// Deactivate retires the intent; it no longer participates in counter-bidding.
func (p *ProxyIntent) Deactivate(now time.Time) {
	p.Active = false
	p.UpdatedAt = now.UTC()
}

// CanCounter reports whether the intent could still top the given price.
func (p *ProxyIntent) CanCounter(price values.Money) bool {
	return p.Active && p.MaxAmount.GreaterThan(price)
}
