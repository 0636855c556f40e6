package auction

import (
	"time"

	"github.com/google/uuid"

	"github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/domain/values"
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusLive      Status = "live"
	StatusClosed    Status = "closed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further bidding is possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// Auction is the aggregate the bid serializer owns. All mutations to price,
// bid count, and winner flow through the auction's single lane.
type Auction struct {
	ID            uuid.UUID    `json:"id"`
	SellerID      uuid.UUID    `json:"seller_id"`
	CategoryID    *uuid.UUID   `json:"category_id,omitempty"`
	Title         string       `json:"title"`
	Description   string       `json:"description,omitempty"`
	ImageURL      string       `json:"image_url,omitempty"`
	StartingPrice values.Money `json:"starting_price"`
	CurrentPrice  values.Money `json:"current_price"`
	ReservePrice  *values.Money `json:"reserve_price,omitempty"`
	StartTime     time.Time    `json:"start_time"`
	EndTime       time.Time    `json:"end_time"`
	Status        Status       `json:"status"`
	BidCount      int          `json:"bid_count"`
	WinnerID      *uuid.UUID   `json:"winner_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// New creates an auction owned by sellerID. Status is derived from the start
// time against now: already-started auctions open live.
func New(sellerID uuid.UUID, title string, startingPrice values.Money, startTime, endTime, now time.Time) (*Auction, error) {
	if sellerID == uuid.Nil {
		return nil, errors.NewValidationError("invalid_seller", "seller id is required")
	}
	if title == "" {
		return nil, errors.NewValidationError("invalid_title", "title is required")
	}
	if !startingPrice.IsPositive() {
		return nil, errors.ErrInvalidAmount
	}
	if !endTime.After(startTime) {
		return nil, errors.NewValidationError("invalid_window", "end time must be after start time")
	}

	status := StatusUpcoming
	if !startTime.After(now) {
		status = StatusLive
	}

	return &Auction{
		ID:            uuid.New(),
		SellerID:      sellerID,
		Title:         title,
		StartingPrice: startingPrice,
		CurrentPrice:  startingPrice,
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		Status:        status,
		CreatedAt:     now.UTC(),
		UpdatedAt:     now.UTC(),
	}, nil
}

// IsLive reports whether bids may commit against the auction at instant now.
func (a *Auction) IsLive(now time.Time) bool {
	return a.Status == StatusLive && !now.Before(a.StartTime) && now.Before(a.EndTime)
}

// DueForPromotion reports whether the scheduler should flip upcoming to live.
func (a *Auction) DueForPromotion(now time.Time) bool {
	return a.Status == StatusUpcoming && !a.StartTime.After(now)
}

// DueForClose reports whether the scheduler should close the auction.
func (a *Auction) DueForClose(now time.Time) bool {
	return a.Status == StatusLive && !a.EndTime.After(now)
}

// Promote transitions upcoming to live.
func (a *Auction) Promote(now time.Time) error {
	if a.Status != StatusUpcoming {
		return errors.NewConflictError("invalid_transition", "only upcoming auctions can go live")
	}
	a.Status = StatusLive
	a.UpdatedAt = now.UTC()
	return nil
}

// Close transitions live to closed, recording the winner. winnerID is nil
// when the auction ends without bids.
func (a *Auction) Close(winnerID *uuid.UUID, now time.Time) error {
	if a.Status != StatusLive {
		return errors.NewConflictError("invalid_transition", "only live auctions can close")
	}
	a.Status = StatusClosed
	a.WinnerID = winnerID
	a.UpdatedAt = now.UTC()
	return nil
}

// Cancel withdraws an auction before any bid exists. Only the owner may
// cancel, and only while the bid count is zero.
func (a *Auction) Cancel(requesterID uuid.UUID, now time.Time) error {
	if requesterID != a.SellerID {
		return errors.NewForbiddenError("only the seller can cancel an auction")
	}
	if a.Status.Terminal() {
		return errors.NewConflictError("invalid_transition", "auction has already ended")
	}
	if a.BidCount > 0 {
		return errors.NewConflictError("has_bids", "auctions with bids cannot be cancelled")
	}
	a.Status = StatusCancelled
	a.UpdatedAt = now.UTC()
	return nil
}

// ApplyBid advances price and count after a bid commit. The lane is the only
// caller; price must strictly increase.
func (a *Auction) ApplyBid(amount values.Money, now time.Time) error {
	if !amount.GreaterThan(a.CurrentPrice) {
		return errors.NewInternalError("price would not increase")
	}
	a.CurrentPrice = amount
	a.BidCount++
	a.UpdatedAt = now.UTC()
	return nil
}

// TimeRemaining returns how long until the auction ends, floored at zero.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	d := a.EndTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
