package broadcast

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types on the outbound channel. Sequence-numbered events flow through
// a Room; the rest are addressed to a single connection by the gateway.
const (
	EventNewBid             = "new_bid"
	EventAuctionState       = "auction_state"
	EventBidHistorySnapshot = "bid_history_snapshot"
	EventAuctionTransition  = "auction_transition"
	EventAuctionEnded       = "auction_ended"
	EventYouWon             = "you_won"
	EventBidRejected        = "bid_rejected"
	EventProxySet           = "proxy_set"
	EventProxyRejected      = "proxy_rejected"
	EventPeerJoined         = "peer_joined"
	EventPeerLeft           = "peer_left"
	EventError              = "error"
)

// NewBidEvent announces a committed bid to every subscriber of the auction.
type NewBidEvent struct {
	Type           string    `json:"type"`
	AuctionID      uuid.UUID `json:"auctionId"`
	BidID          uuid.UUID `json:"bidId"`
	Amount         string    `json:"amount"`
	BidderUsername string    `json:"bidderUsername"`
	Kind           string    `json:"kind"`
	Seq            uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	TotalBids      int       `json:"totalBids"`
}

// AuctionStateEvent is the fresh state sent on every join or resync.
type AuctionStateEvent struct {
	Type                 string     `json:"type"`
	AuctionID            uuid.UUID  `json:"auctionId"`
	SellerID             uuid.UUID  `json:"sellerId"`
	Title                string     `json:"title"`
	ImageURL             string     `json:"imageUrl,omitempty"`
	Status               string     `json:"status"`
	StartingPrice        string     `json:"startingPrice"`
	CurrentPrice         string     `json:"currentPrice"`
	BidCount             int        `json:"bidCount"`
	StartTime            time.Time  `json:"startTime"`
	EndTime              time.Time  `json:"endTime"`
	TimeRemainingSeconds int64      `json:"timeRemainingSeconds"`
	SuggestedBid         string     `json:"suggestedBid"`
	NextIncrement        string     `json:"nextIncrement"`
	PredictedFinalPrice  string     `json:"predictedFinalPrice"`
	WinnerID             *uuid.UUID `json:"winnerId,omitempty"`
	LastSeq              uint64     `json:"lastSeq"`
}

// HistoryBid is one entry of a bid_history_snapshot.
type HistoryBid struct {
	BidID          uuid.UUID `json:"bidId"`
	Amount         string    `json:"amount"`
	BidderUsername string    `json:"bidderUsername"`
	Kind           string    `json:"kind"`
	Winning        bool      `json:"winning"`
	Timestamp      time.Time `json:"timestamp"`
}

// BidHistorySnapshotEvent carries the latest bids, oldest first, plus the
// room sequence the snapshot is current as of.
type BidHistorySnapshotEvent struct {
	Type      string       `json:"type"`
	AuctionID uuid.UUID    `json:"auctionId"`
	Bids      []HistoryBid `json:"bids"`
	LastSeq   uint64       `json:"lastSeq"`
}

// AuctionTransitionEvent announces a lifecycle change.
type AuctionTransitionEvent struct {
	Type      string    `json:"type"`
	AuctionID uuid.UUID `json:"auctionId"`
	Status    string    `json:"status"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

// AuctionEndedEvent announces closure, with the winner when one exists.
type AuctionEndedEvent struct {
	Type           string     `json:"type"`
	AuctionID      uuid.UUID  `json:"auctionId"`
	WinnerID       *uuid.UUID `json:"winnerId,omitempty"`
	WinnerUsername string     `json:"winnerUsername,omitempty"`
	FinalPrice     string     `json:"finalPrice,omitempty"`
	Seq            uint64     `json:"seq"`
	Timestamp      time.Time  `json:"timestamp"`
}

// YouWonEvent is addressed to every active connection of the winner.
type YouWonEvent struct {
	Type      string    `json:"type"`
	AuctionID uuid.UUID `json:"auctionId"`
	Amount    string    `json:"amount"`
}

// BidRejectedEvent is the typed rejection for the originating command only.
type BidRejectedEvent struct {
	Type       string `json:"type"`
	Reason     string `json:"reason"`
	MinimumBid string `json:"minimumBid,omitempty"`
}

// ProxySetEvent confirms an accepted proxy intent.
type ProxySetEvent struct {
	Type      string    `json:"type"`
	AuctionID uuid.UUID `json:"auctionId"`
	MaxAmount string    `json:"maxAmount"`
}

// ProxyRejectedEvent is the typed rejection for set_proxy.
type ProxyRejectedEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PeerEvent announces a subscriber joining or leaving a room.
type PeerEvent struct {
	Type      string    `json:"type"`
	AuctionID uuid.UUID `json:"auctionId"`
	UserID    uuid.UUID `json:"userId"`
	Username  string    `json:"username"`
	Seq       uint64    `json:"seq"`
}

// ErrorEvent reports a protocol error without mutating state.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Marshal encodes an event for the wire. Event structs marshal without
// error by construction, so the fallback only guards future edits.
func Marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"error","message":"event encoding failed"}`)
	}
	return data
}
