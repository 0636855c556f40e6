package websocket

import (
	"github.com/google/uuid"
)

// Command types a client may send. Identity never travels in the payload;
// the gateway tags every command with the authenticated identity.
const (
	CmdJoinAuction  = "join_auction"
	CmdLeaveAuction = "leave_auction"
	CmdPlaceBid     = "place_bid"
	CmdSetProxy     = "set_proxy"
	CmdCancelProxy  = "cancel_proxy"
)

// Command is the inbound envelope. Amount fields travel as strings and are
// parsed into Money at the gateway boundary.
type Command struct {
	Type      string    `json:"type" validate:"required,oneof=join_auction leave_auction place_bid set_proxy cancel_proxy"`
	AuctionID uuid.UUID `json:"auctionId" validate:"required"`
	Amount    string    `json:"amount,omitempty" validate:"required_if=Type place_bid"`
	MaxAmount string    `json:"maxAmount,omitempty" validate:"required_if=Type set_proxy"`
}
