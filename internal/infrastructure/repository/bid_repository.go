package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/engine"
)

// BidRepository persists bids and the username history snapshots that back
// joining subscribers' history view.
type BidRepository struct {
	pool *pgxpool.Pool
}

// NewBidRepository creates a repository over the pool.
func NewBidRepository(pool *pgxpool.Pool) *BidRepository {
	return &BidRepository{pool: pool}
}

// CommitBid runs the lane's commit transaction: retire the previous winning
// bid, insert the new one, advance the auction row, and record the history
// snapshot. The auction update guards on current_price < amount, so a price
// regression can never reach the table regardless of what the caller
// computed.
func (r *BidRepository) CommitBid(ctx context.Context, b *bid.Bid, bidderUsername string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE bids SET winning = false WHERE auction_id = $1 AND winning = true`,
		b.AuctionID); err != nil {
		return fmt.Errorf("retiring previous winner: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, kind, winning, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)`,
		b.ID, b.AuctionID, b.BidderID, b.Amount, b.Kind, b.CreatedAt); err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE auctions
		SET current_price = $2, bid_count = bid_count + 1, updated_at = $3
		WHERE id = $1 AND status = 'live' AND current_price < $2`,
		b.AuctionID, b.Amount, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("advancing auction price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domerrors.NewConflictError("price_regression",
			"auction row rejected the price advance")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO bidding_history (bid_id, auction_id, bidder_username, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.AuctionID, bidderUsername, b.Amount, b.CreatedAt); err != nil {
		return fmt.Errorf("recording history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing bid: %w", err)
	}
	return nil
}

// ListRecent returns up to limit latest bids for the auction, oldest first.
func (r *BidRepository) ListRecent(ctx context.Context, auctionID uuid.UUID, limit int) ([]engine.RecentBid, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.auction_id, b.bidder_id, b.amount, b.kind, b.winning,
		       b.created_at, h.bidder_username
		FROM bids b
		JOIN bidding_history h ON h.bid_id = b.id
		WHERE b.auction_id = $1
		ORDER BY b.created_at DESC
		LIMIT $2`, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent bids: %w", err)
	}
	defer rows.Close()

	var out []engine.RecentBid
	for rows.Next() {
		var (
			b        bid.Bid
			username string
		)
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount,
			&b.Kind, &b.Winning, &b.CreatedAt, &username); err != nil {
			return nil, fmt.Errorf("scanning bid: %w", err)
		}
		out = append(out, engine.RecentBid{Bid: &b, BidderUsername: username})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; the engine wants oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
