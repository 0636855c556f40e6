package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlot/realtime-auction-backend/internal/domain/bid"
	"github.com/openlot/realtime-auction-backend/internal/engine"
)

// ProxyRepository persists proxy intents. One active intent per bidder per
// auction, enforced by a partial unique index.
type ProxyRepository struct {
	pool *pgxpool.Pool
}

// NewProxyRepository creates a repository over the pool.
func NewProxyRepository(pool *pgxpool.Pool) *ProxyRepository {
	return &ProxyRepository{pool: pool}
}

// Upsert inserts or refreshes the bidder's intent for the auction.
func (r *ProxyRepository) Upsert(ctx context.Context, intent *bid.ProxyIntent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO proxy_bids (id, auction_id, bidder_id, max_amount,
			current_amount, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (auction_id, bidder_id) DO UPDATE
		SET max_amount = EXCLUDED.max_amount,
		    current_amount = EXCLUDED.current_amount,
		    active = EXCLUDED.active,
		    updated_at = EXCLUDED.updated_at`,
		intent.ID, intent.AuctionID, intent.BidderID, intent.MaxAmount,
		intent.CurrentAmount, intent.Active, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting proxy intent: %w", err)
	}
	return nil
}

// Deactivate retires one bidder's intent.
func (r *ProxyRepository) Deactivate(ctx context.Context, auctionID, bidderID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE proxy_bids SET active = false, updated_at = $3
		WHERE auction_id = $1 AND bidder_id = $2 AND active`,
		auctionID, bidderID, now)
	if err != nil {
		return fmt.Errorf("deactivating proxy intent: %w", err)
	}
	return nil
}

// DeactivateAll retires every intent for a closing auction.
func (r *ProxyRepository) DeactivateAll(ctx context.Context, auctionID uuid.UUID, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE proxy_bids SET active = false, updated_at = $2
		WHERE auction_id = $1 AND active`,
		auctionID, now)
	if err != nil {
		return fmt.Errorf("deactivating proxy intents: %w", err)
	}
	return nil
}

// ListActive loads the active intents for lane restore, joined with the
// owner's username so restored counter-bids broadcast under the right name.
func (r *ProxyRepository) ListActive(ctx context.Context, auctionID uuid.UUID) ([]engine.ActiveIntent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.auction_id, p.bidder_id, p.max_amount, p.current_amount,
		       p.active, p.created_at, p.updated_at, u.username
		FROM proxy_bids p
		JOIN users u ON u.id = p.bidder_id
		WHERE p.auction_id = $1 AND p.active
		ORDER BY p.created_at`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("listing proxy intents: %w", err)
	}
	defer rows.Close()

	var out []engine.ActiveIntent
	for rows.Next() {
		var (
			in       bid.ProxyIntent
			username string
		)
		if err := rows.Scan(&in.ID, &in.AuctionID, &in.BidderID, &in.MaxAmount,
			&in.CurrentAmount, &in.Active, &in.CreatedAt, &in.UpdatedAt, &username); err != nil {
			return nil, fmt.Errorf("scanning proxy intent: %w", err)
		}
		out = append(out, engine.ActiveIntent{Intent: &in, Username: username})
	}
	return out, rows.Err()
}
