// Package repository implements the engine's storage interfaces on postgres.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlot/realtime-auction-backend/internal/domain/auction"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
)

const auctionColumns = `id, seller_id, category_id, title, description, image_url,
	starting_price, current_price, reserve_price, start_time, end_time,
	status, bid_count, winner_id, created_at, updated_at`

// AuctionRepository persists auctions.
type AuctionRepository struct {
	pool *pgxpool.Pool
}

// NewAuctionRepository creates a repository over the pool.
func NewAuctionRepository(pool *pgxpool.Pool) *AuctionRepository {
	return &AuctionRepository{pool: pool}
}

// Create inserts a new auction row.
func (r *AuctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO auctions (id, seller_id, category_id, title, description,
			image_url, starting_price, current_price, reserve_price,
			start_time, end_time, status, bid_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.SellerID, a.CategoryID, a.Title, a.Description, a.ImageURL,
		a.StartingPrice, a.CurrentPrice, a.ReservePrice,
		a.StartTime, a.EndTime, a.Status, a.BidCount, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting auction: %w", err)
	}
	return nil
}

// GetByID loads one auction.
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domerrors.NewNotFoundError("auction")
		}
		return nil, fmt.Errorf("loading auction: %w", err)
	}
	return a, nil
}

// ListNonTerminal returns every upcoming or live auction for restart
// recovery.
func (r *AuctionRepository) ListNonTerminal(ctx context.Context) ([]*auction.Auction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE status IN ('upcoming', 'live')
		 ORDER BY end_time`)
	if err != nil {
		return nil, fmt.Errorf("listing open auctions: %w", err)
	}
	defer rows.Close()

	var out []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListDuePromotions returns upcoming auctions whose start time has passed.
func (r *AuctionRepository) ListDuePromotions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.listDue(ctx,
		`SELECT id FROM auctions WHERE status = 'upcoming' AND start_time <= $1`, now)
}

// ListDueClosures returns live auctions whose end time has passed.
func (r *AuctionRepository) ListDueClosures(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.listDue(ctx,
		`SELECT id FROM auctions WHERE status = 'live' AND end_time <= $1`, now)
}

func (r *AuctionRepository) listDue(ctx context.Context, query string, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("listing due auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateStatus persists a lifecycle transition.
func (r *AuctionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status auction.Status, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE auctions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, now)
	if err != nil {
		return fmt.Errorf("updating auction status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domerrors.NewNotFoundError("auction")
	}
	return nil
}

// FinalizeClose marks the auction closed and records the winner in one
// statement.
func (r *AuctionRepository) FinalizeClose(ctx context.Context, id uuid.UUID, winnerID *uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE auctions SET status = 'closed', winner_id = $2, updated_at = $3
		 WHERE id = $1 AND status = 'live'`,
		id, winnerID, now)
	if err != nil {
		return fmt.Errorf("closing auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domerrors.NewConflictError("invalid_transition", "auction is not live")
	}
	return nil
}

func scanAuction(row pgx.Row) (*auction.Auction, error) {
	var a auction.Auction
	err := row.Scan(
		&a.ID, &a.SellerID, &a.CategoryID, &a.Title, &a.Description,
		&a.ImageURL, &a.StartingPrice, &a.CurrentPrice, &a.ReservePrice,
		&a.StartTime, &a.EndTime, &a.Status, &a.BidCount, &a.WinnerID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
