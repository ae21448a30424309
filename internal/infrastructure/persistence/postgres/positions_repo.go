package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsearb/pulsearb/internal/domain"
)

type positionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *positionRepo) InsertPosition(ctx context.Context, p domain.PositionLedgerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO positions (id, chain, asset_id, category, size_native, opened_at, closed_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Chain, p.AssetID, p.Category, p.SizeNative, p.OpenedAt, p.ClosedAt, p.Status)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}
	return nil
}

func (r *positionRepo) DeletePosition(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete position %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s not found", id)
	}
	return nil
}

func (r *positionRepo) ClosePosition(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE positions
		SET status = $2, closed_at = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, id, domain.PositionClosed, at, domain.PositionOpen)
	if err != nil {
		return fmt.Errorf("close position %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s is unknown or already closed", id)
	}
	return nil
}

func (r *positionRepo) OpenPositionCount(ctx context.Context, chain string) (int, error) {
	return r.countWhere(ctx, `chain = $1 AND status = $2`, chain, domain.PositionOpen)
}

func (r *positionRepo) OpenCategoryCount(ctx context.Context, category string) (int, error) {
	return r.countWhere(ctx, `category = $1 AND status = $2`, category, domain.PositionOpen)
}

func (r *positionRepo) OpenSizeSum(ctx context.Context, chain string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COALESCE(SUM(size_native), 0)
		FROM positions
		WHERE chain = $1 AND status = $2`

	var sum float64
	if err := r.db.QueryRowxContext(ctx, query, chain, domain.PositionOpen).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum open positions for %s: %w", chain, err)
	}
	return sum, nil
}

func (r *positionRepo) OpenedSince(ctx context.Context, since time.Time) (int, error) {
	return r.countWhere(ctx, `opened_at >= $1`, since)
}

func (r *positionRepo) LastOpenedAt(ctx context.Context, chain, assetID string) (*time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT opened_at
		FROM positions
		WHERE chain = $1 AND asset_id = $2
		ORDER BY opened_at DESC
		LIMIT 1`

	var at time.Time
	err := r.db.QueryRowxContext(ctx, query, chain, assetID).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last opened at for %s/%s: %w", chain, assetID, err)
	}
	return &at, nil
}

func (r *positionRepo) countWhere(ctx context.Context, where string, args ...interface{}) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	query := `SELECT COUNT(*) FROM positions WHERE ` + where
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return count, nil
}
