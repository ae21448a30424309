package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pulsearb/pulsearb/internal/domain"
)

type decisionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *decisionRepo) InsertDecision(ctx context.Context, d domain.Decision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO decisions (id, signal_id, asset_id, chain, rating, action, position_tier, reasons, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.SignalID, d.AssetID, d.Chain, d.Rating, d.Action, d.PositionTier,
		pq.Array(d.Reasons), d.DecidedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (r *decisionRepo) RecentDecisions(ctx context.Context, limit int) ([]domain.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, signal_id, asset_id, chain, rating, action, position_tier, reasons, decided_at
		FROM decisions
		ORDER BY decided_at DESC
		LIMIT $1`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent decisions: %w", err)
	}
	defer rows.Close()

	var decisions []domain.Decision
	for rows.Next() {
		var d domain.Decision
		var reasons pq.StringArray
		if err := rows.Scan(&d.ID, &d.SignalID, &d.AssetID, &d.Chain,
			&d.Rating, &d.Action, &d.PositionTier, &reasons, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Reasons = []string(reasons)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}
