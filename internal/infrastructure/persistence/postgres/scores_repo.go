package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsearb/pulsearb/internal/domain"
)

type scoreRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *scoreRepo) InsertScore(ctx context.Context, rec domain.ScoreRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO scores (
			id, signal_id, asset_id,
			narrative, influence, diffusion, graph, timing,
			manipulation_penalty, low_confidence_multiplier,
			final_score, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.SignalID, rec.AssetID,
		rec.Subscores.Narrative, rec.Subscores.Influence, rec.Subscores.Diffusion,
		rec.Subscores.Graph, rec.Subscores.Timing,
		rec.Adjustments.ManipulationPenalty, rec.Adjustments.LowConfidenceMultiplier,
		rec.FinalScore, rec.ScoredAt)
	if err != nil {
		return fmt.Errorf("insert score: %w", err)
	}
	return nil
}
