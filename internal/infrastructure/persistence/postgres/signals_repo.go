package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pulsearb/pulsearb/internal/domain"
)

type signalRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func (r *signalRepo) InsertSignal(ctx context.Context, s domain.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO signals (id, asset_id, chain, source_type, source_id, channel_tier, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.AssetID, s.Chain, s.SourceType, s.SourceID, s.ChannelTier, s.ObservedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate signal %s: %w", s.ID, err)
		}
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}
