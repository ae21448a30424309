package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/pulsearb/pulsearb/internal/domain"
)

type sourceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

const sourceColumns = `
	source_type, source_id, status, quality_score,
	total_signals, wins, losses, avg_pnl, best_pnl, worst_pnl,
	consecutive_misses, cooldown_until, probation_deadline,
	first_seen_at, updated_at`

func (r *sourceRepo) GetSource(ctx context.Context, sourceType, sourceID string) (*domain.SourceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + sourceColumns + `
		FROM sources
		WHERE source_type = $1 AND source_id = $2`

	var rec domain.SourceRecord
	err := r.db.GetContext(ctx, &rec, query, sourceType, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get source %s:%s: %w", sourceType, sourceID, err)
	}
	return &rec, nil
}

func (r *sourceRepo) UpsertSource(ctx context.Context, rec domain.SourceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO sources (` + sourceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (source_type, source_id) DO UPDATE SET
			status = EXCLUDED.status,
			quality_score = EXCLUDED.quality_score,
			total_signals = EXCLUDED.total_signals,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			avg_pnl = EXCLUDED.avg_pnl,
			best_pnl = EXCLUDED.best_pnl,
			worst_pnl = EXCLUDED.worst_pnl,
			consecutive_misses = EXCLUDED.consecutive_misses,
			cooldown_until = EXCLUDED.cooldown_until,
			probation_deadline = EXCLUDED.probation_deadline,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		rec.SourceType, rec.SourceID, rec.Status, rec.QualityScore,
		rec.TotalSignals, rec.Wins, rec.Losses, rec.AvgPnl, rec.BestPnl, rec.WorstPnl,
		rec.ConsecutiveMisses, rec.CooldownUntil, rec.ProbationDeadline,
		rec.FirstSeenAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", rec.Key(), err)
	}
	return nil
}

func (r *sourceRepo) ListSources(ctx context.Context, statuses ...domain.SourceStatus) ([]domain.SourceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT` + sourceColumns + ` FROM sources`
	args := []interface{}{}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY source_type, source_id`

	var records []domain.SourceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return records, nil
}
