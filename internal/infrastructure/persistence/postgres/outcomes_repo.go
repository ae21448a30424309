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

type outcomeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

const outcomeColumns = `
	signal_id, source_type, source_id, entry_price,
	exit_price, pnl_percent, is_winner, max_gain, max_drawdown, entered_at`

func (r *outcomeRepo) InsertOutcome(ctx context.Context, o domain.SignalOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO outcomes (` + outcomeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		o.SignalID, o.SourceType, o.SourceID, o.EntryPrice,
		o.ExitPrice, o.PnlPercent, o.IsWinner, o.MaxGain, o.MaxDrawdown, o.EnteredAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate outcome %s: %w", o.SignalID, err)
		}
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// PatchOutcome applies the exit exactly once: the WHERE clause refuses
// settled rows, so a second patch falls through to the error path.
func (r *outcomeRepo) PatchOutcome(ctx context.Context, signalID string, exit domain.ExitData) (*domain.SignalOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE outcomes
		SET exit_price = $2,
			pnl_percent = $3,
			is_winner = $4,
			max_gain = GREATEST(max_gain, $5),
			max_drawdown = LEAST(max_drawdown, $6)
		WHERE signal_id = $1 AND exit_price IS NULL
		RETURNING ` + outcomeColumns

	var out domain.SignalOutcome
	err := r.db.QueryRowxContext(ctx, query,
		signalID, exit.ExitPrice, exit.PnlPercent, exit.PnlPercent > 0,
		exit.MaxGain, exit.MaxDrawdown).StructScan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("outcome %s is unknown or already settled", signalID)
	}
	if err != nil {
		return nil, fmt.Errorf("patch outcome %s: %w", signalID, err)
	}
	return &out, nil
}

func (r *outcomeRepo) ListOutcomesBySource(ctx context.Context, sourceType, sourceID string) ([]domain.SignalOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + outcomeColumns + `
		FROM outcomes
		WHERE source_type = $1 AND source_id = $2
		ORDER BY entered_at ASC`

	var outcomes []domain.SignalOutcome
	if err := r.db.SelectContext(ctx, &outcomes, query, sourceType, sourceID); err != nil {
		return nil, fmt.Errorf("list outcomes for %s:%s: %w", sourceType, sourceID, err)
	}
	return outcomes, nil
}
