// Package persistence defines the storage interfaces for the decision
// core. Signals, scores and decisions are append-only; sources, outcomes
// and positions are mutable tables with narrow mutation surfaces.
package persistence

import (
	"context"
	"time"

	"github.com/pulsearb/pulsearb/internal/domain"
)

// SignalStore is the append-only signal log.
type SignalStore interface {
	InsertSignal(ctx context.Context, s domain.Signal) error
}

// ScoreStore is the append-only score log. Records are never mutated.
type ScoreStore interface {
	InsertScore(ctx context.Context, rec domain.ScoreRecord) error
}

// DecisionStore is the append-only decision log.
type DecisionStore interface {
	InsertDecision(ctx context.Context, d domain.Decision) error
	RecentDecisions(ctx context.Context, limit int) ([]domain.Decision, error)
}

// SourceStore is the mutable source table keyed by (sourceType, sourceID).
type SourceStore interface {
	// GetSource returns nil without error when the source is unknown.
	GetSource(ctx context.Context, sourceType, sourceID string) (*domain.SourceRecord, error)
	UpsertSource(ctx context.Context, rec domain.SourceRecord) error
	// ListSources returns records in the given statuses; no statuses means all.
	ListSources(ctx context.Context, statuses ...domain.SourceStatus) ([]domain.SourceRecord, error)
}

// OutcomeStore tracks per-signal realized results. Exit fields are patched
// exactly once.
type OutcomeStore interface {
	InsertOutcome(ctx context.Context, o domain.SignalOutcome) error
	// PatchOutcome applies exit data once; patching a settled or unknown
	// outcome is an error.
	PatchOutcome(ctx context.Context, signalID string, exit domain.ExitData) (*domain.SignalOutcome, error)
	ListOutcomesBySource(ctx context.Context, sourceType, sourceID string) ([]domain.SignalOutcome, error)
}

// PositionStore is the position ledger, keyed by id, indexed by
// (chain, status).
type PositionStore interface {
	InsertPosition(ctx context.Context, p domain.PositionLedgerEntry) error
	// DeletePosition removes an entry whose order never reached the venue.
	DeletePosition(ctx context.Context, id string) error
	// ClosePosition is invoked only on behalf of the external position
	// monitor collaborator.
	ClosePosition(ctx context.Context, id string, at time.Time) error

	OpenPositionCount(ctx context.Context, chain string) (int, error)
	OpenCategoryCount(ctx context.Context, category string) (int, error)
	OpenSizeSum(ctx context.Context, chain string) (float64, error)
	// OpenedSince counts entries opened in the window regardless of status,
	// for the rolling daily ceiling.
	OpenedSince(ctx context.Context, since time.Time) (int, error)
	// LastOpenedAt returns nil when the asset has never been traded.
	LastOpenedAt(ctx context.Context, chain, assetID string) (*time.Time, error)
}

// Repository bundles every store behind one handle.
type Repository struct {
	Signals   SignalStore
	Scores    ScoreStore
	Decisions DecisionStore
	Sources   SourceStore
	Outcomes  OutcomeStore
	Positions PositionStore
}
