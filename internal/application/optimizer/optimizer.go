// Package optimizer owns the source-quality ledger: per-source running
// statistics, the probation → active/inactive → blacklist lifecycle, and
// the two evaluation cadences that keep scores fresh without thrashing
// admission decisions.
package optimizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/pulsearb/pulsearb/internal/application/keylock"
	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/infrastructure/metrics"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
)

// Config holds the lifecycle thresholds and cadences.
type Config struct {
	MaxActiveSources       int     `yaml:"max_active_sources"`
	ProbationSampleSize    int     `yaml:"probation_sample_size"`
	MinWinRate             float64 `yaml:"min_win_rate"`
	MinAvgPnl              float64 `yaml:"min_avg_pnl"`
	ProbationDays          int     `yaml:"probation_days"`
	ProbationExtensionDays int     `yaml:"probation_extension_days"`
	DegradeQualityFloor    float64 `yaml:"degrade_quality_floor"`
	MissCooldownAfter      int     `yaml:"miss_cooldown_after"` // consecutive misses before a pause
	MissCooldown           string  `yaml:"miss_cooldown"`       // pause duration, e.g. "2h"

	// Cron expressions: scores react fast, status changes on the slower
	// batched cadence.
	RefreshSchedule   string `yaml:"refresh_schedule"`
	RebalanceSchedule string `yaml:"rebalance_schedule"`
}

// DefaultConfig returns the production optimizer configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxActiveSources:       25,
		ProbationSampleSize:    10,
		MinWinRate:             0.40,
		MinAvgPnl:              0.0,
		ProbationDays:          14,
		ProbationExtensionDays: 7,
		DegradeQualityFloor:    35.0,
		MissCooldownAfter:      5,
		MissCooldown:           "2h",
		RefreshSchedule:        "@hourly",
		RebalanceSchedule:      "0 4 * * 1", // Mondays 04:00 UTC
	}
}

// Optimizer answers "should I trust this source" before scoring begins
// and re-evaluates that answer as outcomes arrive.
type Optimizer struct {
	sources  persistence.SourceStore
	outcomes persistence.OutcomeStore
	config   *Config
	metrics  *metrics.Registry
	lock     *keylock.KeyedMutex
	now      func() time.Time
}

// New creates a source optimizer. A nil config selects defaults.
func New(sources persistence.SourceStore, outcomes persistence.OutcomeStore, config *Config) *Optimizer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Optimizer{
		sources:  sources,
		outcomes: outcomes,
		config:   config,
		lock:     keylock.New(),
		now:      time.Now,
	}
}

// WithClock overrides the optimizer clock. Test hook.
func (o *Optimizer) WithClock(now func() time.Time) *Optimizer {
	o.now = now
	return o
}

// WithMetrics attaches the registry so the cadences publish per-status
// source counts.
func (o *Optimizer) WithMetrics(m *metrics.Registry) *Optimizer {
	o.metrics = m
	return o
}

// Schedule registers the two cadences on the given cron runner.
func (o *Optimizer) Schedule(c *cron.Cron) error {
	if _, err := c.AddFunc(o.config.RefreshSchedule, func() {
		if err := o.RefreshScores(context.Background()); err != nil {
			log.Error().Err(err).Msg("source score refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	if _, err := c.AddFunc(o.config.RebalanceSchedule, func() {
		if err := o.Rebalance(context.Background()); err != nil {
			log.Error().Err(err).Msg("source rebalance failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule rebalance: %w", err)
	}
	return nil
}

// ShouldUse reports whether signals from the source enter the pipeline.
// Unknown sources are innocent until proven otherwise. A store failure
// admits the signal: trust filtering degrades open, admission constraints
// downstream still fail closed.
func (o *Optimizer) ShouldUse(ctx context.Context, sourceType, sourceID string) bool {
	rec, err := o.sources.GetSource(ctx, sourceType, sourceID)
	if err != nil {
		log.Warn().Err(err).Str("source", sourceType+":"+sourceID).Msg("source lookup failed, admitting")
		return true
	}
	if rec == nil {
		return true
	}
	if rec.CooldownUntil != nil && o.now().Before(*rec.CooldownUntil) {
		return false
	}
	switch rec.Status {
	case domain.StatusProbation, domain.StatusActive:
		return true
	default:
		return false
	}
}

// EnsureSource creates the probation record on first-seen signal.
func (o *Optimizer) EnsureSource(ctx context.Context, sourceType, sourceID string) error {
	unlock := o.lock.Lock(sourceType + ":" + sourceID)
	defer unlock()

	existing, err := o.sources.GetSource(ctx, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("ensure source: %w", err)
	}
	if existing != nil {
		return nil
	}
	now := o.now().UTC()
	rec := domain.SourceRecord{
		SourceType:        sourceType,
		SourceID:          sourceID,
		Status:            domain.StatusProbation,
		QualityScore:      NeutralQuality,
		ProbationDeadline: now.AddDate(0, 0, o.config.ProbationDays),
		FirstSeenAt:       now,
		UpdatedAt:         now,
	}
	if err := o.sources.UpsertSource(ctx, rec); err != nil {
		return fmt.Errorf("ensure source: %w", err)
	}
	log.Info().Str("source", rec.Key()).Msg("new source entering probation")
	return nil
}

// RecordOutcome patches the exit data onto the signal's outcome exactly
// once, then recomputes the owning source's aggregates from the full
// outcome set. The read-recompute-write sequence runs under the per-source
// lock.
func (o *Optimizer) RecordOutcome(ctx context.Context, signalID string, exit domain.ExitData) error {
	patched, err := o.outcomes.PatchOutcome(ctx, signalID, exit)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", signalID, err)
	}
	return o.recomputeSource(ctx, patched.SourceType, patched.SourceID)
}

// TrackEntry registers an unsettled outcome for a freshly opened position.
func (o *Optimizer) TrackEntry(ctx context.Context, outcome domain.SignalOutcome) error {
	if err := o.outcomes.InsertOutcome(ctx, outcome); err != nil {
		return fmt.Errorf("track entry %s: %w", outcome.SignalID, err)
	}
	return o.recomputeSource(ctx, outcome.SourceType, outcome.SourceID)
}

func (o *Optimizer) recomputeSource(ctx context.Context, sourceType, sourceID string) error {
	unlock := o.lock.Lock(sourceType + ":" + sourceID)
	defer unlock()

	rec, err := o.sources.GetSource(ctx, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("recompute source: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("recompute source: %s:%s unknown", sourceType, sourceID)
	}
	if rec.Status == domain.StatusBlacklist {
		// Terminal: statistics stop mattering.
		return nil
	}

	all, err := o.outcomes.ListOutcomesBySource(ctx, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("recompute source: %w", err)
	}
	st := Recompute(all)
	now := o.now().UTC()

	rec.TotalSignals = st.TotalSignals
	rec.Wins = st.Wins
	rec.Losses = st.Losses
	rec.AvgPnl = st.AvgPnl
	rec.BestPnl = st.BestPnl
	rec.WorstPnl = st.WorstPnl
	rec.QualityScore = QualityScore(st)
	rec.ConsecutiveMisses = st.ConsecutiveMisses
	rec.UpdatedAt = now

	if o.config.MissCooldownAfter > 0 && st.ConsecutiveMisses >= o.config.MissCooldownAfter {
		pause, perr := time.ParseDuration(o.config.MissCooldown)
		if perr == nil && (rec.CooldownUntil == nil || rec.CooldownUntil.Before(now)) {
			until := now.Add(pause)
			rec.CooldownUntil = &until
			log.Warn().Str("source", rec.Key()).Int("misses", st.ConsecutiveMisses).
				Time("until", until).Msg("source paused after consecutive misses")
		}
	}

	return o.sources.UpsertSource(ctx, *rec)
}

// RefreshScores is the frequent cadence: recompute qualityScore for every
// non-terminal source. No status transitions happen here.
func (o *Optimizer) RefreshScores(ctx context.Context) error {
	records, err := o.sources.ListSources(ctx,
		domain.StatusProbation, domain.StatusActive, domain.StatusInactive)
	if err != nil {
		return fmt.Errorf("refresh scores: %w", err)
	}
	for _, rec := range records {
		if err := o.recomputeSource(ctx, rec.SourceType, rec.SourceID); err != nil {
			// One source never aborts the pass.
			log.Error().Err(err).Str("source", rec.Key()).Msg("score refresh failed for source")
		}
	}
	o.publishStatusCounts(ctx)
	return nil
}

// Rebalance is the slow cadence: perform status transitions, then trim the
// active set to MaxActiveSources by descending qualityScore.
func (o *Optimizer) Rebalance(ctx context.Context) error {
	records, err := o.sources.ListSources(ctx, domain.StatusProbation, domain.StatusActive)
	if err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	now := o.now().UTC()

	var actives []domain.SourceRecord
	for _, rec := range records {
		unlock := o.lock.Lock(rec.Key())
		current, err := o.sources.GetSource(ctx, rec.SourceType, rec.SourceID)
		if err != nil || current == nil {
			unlock()
			continue
		}
		rec = *current

		switch rec.Status {
		case domain.StatusProbation:
			o.evaluateProbation(&rec, now)
		case domain.StatusActive:
			if rec.QualityScore < o.config.DegradeQualityFloor {
				rec.Status = domain.StatusInactive
				log.Info().Str("source", rec.Key()).Float64("quality", rec.QualityScore).
					Msg("active source degraded to inactive")
			}
		}
		rec.UpdatedAt = now
		if err := o.sources.UpsertSource(ctx, rec); err != nil {
			log.Error().Err(err).Str("source", rec.Key()).Msg("rebalance write failed")
		}
		unlock()

		if rec.Status == domain.StatusActive {
			actives = append(actives, rec)
		}
	}

	if err := o.trimActive(ctx, actives, now); err != nil {
		return err
	}
	o.publishStatusCounts(ctx)
	return nil
}

// publishStatusCounts sets the per-status source gauge from the full table.
// All four statuses are written every pass so emptied states drop to zero.
func (o *Optimizer) publishStatusCounts(ctx context.Context) {
	if o.metrics == nil {
		return
	}
	records, err := o.sources.ListSources(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("status gauge refresh failed")
		return
	}
	counts := map[domain.SourceStatus]int{}
	for _, rec := range records {
		counts[rec.Status]++
	}
	for _, status := range []domain.SourceStatus{
		domain.StatusProbation, domain.StatusActive, domain.StatusInactive, domain.StatusBlacklist,
	} {
		o.metrics.SourcesByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (o *Optimizer) evaluateProbation(rec *domain.SourceRecord, now time.Time) {
	settled := rec.Wins + rec.Losses
	if settled >= o.config.ProbationSampleSize {
		winRate := float64(rec.Wins) / float64(settled)
		if winRate >= o.config.MinWinRate && rec.AvgPnl >= o.config.MinAvgPnl {
			rec.Status = domain.StatusActive
			log.Info().Str("source", rec.Key()).Float64("win_rate", winRate).
				Float64("avg_pnl", rec.AvgPnl).Msg("source promoted to active")
		} else {
			rec.Status = domain.StatusInactive
			log.Info().Str("source", rec.Key()).Float64("win_rate", winRate).
				Float64("avg_pnl", rec.AvgPnl).Msg("source failed probation")
		}
		return
	}
	if now.After(rec.ProbationDeadline) {
		rec.ProbationDeadline = now.AddDate(0, 0, o.config.ProbationExtensionDays)
	}
}

// trimActive demotes everything beyond the MaxActiveSources best scores.
func (o *Optimizer) trimActive(ctx context.Context, actives []domain.SourceRecord, now time.Time) error {
	if len(actives) <= o.config.MaxActiveSources {
		return nil
	}
	sort.Slice(actives, func(i, j int) bool {
		if actives[i].QualityScore != actives[j].QualityScore {
			return actives[i].QualityScore > actives[j].QualityScore
		}
		return actives[i].Key() < actives[j].Key()
	})
	for _, rec := range actives[o.config.MaxActiveSources:] {
		unlock := o.lock.Lock(rec.Key())
		rec.Status = domain.StatusInactive
		rec.UpdatedAt = now
		if err := o.sources.UpsertSource(ctx, rec); err != nil {
			unlock()
			return fmt.Errorf("trim active: %w", err)
		}
		unlock()
		log.Info().Str("source", rec.Key()).Float64("quality", rec.QualityScore).
			Msg("source trimmed from active set")
	}
	return nil
}

// Blacklist is the only path into the terminal state, and it is manual.
func (o *Optimizer) Blacklist(ctx context.Context, sourceType, sourceID string) error {
	unlock := o.lock.Lock(sourceType + ":" + sourceID)
	defer unlock()

	rec, err := o.sources.GetSource(ctx, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("blacklist: %w", err)
	}
	now := o.now().UTC()
	if rec == nil {
		rec = &domain.SourceRecord{
			SourceType:  sourceType,
			SourceID:    sourceID,
			FirstSeenAt: now,
		}
	}
	rec.Status = domain.StatusBlacklist
	rec.UpdatedAt = now
	if err := o.sources.UpsertSource(ctx, *rec); err != nil {
		return fmt.Errorf("blacklist: %w", err)
	}
	log.Warn().Str("source", rec.Key()).Msg("source blacklisted")
	return nil
}

// TopSources returns the n best non-terminal sources by qualityScore.
func (o *Optimizer) TopSources(ctx context.Context, n int) ([]domain.SourceRecord, error) {
	records, err := o.sources.ListSources(ctx,
		domain.StatusProbation, domain.StatusActive, domain.StatusInactive)
	if err != nil {
		return nil, fmt.Errorf("top sources: %w", err)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].QualityScore != records[j].QualityScore {
			return records[i].QualityScore > records[j].QualityScore
		}
		return records[i].Key() < records[j].Key()
	})
	if n < len(records) {
		records = records[:n]
	}
	return records, nil
}
