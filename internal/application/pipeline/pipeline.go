// Package pipeline wires one signal's journey: source trust check, dedup,
// diffusion and composite scoring, decision matrix, constraint admission,
// execution, and the outcome feedback loop into the source optimizer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsearb/pulsearb/internal/application/constraint"
	"github.com/pulsearb/pulsearb/internal/application/keylock"
	"github.com/pulsearb/pulsearb/internal/application/optimizer"
	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/decision"
	"github.com/pulsearb/pulsearb/internal/domain/diffusion"
	"github.com/pulsearb/pulsearb/internal/domain/errs"
	"github.com/pulsearb/pulsearb/internal/domain/scoring"
	"github.com/pulsearb/pulsearb/internal/infrastructure/cache"
	"github.com/pulsearb/pulsearb/internal/infrastructure/collab"
	"github.com/pulsearb/pulsearb/internal/infrastructure/metrics"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
)

// Window is the shared mention/dedup window.
const Window = 15 * time.Minute

// Pipeline is the evaluation core. One logical evaluation per signal;
// signals for the same asset are serialized in arrival order by a
// per-asset lock, since cooldown and dedup key off the most recent trade,
// not the fastest to finish.
type Pipeline struct {
	repo        *persistence.Repository
	sources     *optimizer.Optimizer
	diffusion   *diffusion.Scorer
	composite   *scoring.Scorer
	matrix      *decision.Matrix
	constraints *constraint.Engine

	security  collab.SecurityClient
	mentions  collab.MentionSource
	narrative *collab.TwoStageClassifier
	execution collab.ExecutionClient

	recent  cache.RecentCache
	metrics *metrics.Registry

	assetLock *keylock.KeyedMutex
	now       func() time.Time
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Repo        *persistence.Repository
	Sources     *optimizer.Optimizer
	Diffusion   *diffusion.Scorer
	Composite   *scoring.Scorer
	Matrix      *decision.Matrix
	Constraints *constraint.Engine
	Security    collab.SecurityClient
	Mentions    collab.MentionSource
	Narrative   *collab.TwoStageClassifier
	Execution   collab.ExecutionClient
	Recent      cache.RecentCache
	Metrics     *metrics.Registry
}

// New assembles the pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		repo:        deps.Repo,
		sources:     deps.Sources,
		diffusion:   deps.Diffusion,
		composite:   deps.Composite,
		matrix:      deps.Matrix,
		constraints: deps.Constraints,
		security:    deps.Security,
		mentions:    deps.Mentions,
		narrative:   deps.Narrative,
		execution:   deps.Execution,
		recent:      deps.Recent,
		metrics:     deps.Metrics,
		assetLock:   keylock.New(),
		now:         time.Now,
	}
}

// WithClock overrides the pipeline clock. Test hook.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Decide evaluates one signal end to end and returns the terminal
// decision. Failures local to the signal produce a REJECT decision or an
// error for this signal only; they never abort the caller's poll cycle.
func (p *Pipeline) Decide(ctx context.Context, signal domain.Signal) (domain.Decision, error) {
	started := p.now()
	defer func() {
		p.metrics.EvalDuration.Observe(p.now().Sub(started).Seconds())
	}()

	if err := validate(signal); err != nil {
		return domain.Decision{}, err
	}
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}

	// Trust filter runs before any scoring work.
	if !p.sources.ShouldUse(ctx, signal.SourceType, signal.SourceID) {
		return p.finish(ctx, signal, domain.Decision{
			SignalID: signal.ID,
			AssetID:  signal.AssetID,
			Chain:    signal.Chain,
			Rating:   domain.RatingF,
			Action:   domain.ActionReject,
			Reasons:  []string{fmt.Sprintf("source %s:%s not trusted", signal.SourceType, signal.SourceID)},
		})
	}

	// Same-asset evaluations are serialized in arrival order.
	unlock := p.assetLock.Lock(signal.Chain + ":" + signal.AssetID)
	defer unlock()

	seen, err := p.recent.Seen(ctx, signal.Chain, signal.AssetID)
	if err != nil {
		// Dedup degrades open: the cooldown constraint still prevents a
		// duplicate trade downstream.
		log.Warn().Err(err).Str("asset", signal.AssetID).Msg("dedup cache read failed")
	}
	if seen {
		p.metrics.CacheHits.Inc()
		return p.finish(ctx, signal, domain.Decision{
			SignalID: signal.ID,
			AssetID:  signal.AssetID,
			Chain:    signal.Chain,
			Rating:   domain.RatingF,
			Action:   domain.ActionReject,
			Reasons:  []string{fmt.Sprintf("asset already evaluated within the %s dedup window", Window)},
		})
	}
	p.metrics.CacheMisses.Inc()

	if err := p.repo.Signals.InsertSignal(ctx, signal); err != nil {
		return domain.Decision{}, fmt.Errorf("persist signal: %w", err)
	}
	if err := p.sources.EnsureSource(ctx, signal.SourceType, signal.SourceID); err != nil {
		log.Error().Err(err).Msg("source registration failed")
	}

	// Security gate: a stalled or failed check fails closed into REJECT.
	securityStart := p.now()
	snapshot, err := p.security.Snapshot(ctx, signal.Chain, signal.AssetID)
	p.metrics.CollabLatency.WithLabelValues("security").Observe(p.now().Sub(securityStart).Seconds())
	if err != nil {
		var inv *errs.InvariantViolation
		if errors.As(err, &inv) {
			return domain.Decision{}, err
		}
		p.metrics.CollabErrors.WithLabelValues("security").Inc()
		return p.finish(ctx, signal, domain.Decision{
			SignalID: signal.ID,
			AssetID:  signal.AssetID,
			Chain:    signal.Chain,
			Rating:   domain.RatingF,
			Action:   domain.ActionReject,
			Reasons:  []string{"security check unavailable (fail-closed)"},
		})
	}

	rec := p.score(ctx, signal, snapshot)
	if err := p.repo.Scores.InsertScore(ctx, rec); err != nil {
		return domain.Decision{}, fmt.Errorf("persist score: %w", err)
	}
	p.metrics.ScoreHistogram.Observe(float64(rec.FinalScore))

	d, err := p.matrix.Decide(snapshot.GateStatus, rec, p.now().UTC())
	if err != nil {
		// Contract bug upstream; surface it loudly.
		return domain.Decision{}, err
	}
	d.Chain = signal.Chain

	if err := p.recent.Mark(ctx, signal.Chain, signal.AssetID); err != nil {
		log.Warn().Err(err).Str("asset", signal.AssetID).Msg("dedup cache write failed")
	}

	if d.Action.Buyable() {
		d = p.admitAndExecute(ctx, signal, snapshot, d)
	}
	return p.finish(ctx, signal, d)
}

// score gathers mention, narrative and timing inputs, substituting neutral
// defaults for unavailable collaborators, and runs the two scorers.
func (p *Pipeline) score(ctx context.Context, signal domain.Signal, snapshot *domain.SecuritySnapshot) domain.ScoreRecord {
	mentionsStart := p.now()
	mentions, err := p.mentions.Mentions(ctx, signal.AssetID, Window)
	p.metrics.CollabLatency.WithLabelValues("mentions").Observe(p.now().Sub(mentionsStart).Seconds())
	if err != nil {
		p.metrics.CollabErrors.WithLabelValues("mentions").Inc()
		log.Warn().Err(err).Str("asset", signal.AssetID).Msg("mention feed unavailable, using originating signal only")
		mentions = nil
	}

	// Influence comes from the real fan-out only; a failed or empty feed
	// keeps the neutral default rather than scoring the synthesized
	// fallback mention as thin reach.
	var influenceScore *float64
	if len(mentions) > 0 {
		v := scoring.InfluenceScore(mentions)
		influenceScore = &v
	}
	if len(mentions) == 0 {
		mentions = []domain.Mention{{
			ChannelID: signal.SourceID,
			Tier:      signal.ChannelTier,
			Timestamp: signal.ObservedAt,
		}}
	}

	var narrativeScore *float64
	if p.narrative != nil {
		result, err := p.narrative.Classify(ctx, signal.AssetID, mentions)
		if err != nil {
			p.metrics.CollabErrors.WithLabelValues("narrative").Inc()
		} else {
			narrativeScore = p.narrative.ScoreFor(result)
		}
	}

	diff := p.diffusion.Score(mentions)
	return p.composite.Score(signal, scoring.Inputs{
		Narrative:      narrativeScore,
		Influence:      influenceScore,
		Diffusion:      diff,
		Snapshot:       snapshot,
		FirstMentionAt: firstMention(mentions, signal.ObservedAt),
		EvaluatedAt:    p.now().UTC(),
		Validators:     validators(mentions),
		TierCShare:     tierCShare(mentions),
	})
}

// admitAndExecute runs the constraint engine and, when admitted, places
// the order. A blocked or failed trade downgrades the decision to
// watch-only with the specific reason attached.
func (p *Pipeline) admitAndExecute(ctx context.Context, signal domain.Signal, snapshot *domain.SecuritySnapshot, d domain.Decision) domain.Decision {
	category := snapshot.Category
	if category == "" {
		category = "uncategorized"
	}
	req := constraint.Request{
		SignalID:      signal.ID,
		Chain:         signal.Chain,
		AssetID:       signal.AssetID,
		Category:      category,
		Action:        d.Action,
		PositionTier:  d.PositionTier,
		RequestedSize: p.constraints.SizeFor(signal.Chain, d.PositionTier),
	}

	verdict, entry, err := p.constraints.Reserve(ctx, req)
	if err != nil {
		log.Error().Err(err).Str("asset", signal.AssetID).Msg("constraint evaluation failed closed")
	}
	if !verdict.Allowed {
		if len(verdict.Details) > 0 {
			p.metrics.BlocksTotal.WithLabelValues(verdict.Details[len(verdict.Details)-1].Constraint).Inc()
		}
		return downgrade(d, verdict.Reason)
	}

	orderStart := p.now()
	result, err := p.execution.PlaceOrder(ctx, collab.Order{
		Chain:      signal.Chain,
		AssetID:    signal.AssetID,
		SizeNative: verdict.AdjustedSize,
	})
	p.metrics.CollabLatency.WithLabelValues("execution").Observe(p.now().Sub(orderStart).Seconds())
	if err != nil || !result.Success {
		p.metrics.CollabErrors.WithLabelValues("execution").Inc()
		if relErr := p.constraints.Release(ctx, *entry); relErr != nil {
			log.Error().Err(relErr).Str("position", entry.ID).Msg("failed to release unfilled reservation")
		}
		reason := "execution venue unavailable"
		if err == nil {
			reason = fmt.Sprintf("order rejected by venue: %s", result.Error)
		}
		return downgrade(d, reason)
	}

	if err := p.sources.TrackEntry(ctx, domain.SignalOutcome{
		SignalID:   signal.ID,
		SourceType: signal.SourceType,
		SourceID:   signal.SourceID,
		EntryPrice: result.FillPrice,
		EnteredAt:  p.now().UTC(),
	}); err != nil {
		log.Error().Err(err).Str("signal", signal.ID).Msg("outcome tracking failed")
	}

	d.Reasons = append(d.Reasons, fmt.Sprintf("position %s opened, size %.4f, tx %s", entry.ID, verdict.AdjustedSize, result.TxRef))
	return d
}

// finish persists and logs the decision.
func (p *Pipeline) finish(ctx context.Context, signal domain.Signal, d domain.Decision) (domain.Decision, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = p.now().UTC()
	}
	if d.PositionTier == "" {
		d.PositionTier = domain.TierNone
	}
	if err := p.repo.Decisions.InsertDecision(ctx, d); err != nil {
		return d, fmt.Errorf("persist decision: %w", err)
	}
	p.metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()

	event := log.Info()
	if d.Action != domain.ActionAutoBuy {
		// Every non-AUTO_BUY outcome carries its reason in the log.
		event = log.Info().Strs("reasons", d.Reasons)
	}
	event.Str("signal", signal.ID).
		Str("asset", d.AssetID).
		Str("rating", string(d.Rating)).
		Str("action", string(d.Action)).
		Msg("decision")
	return d, nil
}

// RecordOutcome patches the realized exit onto the signal's outcome and
// feeds the owning source's statistics.
func (p *Pipeline) RecordOutcome(ctx context.Context, signalID string, exit domain.ExitData) error {
	return p.sources.RecordOutcome(ctx, signalID, exit)
}

// ShouldUseSource answers the trust query without running a signal.
func (p *Pipeline) ShouldUseSource(ctx context.Context, sourceType, sourceID string) bool {
	return p.sources.ShouldUse(ctx, sourceType, sourceID)
}

// TopSources returns the n best sources by quality score.
func (p *Pipeline) TopSources(ctx context.Context, n int) ([]domain.SourceRecord, error) {
	return p.sources.TopSources(ctx, n)
}

// RecentDecisions lists the latest decisions, newest first.
func (p *Pipeline) RecentDecisions(ctx context.Context, limit int) ([]domain.Decision, error) {
	return p.repo.Decisions.RecentDecisions(ctx, limit)
}

// BlacklistSource is the manual, terminal demotion.
func (p *Pipeline) BlacklistSource(ctx context.Context, sourceType, sourceID string) error {
	return p.sources.Blacklist(ctx, sourceType, sourceID)
}

// downgrade turns a buy decision into watch-only, keeping the score and
// rating intact and recording why the trade did not happen.
func downgrade(d domain.Decision, reason string) domain.Decision {
	d.Action = domain.ActionWatchOnly
	d.PositionTier = domain.TierNone
	d.Reasons = append(d.Reasons, reason)
	return d
}

func validate(signal domain.Signal) error {
	switch {
	case signal.AssetID == "":
		return errs.Validation("asset_id", "missing")
	case signal.Chain == "":
		return errs.Validation("chain", "missing")
	case signal.SourceType == "":
		return errs.Validation("source_type", "missing")
	case signal.SourceID == "":
		return errs.Validation("source_id", "missing")
	case signal.ObservedAt.IsZero():
		return errs.Validation("observed_at", "missing")
	}
	return nil
}

func firstMention(mentions []domain.Mention, fallback time.Time) time.Time {
	first := fallback
	for _, m := range mentions {
		if !m.Timestamp.IsZero() && (first.IsZero() || m.Timestamp.Before(first)) {
			first = m.Timestamp
		}
	}
	return first
}

// validators counts distinct higher-trust channels corroborating the
// signal.
func validators(mentions []domain.Mention) int {
	distinct := make(map[string]struct{})
	for _, m := range mentions {
		if m.Tier == domain.TierA || m.Tier == domain.TierB {
			distinct[m.ChannelID] = struct{}{}
		}
	}
	return len(distinct)
}

func tierCShare(mentions []domain.Mention) float64 {
	if len(mentions) == 0 {
		return 0
	}
	c := 0
	for _, m := range mentions {
		if m.Tier == domain.TierC || m.Tier == "" {
			c++
		}
	}
	return float64(c) / float64(len(mentions))
}
