package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/infrastructure/metrics"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testOptimizer(store *memory.Store, config *Config) *Optimizer {
	return New(store, store, config).WithClock(func() time.Time { return now })
}

func settledOutcome(signalID string, pnl float64, enteredAt time.Time) domain.SignalOutcome {
	winner := pnl > 0
	return domain.SignalOutcome{
		SignalID:   signalID,
		SourceType: "telegram",
		SourceID:   "alpha-calls",
		EntryPrice: 1.0,
		ExitPrice:  ptr(1.0 * (1 + pnl/100)),
		PnlPercent: &pnl,
		IsWinner:   &winner,
		EnteredAt:  enteredAt,
	}
}

func ptr(v float64) *float64 { return &v }

func TestQualityScore_DocumentedFormula(t *testing.T) {
	// 12 signals, 7 wins, avgPnl +15, worst -20, best +150:
	// 50 + 75*(7/12-0.3) + min(30, 0.5*35) + min(20, 24) + 10 → clamped 100.
	st := Stats{
		TotalSignals: 12,
		Settled:      12,
		Wins:         7,
		Losses:       5,
		WinRate:      7.0 / 12.0,
		AvgPnl:       15,
		BestPnl:      150,
		WorstPnl:     -20,
	}
	expected := 50 + 75*(7.0/12.0-0.3) + 17.5 + 20 + 10
	if expected > 100 {
		expected = 100
	}
	assert.InDelta(t, expected, QualityScore(st), 1e-9)
	assert.Equal(t, 100.0, QualityScore(st))
}

func TestQualityScore_PenaltiesAndNeutral(t *testing.T) {
	// Catastrophic worst trade subtracts 10.
	bad := Stats{TotalSignals: 4, Settled: 4, Wins: 1, Losses: 3, WinRate: 0.25, AvgPnl: -30, BestPnl: 5, WorstPnl: -80}
	withPenalty := QualityScore(bad)
	bad.WorstPnl = -40
	withoutPenalty := QualityScore(bad)
	assert.InDelta(t, 10, withoutPenalty-withPenalty, 1e-9)

	// Zero outcomes: neutral default, never a crash.
	assert.Equal(t, NeutralQuality, QualityScore(Stats{}))
	assert.Equal(t, NeutralQuality, QualityScore(Recompute(nil)))
}

func TestRecompute_IdempotentOverSameOutcomeSet(t *testing.T) {
	outcomes := []domain.SignalOutcome{
		settledOutcome("s1", 40, now.Add(-3*time.Hour)),
		settledOutcome("s2", -15, now.Add(-2*time.Hour)),
		settledOutcome("s3", 120, now.Add(-1*time.Hour)),
	}
	first := QualityScore(Recompute(outcomes))
	second := QualityScore(Recompute(outcomes))
	assert.Equal(t, first, second)
}

func TestRecompute_TrailingMisses(t *testing.T) {
	outcomes := []domain.SignalOutcome{
		settledOutcome("s1", 40, now.Add(-4*time.Hour)),
		settledOutcome("s2", -5, now.Add(-3*time.Hour)),
		settledOutcome("s3", -8, now.Add(-2*time.Hour)),
		{SignalID: "s4", SourceType: "telegram", SourceID: "alpha-calls", EnteredAt: now.Add(-1 * time.Hour)}, // still open
	}
	st := Recompute(outcomes)
	assert.Equal(t, 2, st.ConsecutiveMisses)
	assert.Equal(t, 4, st.TotalSignals)
	assert.Equal(t, 3, st.Settled)
}

func TestShouldUse_Lifecycle(t *testing.T) {
	store := memory.NewStore()
	opt := testOptimizer(store, nil)
	ctx := context.Background()

	// Unknown sources are innocent until proven otherwise.
	assert.True(t, opt.ShouldUse(ctx, "telegram", "never-seen"))

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "alpha-calls"))
	assert.True(t, opt.ShouldUse(ctx, "telegram", "alpha-calls"), "probation is trusted")

	for _, tc := range []struct {
		status  domain.SourceStatus
		trusted bool
	}{
		{domain.StatusActive, true},
		{domain.StatusInactive, false},
		{domain.StatusBlacklist, false},
	} {
		rec, err := store.GetSource(ctx, "telegram", "alpha-calls")
		require.NoError(t, err)
		rec.Status = tc.status
		require.NoError(t, store.UpsertSource(ctx, *rec))
		assert.Equal(t, tc.trusted, opt.ShouldUse(ctx, "telegram", "alpha-calls"), "status=%s", tc.status)
	}
}

func TestRecordOutcome_FullRecomputeAndPatchOnce(t *testing.T) {
	store := memory.NewStore()
	opt := testOptimizer(store, nil)
	ctx := context.Background()

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "alpha-calls"))
	require.NoError(t, opt.TrackEntry(ctx, domain.SignalOutcome{
		SignalID: "s1", SourceType: "telegram", SourceID: "alpha-calls",
		EntryPrice: 1.0, EnteredAt: now.Add(-time.Hour),
	}))

	require.NoError(t, opt.RecordOutcome(ctx, "s1", domain.ExitData{ExitPrice: 1.5, PnlPercent: 50}))

	rec, err := store.GetSource(ctx, "telegram", "alpha-calls")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Wins)
	assert.Equal(t, 50.0, rec.AvgPnl)
	quality := rec.QualityScore

	// Patching twice is rejected; the aggregates stay put.
	require.Error(t, opt.RecordOutcome(ctx, "s1", domain.ExitData{ExitPrice: 2.0, PnlPercent: 100}))
	rec, _ = store.GetSource(ctx, "telegram", "alpha-calls")
	assert.Equal(t, quality, rec.QualityScore)
}

func seedSettled(t *testing.T, opt *Optimizer, store *memory.Store, sourceID string, wins, losses int, pnl float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, opt.EnsureSource(ctx, "telegram", sourceID))
	i := 0
	for ; i < wins; i++ {
		require.NoError(t, store.InsertOutcome(ctx, domain.SignalOutcome{
			SignalID: sourceID + "-w" + string(rune('a'+i)), SourceType: "telegram", SourceID: sourceID,
			EntryPrice: 1, ExitPrice: ptr(1 + pnl/100), PnlPercent: ptr(pnl), IsWinner: ptrBool(true),
			EnteredAt: now.Add(-time.Duration(i+1) * time.Hour),
		}))
	}
	for j := 0; j < losses; j++ {
		require.NoError(t, store.InsertOutcome(ctx, domain.SignalOutcome{
			SignalID: sourceID + "-l" + string(rune('a'+j)), SourceType: "telegram", SourceID: sourceID,
			EntryPrice: 1, ExitPrice: ptr(0.9), PnlPercent: ptr(-10.0), IsWinner: ptrBool(false),
			EnteredAt: now.Add(-time.Duration(i+j+1) * time.Hour),
		}))
	}
	require.NoError(t, opt.RefreshScores(ctx))
}

func ptrBool(v bool) *bool { return &v }

func TestRebalance_ProbationPromotionAndFailure(t *testing.T) {
	store := memory.NewStore()
	config := DefaultConfig()
	config.ProbationSampleSize = 10
	opt := testOptimizer(store, config)
	ctx := context.Background()

	seedSettled(t, opt, store, "good", 7, 3, 25)  // winRate 0.7, avgPnl > 0
	seedSettled(t, opt, store, "bad", 2, 8, 5)    // winRate 0.2
	seedSettled(t, opt, store, "young", 2, 1, 25) // sample size unmet

	require.NoError(t, opt.Rebalance(ctx))

	good, _ := store.GetSource(ctx, "telegram", "good")
	bad, _ := store.GetSource(ctx, "telegram", "bad")
	young, _ := store.GetSource(ctx, "telegram", "young")
	assert.Equal(t, domain.StatusActive, good.Status)
	assert.Equal(t, domain.StatusInactive, bad.Status)
	assert.Equal(t, domain.StatusProbation, young.Status)
}

func TestRebalance_ExtendsExpiredProbation(t *testing.T) {
	store := memory.NewStore()
	opt := testOptimizer(store, nil)
	ctx := context.Background()

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "quiet"))
	rec, _ := store.GetSource(ctx, "telegram", "quiet")
	rec.ProbationDeadline = now.Add(-24 * time.Hour)
	require.NoError(t, store.UpsertSource(ctx, *rec))

	require.NoError(t, opt.Rebalance(ctx))

	rec, _ = store.GetSource(ctx, "telegram", "quiet")
	assert.Equal(t, domain.StatusProbation, rec.Status)
	assert.True(t, rec.ProbationDeadline.After(now), "deadline extended")
}

func TestRebalance_DegradesActiveBelowFloor(t *testing.T) {
	store := memory.NewStore()
	opt := testOptimizer(store, nil)
	ctx := context.Background()

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "fading"))
	rec, _ := store.GetSource(ctx, "telegram", "fading")
	rec.Status = domain.StatusActive
	rec.QualityScore = 20
	require.NoError(t, store.UpsertSource(ctx, *rec))

	require.NoError(t, opt.Rebalance(ctx))

	rec, _ = store.GetSource(ctx, "telegram", "fading")
	assert.Equal(t, domain.StatusInactive, rec.Status)
}

func TestRebalance_TrimsActiveSetToMax(t *testing.T) {
	store := memory.NewStore()
	config := DefaultConfig()
	config.MaxActiveSources = 2
	config.DegradeQualityFloor = 0
	opt := testOptimizer(store, config)
	ctx := context.Background()

	for i, quality := range []float64{90, 80, 70, 60} {
		id := "src-" + string(rune('a'+i))
		require.NoError(t, opt.EnsureSource(ctx, "telegram", id))
		rec, _ := store.GetSource(ctx, "telegram", id)
		rec.Status = domain.StatusActive
		rec.QualityScore = quality
		require.NoError(t, store.UpsertSource(ctx, *rec))
	}

	require.NoError(t, opt.Rebalance(ctx))

	actives, err := store.ListSources(ctx, domain.StatusActive)
	require.NoError(t, err)
	require.Len(t, actives, 2, "never more than MaxActiveSources stay active")
	kept := []string{actives[0].SourceID, actives[1].SourceID}
	assert.Contains(t, kept, "src-a")
	assert.Contains(t, kept, "src-b")
}

func TestCadences_PublishStatusGauge(t *testing.T) {
	store := memory.NewStore()
	registry := metrics.NewRegistry()
	config := DefaultConfig()
	config.DegradeQualityFloor = 0
	opt := testOptimizer(store, config).WithMetrics(registry)
	ctx := context.Background()

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "fresh"))
	require.NoError(t, opt.EnsureSource(ctx, "telegram", "steady"))
	rec, _ := store.GetSource(ctx, "telegram", "steady")
	rec.Status = domain.StatusActive
	require.NoError(t, store.UpsertSource(ctx, *rec))
	require.NoError(t, opt.Blacklist(ctx, "telegram", "rug-caller"))

	require.NoError(t, opt.RefreshScores(ctx))
	gauge := func(status domain.SourceStatus) float64 {
		return testutil.ToFloat64(registry.SourcesByStatus.WithLabelValues(string(status)))
	}
	assert.Equal(t, 1.0, gauge(domain.StatusProbation))
	assert.Equal(t, 1.0, gauge(domain.StatusActive))
	assert.Equal(t, 0.0, gauge(domain.StatusInactive))
	assert.Equal(t, 1.0, gauge(domain.StatusBlacklist))

	// Rebalance demotes the active source below the floor and the gauge
	// follows, including the emptied status dropping to zero.
	config.DegradeQualityFloor = 60
	require.NoError(t, opt.Rebalance(ctx))
	assert.Equal(t, 0.0, gauge(domain.StatusActive))
	assert.Equal(t, 1.0, gauge(domain.StatusInactive))
}

func TestBlacklist_IsTerminal(t *testing.T) {
	store := memory.NewStore()
	config := DefaultConfig()
	config.DegradeQualityFloor = 0
	opt := testOptimizer(store, config)
	ctx := context.Background()

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "rug-caller"))
	require.NoError(t, opt.Blacklist(ctx, "telegram", "rug-caller"))
	assert.False(t, opt.ShouldUse(ctx, "telegram", "rug-caller"))

	// Neither cadence revives a blacklisted source.
	require.NoError(t, opt.RefreshScores(ctx))
	require.NoError(t, opt.Rebalance(ctx))
	rec, _ := store.GetSource(ctx, "telegram", "rug-caller")
	assert.Equal(t, domain.StatusBlacklist, rec.Status)
}

func TestTopSources_OrderedByQuality(t *testing.T) {
	store := memory.NewStore()
	opt := testOptimizer(store, nil)
	ctx := context.Background()

	for i, quality := range []float64{55, 95, 75} {
		id := "src-" + string(rune('a'+i))
		require.NoError(t, opt.EnsureSource(ctx, "telegram", id))
		rec, _ := store.GetSource(ctx, "telegram", id)
		rec.QualityScore = quality
		require.NoError(t, store.UpsertSource(ctx, *rec))
	}

	top, err := opt.TopSources(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "src-b", top[0].SourceID)
	assert.Equal(t, "src-c", top[1].SourceID)
}

func TestMissCooldown_PausesSource(t *testing.T) {
	store := memory.NewStore()
	config := DefaultConfig()
	config.MissCooldownAfter = 2
	opt := testOptimizer(store, config)
	ctx := context.Background()

	require.NoError(t, opt.EnsureSource(ctx, "telegram", "cold-streak"))
	for i, id := range []string{"m1", "m2"} {
		require.NoError(t, opt.TrackEntry(ctx, domain.SignalOutcome{
			SignalID: id, SourceType: "telegram", SourceID: "cold-streak",
			EntryPrice: 1, EnteredAt: now.Add(-time.Duration(2-i) * time.Hour),
		}))
		require.NoError(t, opt.RecordOutcome(ctx, id, domain.ExitData{ExitPrice: 0.8, PnlPercent: -20}))
	}

	assert.False(t, opt.ShouldUse(ctx, "telegram", "cold-streak"),
		"consecutive misses pause the source until cooldown expiry")
}
