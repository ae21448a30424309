package constraint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence/memory"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testLimits() Limits {
	return Limits{
		CooldownMinutes: 30,
		MaxPerCategory:  2,
		MaxPerChain:     3,
		MaxDailyTrades:  5,
		TotalCapital:    map[string]float64{"solana": 10.0},
		TierFractions: map[domain.PositionTier]float64{
			domain.TierLarge:  0.20,
			domain.TierMedium: 0.10,
			domain.TierSmall:  0.05,
		},
	}
}

func testEngine(store persistence.PositionStore) *Engine {
	return NewEngine(store, testLimits()).WithClock(func() time.Time { return now })
}

func buyRequest(asset string) Request {
	return Request{
		SignalID:      "sig-" + asset,
		Chain:         "solana",
		AssetID:       asset,
		Category:      "memecoin",
		Action:        domain.ActionAutoBuy,
		PositionTier:  domain.TierMedium,
		RequestedSize: 1.0,
	}
}

func openPosition(t *testing.T, store *memory.Store, id, asset, category string, size float64, openedAt time.Time) {
	t.Helper()
	require.NoError(t, store.InsertPosition(context.Background(), domain.PositionLedgerEntry{
		ID:         id,
		Chain:      "solana",
		AssetID:    asset,
		Category:   category,
		SizeNative: size,
		OpenedAt:   openedAt,
		Status:     domain.PositionOpen,
	}))
}

func TestReserve_NonBuyActionBlockedFirst(t *testing.T) {
	engine := testEngine(memory.NewStore())

	req := buyRequest("pepe")
	req.Action = domain.ActionWatchOnly
	verdict, entry, err := engine.Reserve(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Nil(t, entry)
	assert.Equal(t, "action", verdict.Details[len(verdict.Details)-1].Constraint)
}

func TestReserve_CooldownReportsRemainingWait(t *testing.T) {
	store := memory.NewStore()
	openPosition(t, store, "p1", "pepe", "memecoin", 1.0, now.Add(-10*time.Minute))
	engine := testEngine(store)

	verdict, _, err := engine.Reserve(context.Background(), buyRequest("pepe"))
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "cooldown")
	assert.Contains(t, verdict.Reason, "20m0s of cooldown remaining")
}

func TestReserve_CooldownExpiredAdmits(t *testing.T) {
	store := memory.NewStore()
	openPosition(t, store, "p1", "pepe", "memecoin", 1.0, now.Add(-45*time.Minute))
	engine := testEngine(store)

	// Same asset, cooldown elapsed; category holds one open position.
	verdict, entry, err := engine.Reserve(context.Background(), buyRequest("pepe"))
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	require.NotNil(t, entry)
	assert.Equal(t, 1.0, entry.SizeNative)
}

func TestReserve_CategoryConcurrency(t *testing.T) {
	store := memory.NewStore()
	openPosition(t, store, "p1", "a1", "memecoin", 1.0, now.Add(-2*time.Hour))
	openPosition(t, store, "p2", "a2", "memecoin", 1.0, now.Add(-2*time.Hour))
	engine := testEngine(store)

	verdict, _, err := engine.Reserve(context.Background(), buyRequest("a3"))
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "category_concurrency")
}

func TestReserve_ChainConcurrency(t *testing.T) {
	store := memory.NewStore()
	openPosition(t, store, "p1", "a1", "c1", 1.0, now.Add(-2*time.Hour))
	openPosition(t, store, "p2", "a2", "c2", 1.0, now.Add(-2*time.Hour))
	openPosition(t, store, "p3", "a3", "c3", 1.0, now.Add(-2*time.Hour))
	engine := testEngine(store)

	verdict, _, err := engine.Reserve(context.Background(), buyRequest("a4"))
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "chain_concurrency")
}

func TestReserve_DailyCeilingCountsClosedPositions(t *testing.T) {
	store := memory.NewStore()
	// Five positions opened today, all already closed: the rolling ceiling
	// still counts them.
	for i, id := range []string{"p1", "p2", "p3", "p4", "p5"} {
		openPosition(t, store, id, "a"+id, "c"+id, 0.1, now.Add(-time.Duration(i+1)*time.Hour))
		require.NoError(t, store.ClosePosition(context.Background(), id, now.Add(-30*time.Minute)))
	}
	engine := testEngine(store)

	verdict, _, err := engine.Reserve(context.Background(), buyRequest("fresh"))
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "daily_ceiling")
}

func TestReserve_PartialCapitalReducesSize(t *testing.T) {
	store := memory.NewStore()
	// 9.6 of 10 committed; request wants 1.0, remainder is 0.4.
	openPosition(t, store, "p1", "a1", "c1", 9.6, now.Add(-2*time.Hour))
	engine := testEngine(store)

	verdict, entry, err := engine.Reserve(context.Background(), buyRequest("a2"))
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.InDelta(t, 0.4, verdict.AdjustedSize, 1e-9)
	require.NotNil(t, entry)
	assert.InDelta(t, 0.4, entry.SizeNative, 1e-9)
}

func TestReserve_ExhaustedCapitalBlocks(t *testing.T) {
	store := memory.NewStore()
	openPosition(t, store, "p1", "a1", "c1", 10.0, now.Add(-2*time.Hour))
	engine := testEngine(store)

	verdict, _, err := engine.Reserve(context.Background(), buyRequest("a2"))
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Contains(t, verdict.Reason, "no capital remaining")
}

// failingStore wraps the memory store and fails one read method.
type failingStore struct {
	*memory.Store
}

func (f *failingStore) OpenSizeSum(ctx context.Context, chain string) (float64, error) {
	return 0, errors.New("connection reset")
}

func TestReserve_StoreFailureFailsClosed(t *testing.T) {
	engine := testEngine(&failingStore{memory.NewStore()})

	verdict, entry, err := engine.Reserve(context.Background(), buyRequest("pepe"))
	require.Error(t, err)
	assert.False(t, verdict.Allowed)
	assert.Nil(t, entry)
	assert.Contains(t, verdict.Reason, "fail-closed")
}

func TestReserve_ReleaseReturnsCapital(t *testing.T) {
	store := memory.NewStore()
	engine := testEngine(store)

	verdict, entry, err := engine.Reserve(context.Background(), buyRequest("pepe"))
	require.NoError(t, err)
	require.True(t, verdict.Allowed)
	require.NoError(t, engine.Release(context.Background(), *entry))

	sum, err := store.OpenSizeSum(context.Background(), "solana")
	require.NoError(t, err)
	assert.Zero(t, sum)
}

func TestSizeFor_TierFractions(t *testing.T) {
	engine := testEngine(memory.NewStore())
	assert.InDelta(t, 2.0, engine.SizeFor("solana", domain.TierLarge), 1e-9)
	assert.InDelta(t, 1.0, engine.SizeFor("solana", domain.TierMedium), 1e-9)
	assert.InDelta(t, 0.5, engine.SizeFor("solana", domain.TierSmall), 1e-9)
}
