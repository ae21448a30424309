// Package constraint is the final admission gate: it validates a proposed
// position against cooldown, concurrency and capital invariants, in fixed
// cheapest-first order, short-circuiting on the first failure.
package constraint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pulsearb/pulsearb/internal/application/keylock"
	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
)

// Limits holds the sizing invariants. Loaded from versioned configuration.
type Limits struct {
	CooldownMinutes int                `yaml:"cooldown_minutes"` // same-asset cooldown
	MaxPerCategory  int                `yaml:"max_per_category"` // K open positions per category
	MaxPerChain     int                `yaml:"max_per_chain"`    // M open positions per chain
	MaxDailyTrades  int                `yaml:"max_daily_trades"` // D new positions per rolling 24h
	TotalCapital    map[string]float64 `yaml:"total_capital"`    // per-chain capital ceiling, native units

	// Requested size per position tier, as a fraction of chain capital.
	TierFractions map[domain.PositionTier]float64 `yaml:"tier_fractions"`
}

// DefaultLimits returns the production sizing limits.
func DefaultLimits() Limits {
	return Limits{
		CooldownMinutes: 30,
		MaxPerCategory:  2,
		MaxPerChain:     5,
		MaxDailyTrades:  10,
		TotalCapital:    map[string]float64{"solana": 10.0, "ethereum": 2.0},
		TierFractions: map[domain.PositionTier]float64{
			domain.TierLarge:  0.20,
			domain.TierMedium: 0.10,
			domain.TierSmall:  0.05,
		},
	}
}

// Request is a proposed position.
type Request struct {
	SignalID      string
	Chain         string
	AssetID       string
	Category      string
	Action        domain.Action
	PositionTier  domain.PositionTier
	RequestedSize float64
}

// Detail is one constraint's pass/fail record, kept in evaluation order.
type Detail struct {
	Constraint string `json:"constraint"`
	Passed     bool   `json:"passed"`
	Detail     string `json:"detail"`
}

// Verdict is the admission result. AdjustedSize may be smaller than the
// requested size when the capital ledger only partially covers it.
type Verdict struct {
	Allowed      bool     `json:"allowed"`
	Reason       string   `json:"reason"`
	AdjustedSize float64  `json:"adjusted_size"`
	Details      []Detail `json:"details"`
}

// Engine evaluates admission requests against the position ledger.
type Engine struct {
	positions persistence.PositionStore
	limits    Limits
	chainLock *keylock.KeyedMutex
	now       func() time.Time
}

// NewEngine creates a constraint engine over the given ledger.
func NewEngine(positions persistence.PositionStore, limits Limits) *Engine {
	return &Engine{
		positions: positions,
		limits:    limits,
		chainLock: keylock.New(),
		now:       time.Now,
	}
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// SizeFor converts a position tier into a requested size for the chain.
func (e *Engine) SizeFor(chain string, tier domain.PositionTier) float64 {
	return e.limits.TotalCapital[chain] * e.limits.TierFractions[tier]
}

// Reserve validates the request and, when admitted, writes the ledger
// entry — one critical section per chain, so concurrent evaluations
// cannot both spend the same remaining capital. Any ledger read failure
// blocks the request (fail-closed).
func (e *Engine) Reserve(ctx context.Context, req Request) (Verdict, *domain.PositionLedgerEntry, error) {
	unlock := e.chainLock.Lock(req.Chain)
	defer unlock()

	verdict, err := e.evaluate(ctx, req)
	if err != nil || !verdict.Allowed {
		return verdict, nil, err
	}

	entry := domain.PositionLedgerEntry{
		ID:         uuid.NewString(),
		Chain:      req.Chain,
		AssetID:    req.AssetID,
		Category:   req.Category,
		SizeNative: verdict.AdjustedSize,
		OpenedAt:   e.now().UTC(),
		Status:     domain.PositionOpen,
	}
	if err := e.positions.InsertPosition(ctx, entry); err != nil {
		return blocked(verdict.Details, "ledger", "ledger write failed (fail-closed)"), nil, fmt.Errorf("reserve position: %w", err)
	}
	return verdict, &entry, nil
}

// Release removes a reservation whose order never reached the venue.
func (e *Engine) Release(ctx context.Context, entry domain.PositionLedgerEntry) error {
	unlock := e.chainLock.Lock(entry.Chain)
	defer unlock()
	if err := e.positions.DeletePosition(ctx, entry.ID); err != nil {
		return fmt.Errorf("release position %s: %w", entry.ID, err)
	}
	return nil
}

// evaluate runs the constraint chain. Order is fixed and cheapest-first;
// the first failure short-circuits.
func (e *Engine) evaluate(ctx context.Context, req Request) (Verdict, error) {
	var details []Detail
	pass := func(name, detail string) {
		details = append(details, Detail{Constraint: name, Passed: true, Detail: detail})
	}

	// 1. Action check. Free: no I/O.
	if !req.Action.Buyable() {
		return blocked(details, "action", fmt.Sprintf("action %s is not a buy", req.Action)), nil
	}
	pass("action", string(req.Action))

	now := e.now().UTC()

	// 2. Same-asset cooldown.
	last, err := e.positions.LastOpenedAt(ctx, req.Chain, req.AssetID)
	if err != nil {
		return e.failClosed(details, "cooldown", err)
	}
	cooldown := time.Duration(e.limits.CooldownMinutes) * time.Minute
	if last != nil {
		if wait := cooldown - now.Sub(*last); wait > 0 {
			return blocked(details, "cooldown",
				fmt.Sprintf("asset traded %s ago, %s of cooldown remaining", now.Sub(*last).Round(time.Second), wait.Round(time.Second))), nil
		}
	}
	pass("cooldown", "no recent trade")

	// 3. Same-category concurrency.
	categoryOpen, err := e.positions.OpenCategoryCount(ctx, req.Category)
	if err != nil {
		return e.failClosed(details, "category_concurrency", err)
	}
	if categoryOpen >= e.limits.MaxPerCategory {
		return blocked(details, "category_concurrency",
			fmt.Sprintf("%d open positions in category %s (max %d)", categoryOpen, req.Category, e.limits.MaxPerCategory)), nil
	}
	pass("category_concurrency", fmt.Sprintf("%d/%d", categoryOpen, e.limits.MaxPerCategory))

	// 4. Per-chain global concurrency.
	chainOpen, err := e.positions.OpenPositionCount(ctx, req.Chain)
	if err != nil {
		return e.failClosed(details, "chain_concurrency", err)
	}
	if chainOpen >= e.limits.MaxPerChain {
		return blocked(details, "chain_concurrency",
			fmt.Sprintf("%d open positions on %s (max %d)", chainOpen, req.Chain, e.limits.MaxPerChain)), nil
	}
	pass("chain_concurrency", fmt.Sprintf("%d/%d", chainOpen, e.limits.MaxPerChain))

	// 5. Rolling 24h daily ceiling.
	daily, err := e.positions.OpenedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return e.failClosed(details, "daily_ceiling", err)
	}
	if daily >= e.limits.MaxDailyTrades {
		return blocked(details, "daily_ceiling",
			fmt.Sprintf("%d positions opened in the last 24h (max %d)", daily, e.limits.MaxDailyTrades)), nil
	}
	pass("daily_ceiling", fmt.Sprintf("%d/%d", daily, e.limits.MaxDailyTrades))

	// 6. Capital ledger. A partially covered request is reduced, not
	// blocked; only exhausted capital blocks.
	openSum, err := e.positions.OpenSizeSum(ctx, req.Chain)
	if err != nil {
		return e.failClosed(details, "capital", err)
	}
	remaining := e.limits.TotalCapital[req.Chain] - openSum
	if remaining <= 0 {
		return blocked(details, "capital",
			fmt.Sprintf("no capital remaining on %s (%.4f committed of %.4f)", req.Chain, openSum, e.limits.TotalCapital[req.Chain])), nil
	}
	size := req.RequestedSize
	if size > remaining {
		size = remaining
		pass("capital", fmt.Sprintf("size reduced to remaining %.4f", remaining))
	} else {
		pass("capital", fmt.Sprintf("%.4f of %.4f remaining", remaining, e.limits.TotalCapital[req.Chain]))
	}

	return Verdict{Allowed: true, Reason: "all constraints passed", AdjustedSize: size, Details: details}, nil
}

func (e *Engine) failClosed(details []Detail, constraint string, err error) (Verdict, error) {
	log.Error().Err(err).Str("constraint", constraint).Msg("ledger read failed, blocking request")
	return blocked(details, constraint, "ledger unavailable (fail-closed)"),
		fmt.Errorf("constraint %s: ledger read: %w", constraint, err)
}

func blocked(details []Detail, constraint, reason string) Verdict {
	details = append(details, Detail{Constraint: constraint, Passed: false, Detail: reason})
	return Verdict{Allowed: false, Reason: fmt.Sprintf("%s: %s", constraint, reason), Details: details}
}
