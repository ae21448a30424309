// Package domain holds the shared records flowing through the decision
// pipeline: signals in, scores and decisions out, ledgers in between.
package domain

import "time"

// GateStatus is the safety classification returned by the external
// chain/security collaborator. It is passed through opaquely.
type GateStatus string

const (
	GatePass     GateStatus = "PASS"
	GateGreylist GateStatus = "GREYLIST"
	GateReject   GateStatus = "REJECT"
)

// Valid reports whether the status is one of the three known values.
// Anything else is an upstream contract violation, not a runtime condition.
func (g GateStatus) Valid() bool {
	switch g {
	case GatePass, GateGreylist, GateReject:
		return true
	}
	return false
}

// ChannelTier ranks the trustworthiness of a broadcast channel.
type ChannelTier string

const (
	TierA         ChannelTier = "A"
	TierB         ChannelTier = "B"
	TierC         ChannelTier = "C"
	TierBlacklist ChannelTier = "BLACKLIST"
)

// Rating grades an evaluated asset from S (strongest) to F (rejected).
type Rating string

const (
	RatingS Rating = "S"
	RatingA Rating = "A"
	RatingB Rating = "B"
	RatingC Rating = "C"
	RatingD Rating = "D"
	RatingF Rating = "F"
)

// Action is what the pipeline tells the execution collaborator to do.
type Action string

const (
	ActionAutoBuy        Action = "AUTO_BUY"
	ActionBuyWithConfirm Action = "BUY_WITH_CONFIRM"
	ActionWatchOnly      Action = "WATCH_ONLY"
	ActionReject         Action = "REJECT"
)

// Buyable reports whether the action admits a position request.
func (a Action) Buyable() bool {
	return a == ActionAutoBuy || a == ActionBuyWithConfirm
}

// PositionTier sizes an admitted position relative to configured capital.
type PositionTier string

const (
	TierLarge  PositionTier = "LARGE"
	TierMedium PositionTier = "MEDIUM"
	TierSmall  PositionTier = "SMALL"
	TierNone   PositionTier = "NONE"
)

// SourceStatus is the lifecycle state of a signal source.
type SourceStatus string

const (
	StatusProbation SourceStatus = "probation"
	StatusActive    SourceStatus = "active"
	StatusInactive  SourceStatus = "inactive"
	StatusBlacklist SourceStatus = "blacklist"
)

// Signal is one observed mention of a tradable asset from one source at
// one time. Immutable; consumed once per dedup window.
type Signal struct {
	ID          string      `json:"id" db:"id"`
	AssetID     string      `json:"asset_id" db:"asset_id"`
	Chain       string      `json:"chain" db:"chain"`
	SourceType  string      `json:"source_type" db:"source_type"`
	SourceID    string      `json:"source_id" db:"source_id"`
	ChannelTier ChannelTier `json:"channel_tier" db:"channel_tier"`
	ObservedAt  time.Time   `json:"observed_at" db:"observed_at"`
}

// Mention is one channel amplification of a signal inside the diffusion
// window. ClusterID groups channels under common operation/ownership.
// IsKOL and Engagement come from the broadcast listener's channel registry
// and feed the influence sub-score.
type Mention struct {
	ChannelID  string      `json:"channel_id"`
	Tier       ChannelTier `json:"tier"`
	ClusterID  string      `json:"cluster_id"`
	Text       string      `json:"text,omitempty"`
	IsKOL      bool        `json:"is_kol,omitempty"`
	Engagement int         `json:"engagement,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Subscores holds the component contributions to one composite score.
type Subscores struct {
	Narrative float64 `json:"narrative" db:"narrative"`
	Influence float64 `json:"influence" db:"influence"`
	Diffusion float64 `json:"diffusion" db:"diffusion"`
	Graph     float64 `json:"graph" db:"graph"`
	Timing    float64 `json:"timing" db:"timing"`
}

// Adjustments records the penalties and multipliers applied on top of the
// raw sub-score sum, kept for audit.
type Adjustments struct {
	ManipulationPenalty     float64 `json:"manipulation_penalty" db:"manipulation_penalty"`
	LowConfidenceMultiplier float64 `json:"low_confidence_multiplier" db:"low_confidence_multiplier"`
}

// ScoreRecord is one append-only evaluation result. Never mutated.
type ScoreRecord struct {
	ID          string      `json:"id" db:"id"`
	SignalID    string      `json:"signal_id" db:"signal_id"`
	AssetID     string      `json:"asset_id" db:"asset_id"`
	Subscores   Subscores   `json:"subscores"`
	Adjustments Adjustments `json:"adjustments"`
	FinalScore  int         `json:"final_score" db:"final_score"`
	ScoredAt    time.Time   `json:"scored_at" db:"scored_at"`
}

// Decision is the terminal output for one signal, derived deterministically
// from gate status and final score.
type Decision struct {
	ID           string       `json:"id" db:"id"`
	SignalID     string       `json:"signal_id" db:"signal_id"`
	AssetID      string       `json:"asset_id" db:"asset_id"`
	Chain        string       `json:"chain" db:"chain"`
	Rating       Rating       `json:"rating" db:"rating"`
	Action       Action       `json:"action" db:"action"`
	PositionTier PositionTier `json:"position_tier" db:"position_tier"`
	Reasons      []string     `json:"reasons"`
	DecidedAt    time.Time    `json:"decided_at" db:"decided_at"`
}

// PositionStatus is the lifecycle of a ledger entry.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// PositionLedgerEntry is one sized, admitted position. Per chain, the sum
// of open sizes never exceeds the configured capital for that chain.
type PositionLedgerEntry struct {
	ID         string         `json:"id" db:"id"`
	Chain      string         `json:"chain" db:"chain"`
	AssetID    string         `json:"asset_id" db:"asset_id"`
	Category   string         `json:"category" db:"category"`
	SizeNative float64        `json:"size_native" db:"size_native"`
	OpenedAt   time.Time      `json:"opened_at" db:"opened_at"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty" db:"closed_at"`
	Status     PositionStatus `json:"status" db:"status"`
}

// SourceRecord is the running statistics and lifecycle state for one
// signal source, keyed by (SourceType, SourceID). Every aggregate on it is
// recomputed from the full outcome set, never incremented.
type SourceRecord struct {
	SourceType        string       `json:"source_type" db:"source_type"`
	SourceID          string       `json:"source_id" db:"source_id"`
	Status            SourceStatus `json:"status" db:"status"`
	QualityScore      float64      `json:"quality_score" db:"quality_score"`
	TotalSignals      int          `json:"total_signals" db:"total_signals"`
	Wins              int          `json:"wins" db:"wins"`
	Losses            int          `json:"losses" db:"losses"`
	AvgPnl            float64      `json:"avg_pnl" db:"avg_pnl"`
	BestPnl           float64      `json:"best_pnl" db:"best_pnl"`
	WorstPnl          float64      `json:"worst_pnl" db:"worst_pnl"`
	ConsecutiveMisses int          `json:"consecutive_misses" db:"consecutive_misses"`
	CooldownUntil     *time.Time   `json:"cooldown_until,omitempty" db:"cooldown_until"`
	ProbationDeadline time.Time    `json:"probation_deadline" db:"probation_deadline"`
	FirstSeenAt       time.Time    `json:"first_seen_at" db:"first_seen_at"`
	UpdatedAt         time.Time    `json:"updated_at" db:"updated_at"`
}

// Key returns the composite identity of the source.
func (s SourceRecord) Key() string { return s.SourceType + ":" + s.SourceID }

// SignalOutcome tracks the realized result of one traded signal. Created
// with nil exit fields, patched exactly once on exit.
type SignalOutcome struct {
	SignalID    string    `json:"signal_id" db:"signal_id"`
	SourceType  string    `json:"source_type" db:"source_type"`
	SourceID    string    `json:"source_id" db:"source_id"`
	EntryPrice  float64   `json:"entry_price" db:"entry_price"`
	ExitPrice   *float64  `json:"exit_price,omitempty" db:"exit_price"`
	PnlPercent  *float64  `json:"pnl_percent,omitempty" db:"pnl_percent"`
	IsWinner    *bool     `json:"is_winner,omitempty" db:"is_winner"`
	MaxGain     float64   `json:"max_gain" db:"max_gain"`
	MaxDrawdown float64   `json:"max_drawdown" db:"max_drawdown"`
	EnteredAt   time.Time `json:"entered_at" db:"entered_at"`
}

// Settled reports whether the exit fields have been patched in.
func (o SignalOutcome) Settled() bool { return o.ExitPrice != nil }

// ExitData is the patch applied once when a position closes.
type ExitData struct {
	ExitPrice   float64 `json:"exit_price"`
	PnlPercent  float64 `json:"pnl_percent"`
	MaxGain     float64 `json:"max_gain"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// SecuritySnapshot is the chain/security collaborator's view of an asset.
type SecuritySnapshot struct {
	GateStatus            GateStatus `json:"gate_status"`
	LiquidityUSD          float64    `json:"liquidity_usd"`
	HolderCount           int        `json:"holder_count"`
	Top10ConcentrationPct float64    `json:"top10_concentration_pct"`
	Category              string     `json:"category"`
}

// NarrativeResult is a confidence-scored label from a narrative classifier.
type NarrativeResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}
