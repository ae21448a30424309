// Package decision maps (gate status, composite score) to a trade rating,
// action and position tier through a fixed band table.
package decision

import (
	"fmt"
	"sort"
	"time"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/domain/errs"
)

// Band covers a contiguous inclusive score range. The PASS bands must
// partition [0,100] with no gap or overlap; this is validated at load.
type Band struct {
	Min          int                 `yaml:"min"`
	Max          int                 `yaml:"max"`
	Rating       domain.Rating       `yaml:"rating"`
	Action       domain.Action       `yaml:"action"`
	PositionTier domain.PositionTier `yaml:"position_tier"`
}

// Config is the loadable band table.
type Config struct {
	Pass     []Band `yaml:"pass"`
	Greylist []Band `yaml:"greylist"`
}

// DefaultConfig returns the production decision bands.
func DefaultConfig() *Config {
	return &Config{
		Pass: []Band{
			{Min: 80, Max: 100, Rating: domain.RatingS, Action: domain.ActionAutoBuy, PositionTier: domain.TierLarge},
			{Min: 65, Max: 79, Rating: domain.RatingA, Action: domain.ActionAutoBuy, PositionTier: domain.TierMedium},
			{Min: 50, Max: 64, Rating: domain.RatingB, Action: domain.ActionAutoBuy, PositionTier: domain.TierSmall},
			{Min: 35, Max: 49, Rating: domain.RatingC, Action: domain.ActionWatchOnly, PositionTier: domain.TierNone},
			{Min: 0, Max: 34, Rating: domain.RatingF, Action: domain.ActionReject, PositionTier: domain.TierNone},
		},
		Greylist: []Band{
			{Min: 60, Max: 100, Rating: domain.RatingB, Action: domain.ActionWatchOnly, PositionTier: domain.TierNone},
			{Min: 40, Max: 59, Rating: domain.RatingC, Action: domain.ActionWatchOnly, PositionTier: domain.TierNone},
			{Min: 0, Max: 39, Rating: domain.RatingD, Action: domain.ActionWatchOnly, PositionTier: domain.TierNone},
		},
	}
}

// Matrix is the validated, immutable decision table.
type Matrix struct {
	pass     []Band
	greylist []Band
}

// NewMatrix validates the band table. Both tables must partition [0,100];
// greylist bands must never carry a buy action.
func NewMatrix(config *Config) (*Matrix, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := validateBands("pass", config.Pass); err != nil {
		return nil, err
	}
	if err := validateBands("greylist", config.Greylist); err != nil {
		return nil, err
	}
	for _, b := range config.Greylist {
		if b.Action.Buyable() {
			return nil, fmt.Errorf("greylist band [%d,%d] carries buy action %s", b.Min, b.Max, b.Action)
		}
	}
	m := &Matrix{
		pass:     append([]Band(nil), config.Pass...),
		greylist: append([]Band(nil), config.Greylist...),
	}
	sort.Slice(m.pass, func(i, j int) bool { return m.pass[i].Min < m.pass[j].Min })
	sort.Slice(m.greylist, func(i, j int) bool { return m.greylist[i].Min < m.greylist[j].Min })
	return m, nil
}

func validateBands(name string, bands []Band) error {
	if len(bands) == 0 {
		return fmt.Errorf("%s band table is empty", name)
	}
	sorted := append([]Band(nil), bands...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Min < sorted[j].Min })
	if sorted[0].Min != 0 {
		return fmt.Errorf("%s bands do not start at 0", name)
	}
	for i, b := range sorted {
		if b.Max < b.Min {
			return fmt.Errorf("%s band [%d,%d] is inverted", name, b.Min, b.Max)
		}
		if i > 0 && b.Min != sorted[i-1].Max+1 {
			return fmt.Errorf("%s bands have a gap or overlap at %d", name, b.Min)
		}
	}
	if sorted[len(sorted)-1].Max != 100 {
		return fmt.Errorf("%s bands do not end at 100", name)
	}
	return nil
}

// Decide maps gate status and a score record to a terminal Decision.
// A score outside [0,100] or an unknown gate status is an upstream
// contract violation and fails loudly.
func (m *Matrix) Decide(gate domain.GateStatus, rec domain.ScoreRecord, now time.Time) (domain.Decision, error) {
	if !gate.Valid() {
		return domain.Decision{}, errs.Invariant("gate_status", fmt.Sprintf("unknown gate status %q", gate))
	}
	if rec.FinalScore < 0 || rec.FinalScore > 100 {
		return domain.Decision{}, errs.Invariant("score_range", fmt.Sprintf("final score %d outside [0,100]", rec.FinalScore))
	}

	d := domain.Decision{
		SignalID:     rec.SignalID,
		AssetID:      rec.AssetID,
		PositionTier: domain.TierNone,
		DecidedAt:    now,
	}

	switch gate {
	case domain.GateReject:
		d.Rating = domain.RatingF
		d.Action = domain.ActionReject
		d.Reasons = append(d.Reasons, "security gate REJECT")
	case domain.GateGreylist:
		band := lookup(m.greylist, rec.FinalScore)
		d.Rating = band.Rating
		d.Action = band.Action
		d.Reasons = append(d.Reasons, fmt.Sprintf("security gate GREYLIST: watch-only band [%d,%d]", band.Min, band.Max))
	case domain.GatePass:
		band := lookup(m.pass, rec.FinalScore)
		d.Rating = band.Rating
		d.Action = band.Action
		d.PositionTier = band.PositionTier
		d.Reasons = append(d.Reasons, fmt.Sprintf("score %d in band [%d,%d]", rec.FinalScore, band.Min, band.Max))
	}

	d.Reasons = append(d.Reasons, attribution(rec)...)
	return d, nil
}

// lookup is total over [0,100] once the table is validated.
func lookup(bands []Band, score int) Band {
	for _, b := range bands {
		if score >= b.Min && score <= b.Max {
			return b
		}
	}
	// Unreachable with a validated table.
	return bands[len(bands)-1]
}

// attribution reports the top contributing sub-score plus any penalty or
// multiplier that shaped the final number.
func attribution(rec domain.ScoreRecord) []string {
	components := []struct {
		name string
		val  float64
	}{
		{"narrative", rec.Subscores.Narrative},
		{"influence", rec.Subscores.Influence},
		{"diffusion", rec.Subscores.Diffusion},
		{"graph", rec.Subscores.Graph},
		{"timing", rec.Subscores.Timing},
	}
	top, topVal := components[0].name, components[0].val
	for _, c := range components[1:] {
		if c.val > topVal {
			top, topVal = c.name, c.val
		}
	}

	reasons := []string{fmt.Sprintf("top sub-score %s=%.1f", top, topVal)}
	if rec.Adjustments.ManipulationPenalty != 0 {
		reasons = append(reasons, fmt.Sprintf("manipulation penalty %.0f applied", rec.Adjustments.ManipulationPenalty))
	}
	if rec.Adjustments.LowConfidenceMultiplier != 1.0 {
		reasons = append(reasons, fmt.Sprintf("low-confidence multiplier %.2f applied", rec.Adjustments.LowConfidenceMultiplier))
	}
	return reasons
}
