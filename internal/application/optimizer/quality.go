package optimizer

import (
	"sort"

	"github.com/pulsearb/pulsearb/internal/domain"
)

// NeutralQuality is the score assigned before any outcome exists.
const NeutralQuality = 50.0

// Stats is the full-aggregate view of one source's outcome history.
// Always recomputed from the complete outcome set, never incremented, so
// re-applying an outcome is idempotent.
type Stats struct {
	TotalSignals      int
	Settled           int
	Wins              int
	Losses            int
	WinRate           float64
	AvgPnl            float64
	BestPnl           float64
	WorstPnl          float64
	ConsecutiveMisses int
}

// Recompute derives Stats from the complete outcome set for one source.
func Recompute(outcomes []domain.SignalOutcome) Stats {
	st := Stats{TotalSignals: len(outcomes)}
	if len(outcomes) == 0 {
		return st
	}

	ordered := append([]domain.SignalOutcome(nil), outcomes...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EnteredAt.Before(ordered[j].EnteredAt) })

	sum := 0.0
	first := true
	for _, o := range ordered {
		if !o.Settled() {
			continue
		}
		st.Settled++
		pnl := *o.PnlPercent
		sum += pnl
		if *o.IsWinner {
			st.Wins++
		} else {
			st.Losses++
		}
		if first || pnl > st.BestPnl {
			st.BestPnl = pnl
		}
		if first || pnl < st.WorstPnl {
			st.WorstPnl = pnl
		}
		first = false
	}
	if st.Settled > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Settled)
		st.AvgPnl = sum / float64(st.Settled)
	}

	// Trailing run of losses, newest backwards. Unsettled outcomes do not
	// break or extend the run.
	for i := len(ordered) - 1; i >= 0; i-- {
		if !ordered[i].Settled() {
			continue
		}
		if *ordered[i].IsWinner {
			break
		}
		st.ConsecutiveMisses++
	}
	return st
}

// QualityScore is the canonical [0,100] summary of a source's historical
// reliability:
//
//	clamp(50 + 75*(winRate-0.3)
//	         + clamp(0.5*(avgPnl+20), 0, 30)
//	         + min(20, 2*totalSignals)
//	         - 10 if worstPnl < -50
//	         + 10 if bestPnl > +100, 0, 100)
//
// Deterministic over Stats; a source with no settled outcomes gets the
// neutral default.
func QualityScore(st Stats) float64 {
	if st.Settled == 0 {
		return NeutralQuality
	}

	score := 50.0
	score += 75 * (st.WinRate - 0.3)
	score += clamp(0.5*(st.AvgPnl+20), 0, 30)
	volume := 2 * float64(st.TotalSignals)
	if volume > 20 {
		volume = 20
	}
	score += volume
	if st.WorstPnl < -50 {
		score -= 10
	}
	if st.BestPnl > 100 {
		score += 10
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
