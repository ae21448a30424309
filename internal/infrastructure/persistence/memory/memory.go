// Package memory implements the persistence interfaces in process memory.
// Used by tests and by deployments that run without Postgres.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pulsearb/pulsearb/internal/domain"
	"github.com/pulsearb/pulsearb/internal/infrastructure/persistence"
)

// Store holds every table behind one mutex. The mutation surface mirrors
// the persistence interfaces exactly.
type Store struct {
	mu        sync.RWMutex
	signals   []domain.Signal
	scores    []domain.ScoreRecord
	decisions []domain.Decision
	sources   map[string]domain.SourceRecord
	outcomes  map[string]domain.SignalOutcome
	positions map[string]domain.PositionLedgerEntry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sources:   make(map[string]domain.SourceRecord),
		outcomes:  make(map[string]domain.SignalOutcome),
		positions: make(map[string]domain.PositionLedgerEntry),
	}
}

// Repository exposes the store through the standard bundle.
func (s *Store) Repository() *persistence.Repository {
	return &persistence.Repository{
		Signals:   s,
		Scores:    s,
		Decisions: s,
		Sources:   s,
		Outcomes:  s,
		Positions: s,
	}
}

func sourceKey(sourceType, sourceID string) string { return sourceType + ":" + sourceID }

func (s *Store) InsertSignal(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *Store) InsertScore(_ context.Context, rec domain.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, rec)
	return nil
}

func (s *Store) InsertDecision(_ context.Context, d domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, d)
	return nil
}

func (s *Store) RecentDecisions(_ context.Context, limit int) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.decisions)
	if limit > n {
		limit = n
	}
	out := make([]domain.Decision, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.decisions[n-1-i]
	}
	return out, nil
}

func (s *Store) GetSource(_ context.Context, sourceType, sourceID string) (*domain.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sources[sourceKey(sourceType, sourceID)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) UpsertSource(_ context.Context, rec domain.SourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[rec.Key()] = rec
	return nil
}

func (s *Store) ListSources(_ context.Context, statuses ...domain.SourceStatus) ([]domain.SourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SourceRecord
	for _, rec := range s.sources {
		if len(statuses) == 0 {
			out = append(out, rec)
			continue
		}
		for _, st := range statuses {
			if rec.Status == st {
				out = append(out, rec)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) InsertOutcome(_ context.Context, o domain.SignalOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.outcomes[o.SignalID]; exists {
		return fmt.Errorf("outcome for signal %s already exists", o.SignalID)
	}
	s.outcomes[o.SignalID] = o
	return nil
}

func (s *Store) PatchOutcome(_ context.Context, signalID string, exit domain.ExitData) (*domain.SignalOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[signalID]
	if !ok {
		return nil, fmt.Errorf("no outcome for signal %s", signalID)
	}
	if o.Settled() {
		return nil, fmt.Errorf("outcome for signal %s already settled", signalID)
	}
	exitPrice := exit.ExitPrice
	pnl := exit.PnlPercent
	winner := pnl > 0
	o.ExitPrice = &exitPrice
	o.PnlPercent = &pnl
	o.IsWinner = &winner
	o.MaxGain = exit.MaxGain
	o.MaxDrawdown = exit.MaxDrawdown
	s.outcomes[signalID] = o
	return &o, nil
}

func (s *Store) ListOutcomesBySource(_ context.Context, sourceType, sourceID string) ([]domain.SignalOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.SignalOutcome
	for _, o := range s.outcomes {
		if o.SourceType == sourceType && o.SourceID == sourceID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out, nil
}

func (s *Store) InsertPosition(_ context.Context, p domain.PositionLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("position %s already exists", p.ID)
	}
	s.positions[p.ID] = p
	return nil
}

func (s *Store) DeletePosition(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return fmt.Errorf("position %s not found", id)
	}
	delete(s.positions, id)
	return nil
}

func (s *Store) ClosePosition(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("position %s not found", id)
	}
	if p.Status == domain.PositionClosed {
		return fmt.Errorf("position %s already closed", id)
	}
	p.Status = domain.PositionClosed
	p.ClosedAt = &at
	s.positions[id] = p
	return nil
}

func (s *Store) OpenPositionCount(_ context.Context, chain string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.positions {
		if p.Chain == chain && p.Status == domain.PositionOpen {
			count++
		}
	}
	return count, nil
}

func (s *Store) OpenCategoryCount(_ context.Context, category string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.positions {
		if p.Category == category && p.Status == domain.PositionOpen {
			count++
		}
	}
	return count, nil
}

func (s *Store) OpenSizeSum(_ context.Context, chain string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0.0
	for _, p := range s.positions {
		if p.Chain == chain && p.Status == domain.PositionOpen {
			sum += p.SizeNative
		}
	}
	return sum, nil
}

func (s *Store) OpenedSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, p := range s.positions {
		if !p.OpenedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) LastOpenedAt(_ context.Context, chain, assetID string) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *time.Time
	for _, p := range s.positions {
		if p.Chain != chain || p.AssetID != assetID {
			continue
		}
		opened := p.OpenedAt
		if last == nil || opened.After(*last) {
			last = &opened
		}
	}
	return last, nil
}
