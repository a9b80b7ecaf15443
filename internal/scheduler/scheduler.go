// Package scheduler assigns energy to corpus entries and drives
// parent selection. It depends on internal/corpus, not the reverse:
// Scheduler provides a corpus.EnergyFunc value rather than Corpus
// depending on Scheduler's formula directly.
package scheduler

import (
	"math"
	"math/rand"

	"github.com/hoedur/hoedur/internal/corpus"
)

// ageDecayPeriod is N in the age_decay term below: halves every N
// selections (default N=256).
const ageDecayPeriod = 256

// Scheduler assigns energy to corpus entries and selects the next
// parent to fuzz. execution_cost_normalized is computed against the
// corpus's own running mean cost rather than a fixed constant, so it
// adapts as the fuzzing run progresses and stays meaningful across
// firmware with very different average run costs.
type Scheduler struct {
	corp *corpus.Corpus
	rng  *rand.Rand
}

// New creates a Scheduler selecting from corp using rng.
func New(corp *corpus.Corpus, rng *rand.Rand) *Scheduler {
	return &Scheduler{corp: corp, rng: rng}
}

// Energy implements the selection-weight formula:
//
//	1 / (1 + execution_cost_normalized) × novelty_bonus × age_decay
//
// execution_cost_normalized is e.Cost divided by the corpus's mean
// entry cost (0 if the corpus is empty or its mean cost is 0).
// age_decay halves every ageDecayPeriod selections: 0.5^(selections/N).
// Entries with zero novelty bonus still carry a floor of 1 so a
// first-admitted entry with no recorded bonus isn't permanently
// unselectable.
func (s *Scheduler) Energy(e *corpus.Entry) float64 {
	normalized := s.normalizedCost(e.Cost)
	bonus := float64(e.NoveltyBonus)
	if bonus <= 0 {
		bonus = 1
	}
	decay := math.Pow(0.5, float64(e.Selections)/ageDecayPeriod)
	return (1.0 / (1.0 + normalized)) * bonus * decay
}

func (s *Scheduler) normalizedCost(cost uint64) float64 {
	entries := s.corp.Entries()
	if len(entries) == 0 {
		return 0
	}
	var total uint64
	for _, e := range entries {
		total += e.Cost
	}
	mean := float64(total) / float64(len(entries))
	if mean == 0 {
		return 0
	}
	return float64(cost) / mean
}

// SelectParent picks the next corpus entry to fuzz, weighted by
// Energy, via Corpus.Select's reservoir sampling.
func (s *Scheduler) SelectParent() (*corpus.Entry, bool) {
	return s.corp.Select(s.rng, s.Energy)
}
