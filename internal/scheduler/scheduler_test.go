package scheduler

import (
	"math/rand"
	"testing"

	"github.com/hoedur/hoedur/internal/corpus"
	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/oracle"
)

func covWith(blocks ...uint64) *coverage.Record {
	r := coverage.NewRecord()
	for _, b := range blocks {
		_ = r.HitBlock(b)
	}
	r.Freeze()
	return r
}

func TestEnergyDecaysWithSelectionCount(t *testing.T) {
	c := corpus.New()
	in := input.NewEmpty()
	c.Admit(in, nil, covWith(0x1000), oracle.OkResult(), 10)
	entry, _ := c.Lookup(in.UUID)

	s := New(c, rand.New(rand.NewSource(1)))
	fresh := s.Energy(entry)

	entry.Selections = ageDecayPeriod
	decayed := s.Energy(entry)

	if decayed >= fresh {
		t.Errorf("expected energy to decay after %d selections: fresh=%v decayed=%v", ageDecayPeriod, fresh, decayed)
	}
	if decayed/fresh > 0.6 || decayed/fresh < 0.4 {
		t.Errorf("expected roughly half energy after one decay period, got ratio %v", decayed/fresh)
	}
}

func TestEnergyPenalizesHigherCost(t *testing.T) {
	c := corpus.New()
	cheapIn := input.NewEmpty()
	c.Admit(cheapIn, nil, covWith(0x1000), oracle.OkResult(), 5)
	expensiveIn := input.NewEmpty()
	c.Admit(expensiveIn, nil, covWith(0x2000), oracle.OkResult(), 500)

	cheap, _ := c.Lookup(cheapIn.UUID)
	expensive, _ := c.Lookup(expensiveIn.UUID)
	cheap.NoveltyBonus = 1
	expensive.NoveltyBonus = 1

	s := New(c, rand.New(rand.NewSource(1)))
	if s.Energy(cheap) <= s.Energy(expensive) {
		t.Errorf("expected cheaper entry to have higher energy: cheap=%v expensive=%v", s.Energy(cheap), s.Energy(expensive))
	}
}

func TestSelectParentReturnsFalseOnEmptyCorpus(t *testing.T) {
	s := New(corpus.New(), rand.New(rand.NewSource(1)))
	if _, ok := s.SelectParent(); ok {
		t.Errorf("expected no parent selectable from an empty corpus")
	}
}

func TestSelectParentPicksFromCorpus(t *testing.T) {
	c := corpus.New()
	in := input.NewEmpty()
	c.Admit(in, nil, covWith(0x1000), oracle.OkResult(), 10)

	s := New(c, rand.New(rand.NewSource(1)))
	entry, ok := s.SelectParent()
	if !ok || entry.Input.UUID != in.UUID {
		t.Errorf("expected the only corpus entry to be selected")
	}
}
