package stream

import (
	"math"
	"testing"

	"github.com/hoedur/hoedur/internal/config"
)

func TestLoadConfigAndLookup(t *testing.T) {
	cfg := []config.StreamConfig{
		{ID: "btn", Category: "mmio:0x40000000", DefaultPolicy: config.PolicyZero, MutationWeight: 2},
		{ID: "irq", Category: "interrupt:15", DefaultPolicy: config.PolicyStop, MutationWeight: 1},
	}
	set, err := LoadConfig(cfg)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	def, ok := set.Lookup(MMIOAddress(0x40000000))
	if !ok {
		t.Fatalf("expected mmio stream to be registered")
	}
	if def.DefaultPolicy != PolicyZero {
		t.Errorf("expected PolicyZero, got %v", def.DefaultPolicy)
	}

	irqDef, ok := set.Lookup(InterruptVector(15))
	if !ok || irqDef.DefaultPolicy != PolicyStop {
		t.Fatalf("expected interrupt vector 15 registered with PolicyStop")
	}
}

func TestHandleDynamicDiscovery(t *testing.T) {
	set := NewSet()
	id := MMIOAddress(0x50000000)

	h1, discovered1 := set.Handle(id)
	if !discovered1 {
		t.Fatalf("first access should be a discovery")
	}
	h2, discovered2 := set.Handle(id)
	if discovered2 {
		t.Fatalf("second access should not be a discovery")
	}
	if h1 != h2 {
		t.Errorf("expected stable handle across calls, got %d then %d", h1, h2)
	}

	def, ok := set.Lookup(id)
	if !ok {
		t.Fatalf("expected discovered stream to be registered")
	}
	if def.DefaultPolicy != PolicyZero {
		t.Errorf("expected default policy zero for dynamically discovered stream")
	}
}

func TestToRecordsAndLoadRecordsRoundTrip(t *testing.T) {
	cfg := []config.StreamConfig{
		{ID: "btn", Category: "mmio:0x40000000", DefaultPolicy: config.PolicyZero, MutationWeight: 2},
		{ID: "irq", Category: "interrupt:15", DefaultPolicy: config.PolicyStop, MutationWeight: 1},
	}
	set, err := LoadConfig(cfg)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	set.Handle(MMIOAddress(0x50000000)) // dynamically discovered, must survive the round trip too

	records := set.ToRecords()
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	restored := LoadRecords(records)
	for _, id := range []ID{MMIOAddress(0x40000000), InterruptVector(15), MMIOAddress(0x50000000)} {
		original, ok := set.Lookup(id)
		if !ok {
			t.Fatalf("original set missing %v", id)
		}
		got, ok := restored.Lookup(id)
		if !ok {
			t.Fatalf("restored set missing %v", id)
		}
		if got.DefaultPolicy != original.DefaultPolicy || got.MutationWeight != original.MutationWeight {
			t.Errorf("%v: restored def %+v does not match original %+v", id, got, original)
		}
		for kind := range original.Alphabet {
			if !got.AllowsKind(kind) {
				t.Errorf("%v: restored def lost alphabet kind %v", id, kind)
			}
		}
	}
}

func TestNormalizedWeightsSumToOne(t *testing.T) {
	cfg := []config.StreamConfig{
		{ID: "a", Category: "mmio:0x1000", MutationWeight: 3},
		{ID: "b", Category: "mmio:0x2000", MutationWeight: 1},
		{ID: "c", Category: "dma:0", MutationWeight: 6},
	}
	set, err := LoadConfig(cfg)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	weights := set.NormalizedWeights()
	var sum float64
	for _, w := range weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("expected normalized weights to sum to 1.0, got %v", sum)
	}
}
