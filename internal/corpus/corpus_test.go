package corpus

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/hoedur/hoedur/internal/archive"
	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/oracle"
	"github.com/hoedur/hoedur/internal/stream"
)

func seedInput() *input.Input {
	return input.NewEmpty()
}

func covWith(blocks ...uint64) *coverage.Record {
	r := coverage.NewRecord()
	for _, b := range blocks {
		_ = r.HitBlock(b)
	}
	r.Freeze()
	return r
}

func TestAdmitNovelCoverage(t *testing.T) {
	c := New()
	in := seedInput()
	admitted, reason := c.Admit(in, nil, covWith(0x1000, 0x1004), oracle.OkResult(), 10)
	if !admitted {
		t.Fatalf("expected admission, got reason %q", reason)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", c.Len())
	}
}

func TestAdmitRejectsNonNovelCoverage(t *testing.T) {
	c := New()
	in1 := seedInput()
	c.Admit(in1, nil, covWith(0x1000), oracle.OkResult(), 10)

	in2 := seedInput()
	admitted, reason := c.Admit(in2, nil, covWith(0x1000), oracle.OkResult(), 10)
	if admitted {
		t.Errorf("expected rejection for non-novel coverage, reason was %q", reason)
	}
	if c.Len() != 1 {
		t.Errorf("expected corpus to stay at 1 entry, got %d", c.Len())
	}
}

func TestAdmitRejectsCoverageRegression(t *testing.T) {
	c := New()
	parentIn := seedInput()
	_, _ = c.Admit(parentIn, nil, covWith(0x1000, 0x2000), oracle.OkResult(), 10)
	parent, _ := c.Lookup(parentIn.UUID)

	childIn := input.NewChild(parentIn, input.Mutated)
	admitted, reason := c.Admit(childIn, parent, covWith(0x3000), oracle.OkResult(), 10)
	if admitted {
		t.Errorf("expected rejection for coverage regression, reason was %q", reason)
	}
}

func TestAdmitCrashesBypassNovelty(t *testing.T) {
	c := New()
	in1 := seedInput()
	c.Admit(in1, nil, covWith(0x1000), oracle.OkResult(), 10)

	crashIn := seedInput()
	class := oracle.Fault(oracle.BusError, 0xDEAD)
	admitted, reason := c.Admit(crashIn, nil, covWith(0x1000), class, 10)
	if !admitted {
		t.Fatalf("expected crash admission regardless of novelty, got reason %q", reason)
	}
	if c.CrashCount() != 1 {
		t.Errorf("expected 1 crash, got %d", c.CrashCount())
	}
}

func TestAdmitDeduplicatesCrashFingerprint(t *testing.T) {
	c := New()
	class := oracle.Fault(oracle.BusError, 0xDEAD)
	c.Admit(seedInput(), nil, covWith(0x1000), class, 10)

	admitted, reason := c.Admit(seedInput(), nil, covWith(0x2000), class, 10)
	if admitted {
		t.Errorf("expected duplicate crash fingerprint rejection, reason was %q", reason)
	}
	if c.CrashCount() != 1 {
		t.Errorf("expected crash count to stay at 1, got %d", c.CrashCount())
	}
}

func TestSelectWeightedByEnergy(t *testing.T) {
	c := New()
	c.Admit(seedInput(), nil, covWith(0x1000), oracle.OkResult(), 10)
	c.Admit(seedInput(), nil, covWith(0x2000), oracle.OkResult(), 10)

	rng := rand.New(rand.NewSource(1))
	always := func(target *Entry) EnergyFunc {
		return func(e *Entry) float64 {
			if e == target {
				return 1
			}
			return 0
		}
	}
	target := c.entries[0]
	for i := 0; i < 10; i++ {
		chosen, ok := c.Select(rng, always(target))
		if !ok || chosen != target {
			t.Fatalf("expected deterministic selection of the only weighted entry")
		}
	}
	if target.Selections != 10 {
		t.Errorf("expected Selections counter to reach 10, got %d", target.Selections)
	}
}

func TestSelectOnEmptyCorpus(t *testing.T) {
	c := New()
	_, ok := c.Select(rand.New(rand.NewSource(1)), func(*Entry) float64 { return 1 })
	if ok {
		t.Errorf("expected selection on empty corpus to fail")
	}
}

func TestMinimizeShrinksWhilePreservingCrash(t *testing.T) {
	c := New()
	class := oracle.Fault(oracle.BusError, 0xDEAD)

	def := &stream.Def{ID: stream.ID{Category: stream.MMIO, Index: 0, Name: "uart"},
		Alphabet: map[stream.ChunkKind]bool{stream.KindData: true}}
	in := input.NewEmpty()
	in.Append(def, stream.KindData, []byte{1})
	in.Append(def, stream.KindData, []byte{2})
	in.Append(def, stream.KindData, []byte{3})

	cov := covWith(0x1000)
	c.Admit(in, nil, cov, class, 10)
	entry, _ := c.Lookup(in.UUID)

	replay := func(candidate *input.Input) (*coverage.Record, oracle.Classification, bool) {
		return covWith(0x1000), class, true
	}

	minimized := c.Minimize(entry, replay)
	if minimized.Input.ChunkCount(def.ID) != 0 {
		t.Errorf("expected every chunk removable when replay always preserves the crash, got %d left",
			minimized.Input.ChunkCount(def.ID))
	}
}

func TestMinimizeStopsWhenReplayFails(t *testing.T) {
	c := New()
	class := oracle.Fault(oracle.BusError, 0xDEAD)

	def := &stream.Def{ID: stream.ID{Category: stream.MMIO, Index: 0, Name: "uart"},
		Alphabet: map[stream.ChunkKind]bool{stream.KindData: true}}
	in := input.NewEmpty()
	in.Append(def, stream.KindData, []byte{1})
	in.Append(def, stream.KindData, []byte{2})

	cov := covWith(0x1000)
	c.Admit(in, nil, cov, class, 10)
	entry, _ := c.Lookup(in.UUID)

	replay := func(candidate *input.Input) (*coverage.Record, oracle.Classification, bool) {
		return nil, oracle.Classification{}, false
	}

	minimized := c.Minimize(entry, replay)
	if minimized.Input.ChunkCount(def.ID) != 2 {
		t.Errorf("expected no reduction when replay never confirms, got %d chunks left",
			minimized.Input.ChunkCount(def.ID))
	}
}

func TestSnapshotToArchiveAndLoadRoundTrip(t *testing.T) {
	c := New()
	in := seedInput()
	c.Admit(in, nil, covWith(0x1000, 0x2000), oracle.OkResult(), 10)

	crashIn := seedInput()
	class := oracle.Fault(oracle.Lockup, 0xBEEF)
	c.Admit(crashIn, nil, covWith(0x3000), class, 5)

	var buf bytes.Buffer
	w, err := archive.NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := c.SnapshotToArchive(w, "fw-1", 1_700_000_000); err != nil {
		t.Fatalf("SnapshotToArchive: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := archive.NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	loaded, err := LoadFromArchive(r)
	if err != nil {
		t.Fatalf("LoadFromArchive: %v", err)
	}
	if loaded.Len() != 1 {
		t.Errorf("expected 1 non-crash entry after reload, got %d", loaded.Len())
	}
	if loaded.CrashCount() != 1 {
		t.Errorf("expected 1 crash after reload, got %d", loaded.CrashCount())
	}
}
