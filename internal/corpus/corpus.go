// Package corpus implements the Corpus component: it stores admitted
// inputs, gates admission on coverage novelty, keeps a disjoint
// deduplicated crash set, and serializes to/from the Archive format.
package corpus

import (
	"errors"
	"io"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/hoedur/hoedur/internal/archive"
	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/errs"
	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/oracle"
)

// Entry is one admitted corpus member. The Corpus exclusively owns
// entries; callers receive pointers but must not mutate Coverage or
// Classification.
type Entry struct {
	Input          *input.Input
	Coverage       *coverage.Record
	Classification oracle.Classification
	Cost           uint64
	NoveltyBonus   int
	Selections     uint64
}

// EnergyFunc assigns a selection weight to an Entry. Defined here,
// not in internal/scheduler, so Corpus never imports Scheduler: the
// Scheduler instead provides a func value satisfying this signature.
type EnergyFunc func(e *Entry) float64

// ReplayFunc re-executes a candidate Input and reports the coverage
// it produced, or ok=false if the candidate no longer reproduces
// whatever made the original entry admissible (crash or novelty).
type ReplayFunc func(candidate *input.Input) (cov *coverage.Record, class oracle.Classification, ok bool)

// Corpus holds admitted non-crash entries plus a disjoint,
// fingerprint-deduplicated crash set, and the coverage baseline
// admission is judged against. The fuzzing loop is the sole writer,
// but the statistics dashboard reads Entries/BaselineCounts/CrashCount
// concurrently from its own ticker goroutine, so access is guarded by
// mu rather than assuming a single-writer steady state.
type Corpus struct {
	mu       sync.RWMutex
	baseline *coverage.Baseline
	entries  []*Entry
	byUUID   map[uuid.UUID]*Entry
	crashes  map[string]*Entry
}

// New creates an empty Corpus with a fresh coverage baseline.
func New() *Corpus {
	return &Corpus{
		baseline: coverage.NewBaseline(),
		byUUID:   make(map[uuid.UUID]*Entry),
		crashes:  make(map[string]*Entry),
	}
}

// Len reports the number of non-crash entries.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CrashCount reports the number of distinct crash fingerprints held.
func (c *Corpus) CrashCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.crashes)
}

// BaselineCounts reports the coverage baseline's current block and
// edge counts, for statistics reporting. Returned as counts rather
// than the *coverage.Baseline itself: Baseline's own map reads are
// unsynchronized (admission is meant to be its only caller), so a
// concurrent dashboard read must go through Corpus's lock instead of
// touching the baseline directly.
func (c *Corpus) BaselineCounts() (blocks, edges int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseline.BlockCount(), c.baseline.EdgeCount()
}

// WriteCoverageReport renders the current baseline's block/edge
// summary to w (`hoedur run-cov`). Routed through Corpus rather than
// exposing the baseline pointer, for the same reason BaselineCounts
// is: internal/coverage.Baseline's fields are only safe to read under
// Corpus's own lock.
func (c *Corpus) WriteCoverageReport(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return coverage.WriteReport(w, c.baseline)
}

// Lookup finds an entry (crash or non-crash) by its Input's UUID.
func (c *Corpus) Lookup(id uuid.UUID) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byUUID[id]
	return e, ok
}

// Admit implements the corpus admission rule. Crashes (HardFault,
// RomWrite, Hang) are admitted unconditionally unless their
// fingerprint already exists in the crash set. Non-crash entries
// require the Coverage record to be a bucket-wise superset of its
// parent's contribution (regression rejection) and to be novel
// against the baseline; baseline merge is atomic with admission.
func (c *Corpus) Admit(in *input.Input, parent *Entry, cov *coverage.Record, class oracle.Classification, cost uint64) (admitted bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if class.IsCrash() {
		fp := class.Fingerprint()
		if _, ok := c.crashes[fp]; ok {
			return false, "duplicate crash fingerprint"
		}
		entry := &Entry{Input: in, Coverage: cov, Classification: class, Cost: cost}
		c.crashes[fp] = entry
		c.byUUID[in.UUID] = entry
		return true, "crash"
	}

	var parentCov *coverage.Record
	if parent != nil {
		parentCov = parent.Coverage
	}
	if !cov.SupersetOf(parentCov) {
		return false, "coverage regression relative to parent"
	}

	novel, bonus := c.baseline.IsNovel(cov)
	if !novel {
		return false, "no baseline novelty"
	}

	c.baseline.Merge(cov)
	entry := &Entry{Input: in, Coverage: cov, Classification: class, Cost: cost, NoveltyBonus: bonus}
	c.entries = append(c.entries, entry)
	c.byUUID[in.UUID] = entry
	return true, "novel coverage"
}

// Select performs weighted reservoir sampling over non-crash entries,
// proportional to energy(e). Reports ok=false on an empty corpus. The
// chosen entry's Selections counter is incremented,
// feeding the Scheduler's age_decay term.
func (c *Corpus) Select(rng *rand.Rand, energy EnergyFunc) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil, false
	}
	var chosen *Entry
	var weightSum float64
	for _, e := range c.entries {
		w := energy(e)
		if w <= 0 || math.IsNaN(w) {
			continue
		}
		weightSum += w
		if weightSum == w || rng.Float64() < w/weightSum {
			chosen = e
		}
	}
	if chosen == nil {
		chosen = c.entries[rng.Intn(len(c.entries))]
	}
	chosen.Selections++
	return chosen, true
}

// Entries returns a read-only snapshot of non-crash entries, in
// admission order.
func (c *Corpus) Entries() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Entry(nil), c.entries...)
}

// Crashes returns a read-only snapshot of the crash set.
func (c *Corpus) Crashes() []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entry, 0, len(c.crashes))
	for _, e := range c.crashes {
		out = append(out, e)
	}
	return out
}

// Minimize shrinks e's Input chunk by chunk while preserving whatever
// made it admissible: a crash keeps the same fingerprint, a non-crash
// entry keeps its baseline novelty. It only removes whole chunks; the
// bytes inside a kept chunk are never shortened. Returns a new Entry
// holding the smallest Input found that still reproduces; if nothing
// could be removed, that Entry carries e's own Input.
func (c *Corpus) Minimize(e *Entry, replay ReplayFunc) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	best := e.Input
	bestCov := e.Coverage
	bestClass := e.Classification

	preserves := func(cov *coverage.Record, class oracle.Classification) bool {
		if e.Classification.IsCrash() {
			return class.IsCrash() && class.Fingerprint() == e.Classification.Fingerprint()
		}
		novel, _ := c.baseline.IsNovel(cov)
		return !class.IsCrash() && (novel || cov.SupersetOf(e.Coverage))
	}

	progress := true
	for progress {
		progress = false
		for _, id := range best.StreamIDs() {
			for idx := 0; idx < best.ChunkCount(id); {
				candidate := best.Clone()
				if !candidate.RemoveChunkAt(id, idx) {
					idx++
					continue
				}
				cov, class, ok := replay(candidate)
				if ok && preserves(cov, class) {
					best, bestCov, bestClass = candidate, cov, class
					progress = true
					continue
				}
				idx++
			}
		}
	}

	return &Entry{
		Input:          best,
		Coverage:       bestCov,
		Classification: bestClass,
		Cost:           e.Cost,
		NoveltyBonus:   e.NoveltyBonus,
	}
}

// SnapshotToArchive writes the full corpus — header, every non-crash
// entry's Input and Coverage, every crash's Input and Classification —
// to a single zstd-compressed archive.
func (c *Corpus) SnapshotToArchive(w *archive.Writer, firmwareID string, createdAt int64) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := w.WriteHeader(archive.Header{Version: 1, FirmwareID: firmwareID, CreatedAt: createdAt}); err != nil {
		return err
	}
	for _, e := range c.entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	for _, e := range c.crashes {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w *archive.Writer, e *Entry) error {
	rec, err := toInputRecord(e.Input)
	if err != nil {
		return err
	}
	if err := w.WriteInput(rec); err != nil {
		return err
	}
	blocks := e.Coverage.Blocks()
	blockList := make([]uint64, 0, len(blocks))
	for addr := range blocks {
		blockList = append(blockList, addr)
	}
	edgeMap := e.Coverage.Edges()
	edgeList := make([]coverage.Edge, 0, len(edgeMap))
	for edge := range edgeMap {
		edgeList = append(edgeList, edge)
	}
	if err := w.WriteCoverage(archive.CoverageRecord{UUID: e.Input.UUID, BasicBlocks: blockList, Edges: edgeList}); err != nil {
		return err
	}
	if e.Classification.IsCrash() {
		return w.WriteCrash(archive.CrashRecord{UUID: e.Input.UUID, Classification: e.Classification})
	}
	return nil
}

// LoadFromArchive builds a new Corpus from what r contains,
// re-deriving the baseline and crash set from the replayed records. It does not re-run admission checks: an archive is assumed
// to already satisfy them.
func LoadFromArchive(r *archive.Reader) (*Corpus, error) {
	c := New()
	inputs := make(map[uuid.UUID]*input.Input)
	covs := make(map[uuid.UUID]*coverage.Record)
	crashClasses := make(map[uuid.UUID]oracle.Classification)

	for {
		kind, payload, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		switch kind {
		case archive.KindInput:
			rec, err := archive.DecodeInput(payload)
			if err != nil {
				return nil, err
			}
			in, err := fromInputRecord(rec)
			if err != nil {
				return nil, err
			}
			inputs[in.UUID] = in
		case archive.KindCoverage:
			rec, err := archive.DecodeCoverage(payload)
			if err != nil {
				return nil, err
			}
			cov := coverage.NewRecord()
			for _, addr := range rec.BasicBlocks {
				_ = cov.HitBlock(addr)
			}
			for _, e := range rec.Edges {
				_ = cov.HitEdge(e.Src, e.Dst)
			}
			cov.Freeze()
			covs[rec.UUID] = cov
		case archive.KindCrash:
			rec, err := archive.DecodeCrash(payload)
			if err != nil {
				return nil, err
			}
			crashClasses[rec.UUID] = rec.Classification
		}
	}

	for id, in := range inputs {
		cov, ok := covs[id]
		if !ok {
			cov = coverage.NewRecord()
			cov.Freeze()
		}
		if class, ok := crashClasses[id]; ok {
			entry := &Entry{Input: in, Coverage: cov, Classification: class}
			c.crashes[class.Fingerprint()] = entry
			c.byUUID[id] = entry
			continue
		}
		_, bonus := c.baseline.IsNovel(cov)
		c.baseline.Merge(cov)
		entry := &Entry{Input: in, Coverage: cov, Classification: oracle.OkResult(), NoveltyBonus: bonus}
		c.entries = append(c.entries, entry)
		c.byUUID[id] = entry
	}
	return c, nil
}

func toInputRecord(in *input.Input) (archive.InputRecord, error) {
	rec := archive.InputRecord{
		UUID:       in.UUID,
		Generation: uint32(in.Generation),
		Reason:     byte(in.Reason),
		Streams:    in.Serialize(),
	}
	if in.ParentUUID != nil {
		rec.ParentUUID = *in.ParentUUID
	}
	return rec, nil
}

func fromInputRecord(rec archive.InputRecord) (*input.Input, error) {
	in, err := input.Deserialize(rec.Streams)
	if err != nil {
		return nil, errs.New(errs.InputCorrupt, "corpus.fromInputRecord", err)
	}
	in.UUID = rec.UUID
	in.Generation = uint64(rec.Generation)
	in.Reason = input.Reason(rec.Reason)
	if rec.ParentUUID != uuid.Nil {
		parent := rec.ParentUUID
		in.ParentUUID = &parent
	}
	return in, nil
}
