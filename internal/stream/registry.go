package stream

import (
	"sync"

	"github.com/hoedur/hoedur/internal/archive"
	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/logging"
)

// Set is the process-wide stream registry. Stream IDs are interned to
// small integers for O(1) lookup from the hot execution path; adding a
// stream at runtime (first MMIO access to an unknown address) mints a
// fresh integer without disturbing existing ones.
type Set struct {
	mu      sync.RWMutex
	defs    map[ID]*Def
	order   []ID // insertion order, index is the interned handle
	handles map[ID]int
}

// NewSet builds an empty registry.
func NewSet() *Set {
	return &Set{
		defs:    make(map[ID]*Def),
		handles: make(map[ID]int),
	}
}

// LoadConfig populates the registry from firmware config at startup.
// config.Parse does not check categories: a category other than
// interrupt/mmio/dma/random becomes a Custom stream named by the text
// after its colon.
func LoadConfig(cfgStreams []config.StreamConfig) (*Set, error) {
	s := NewSet()
	for _, sc := range cfgStreams {
		cat, idx, name := parseCategory(sc.Category)
		id := ID{Category: cat, Index: idx, Name: name}
		def := &Def{
			ID:             id,
			Alphabet:       alphabetFromNames(sc.ChunkAlphabet, cat),
			DefaultPolicy:  policyFromConfig(sc.DefaultPolicy),
			MutationWeight: sc.MutationWeight,
		}
		s.register(def)
	}
	return s, nil
}

func parseCategory(raw string) (Category, uint64, string) {
	// raw is one of "interrupt:<n>", "mmio:<addr>", "dma:<n>",
	// "random:<n>", or "custom:<name>" as written in firmware config.
	cat, rest := splitCategory(raw)
	switch cat {
	case "interrupt":
		return Interrupt, parseUintOrZero(rest), ""
	case "mmio":
		return MMIO, parseUintOrZero(rest), ""
	case "dma":
		return DMA, parseUintOrZero(rest), ""
	case "random":
		return Random, parseUintOrZero(rest), ""
	default:
		return Custom, 0, rest
	}
}

// register adds or replaces a definition and interns its handle.
func (s *Set) register(def *Def) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; !ok {
		s.order = append(s.order, def.ID)
		s.handles[def.ID] = len(s.order) - 1
	}
	s.defs[def.ID] = def
	return s.handles[def.ID]
}

// Lookup returns the definition for id, if registered.
func (s *Set) Lookup(id ID) (*Def, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defs[id]
	return d, ok
}

// Handle returns the interned integer for id, registering a default
// definition for it if it has never been seen before (dynamic stream
// discovery). The second return value reports whether the stream was
// newly discovered.
func (s *Set) Handle(id ID) (int, bool) {
	s.mu.RLock()
	h, ok := s.handles[id]
	s.mu.RUnlock()
	if ok {
		return h, false
	}

	def := &Def{
		ID:             id,
		Alphabet:       defaultAlphabet(id.Category),
		DefaultPolicy:  defaultPolicyFor(id.Category),
		MutationWeight: 1.0,
	}
	h = s.register(def)
	if logging.L != nil {
		logging.L.StreamDiscovered(id.String(), id.Category.String())
	}
	return h, true
}

// All returns every registered definition in registration order.
func (s *Set) All() []*Def {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Def, len(s.order))
	for i, id := range s.order {
		out[i] = s.defs[id]
	}
	return out
}

// NormalizedWeights returns each stream's mutation weight divided by
// the sum of all weights, so the Mutator's stream-selection
// distribution sums to 1.0.
func (s *Set) NormalizedWeights() map[ID]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, d := range s.defs {
		total += d.MutationWeight
	}
	out := make(map[ID]float64, len(s.defs))
	if total == 0 {
		return out
	}
	for id, d := range s.defs {
		out[id] = d.MutationWeight / total
	}
	return out
}

// ToRecords converts every registered Def to its archive wire shape,
// in registration order, so a newly-discovered stream (one minted by
// Handle rather than present in firmware config) is captured in the
// next archive flush.
func (s *Set) ToRecords() []archive.StreamDefRecord {
	defs := s.All()
	out := make([]archive.StreamDefRecord, 0, len(defs))
	for _, d := range defs {
		out = append(out, archive.StreamDefRecord{
			Category:       byte(d.ID.Category),
			Index:          d.ID.Index,
			Name:           d.ID.Name,
			Alphabet:       alphabetToBitmask(d.Alphabet),
			DefaultPolicy:  byte(d.DefaultPolicy),
			MutationWeight: d.MutationWeight,
		})
	}
	return out
}

// LoadRecords rebuilds a Set from archived stream-table records,
// restoring exactly the definitions a prior run discovered (including
// ones firmware config never declared).
func LoadRecords(records []archive.StreamDefRecord) *Set {
	s := NewSet()
	for _, r := range records {
		id := ID{Category: Category(r.Category), Index: r.Index, Name: r.Name}
		def := &Def{
			ID:             id,
			Alphabet:       bitmaskToAlphabet(r.Alphabet),
			DefaultPolicy:  Policy(r.DefaultPolicy),
			MutationWeight: r.MutationWeight,
		}
		s.register(def)
	}
	return s
}

func alphabetToBitmask(alphabet map[ChunkKind]bool) byte {
	var mask byte
	for kind, allowed := range alphabet {
		if allowed {
			mask |= 1 << uint(kind)
		}
	}
	return mask
}

func bitmaskToAlphabet(mask byte) map[ChunkKind]bool {
	out := make(map[ChunkKind]bool)
	for _, kind := range []ChunkKind{KindData, KindVector, KindWord} {
		if mask&(1<<uint(kind)) != 0 {
			out[kind] = true
		}
	}
	return out
}

func alphabetFromNames(names []string, cat Category) map[ChunkKind]bool {
	if len(names) == 0 {
		return defaultAlphabet(cat)
	}
	out := make(map[ChunkKind]bool, len(names))
	for _, n := range names {
		switch n {
		case "data":
			out[KindData] = true
		case "vector":
			out[KindVector] = true
		case "word":
			out[KindWord] = true
		}
	}
	return out
}

func policyFromConfig(p config.DefaultPolicy) Policy {
	if p == config.PolicyStop {
		return PolicyStop
	}
	return PolicyZero
}
