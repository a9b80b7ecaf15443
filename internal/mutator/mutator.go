// Package mutator implements the Mutator: stream-aware, stacked
// mutations over an Input, with deterministic output given the same
// RNG seed and parents.
package mutator

import (
	"math/rand"
	"sort"

	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/stream"
)

// interestingValues are overwritten into a chosen chunk's leading
// bytes during havoc.
var interestingValues = []int64{0, 1, -1, 0x7f, 0x80, 0xff, 0x7fff, 0xffff, 0xffffffff}

// havocMean is the target mean of the geometrically-distributed
// stacked-mutation count: between 1 and maxStack, geometrically
// distributed, mean 4.
const havocMean = 4.0

// maxStack bounds the stacked-mutation count so a pathological RNG
// draw can't loop unreasonably long.
const maxStack = 32

// kind enumerates the five mutation kinds Mutate can apply.
type kind int

const (
	kindHavoc kind = iota
	kindChunkStructural
	kindSplice
	kindInterruptVector
	kindCrossStreamSplice
)

// Mutator applies stacked, stream-aware mutations. Deterministic given
// the same *rand.Rand sequence.
type Mutator struct {
	rng *rand.Rand
}

// New creates a Mutator seeded by rng. Callers own rng's lifetime and
// seeding so runs are reproducible end-to-end.
func New(rng *rand.Rand) *Mutator {
	return &Mutator{rng: rng}
}

// Mutate produces a child Input from parent, optionally splicing with
// spliceParent (nil if no splice partner is available this call).
// streams supplies the per-stream mutation weights: each stacked
// mutation picks its stream by the normalized configured mutation
// weight alone, with no score for how useful past mutations of that
// stream were.
func (m *Mutator) Mutate(parent *input.Input, spliceParent *input.Input, streams *stream.Set) *input.Input {
	child := input.NewChild(parent, input.Mutated)
	for _, id := range parent.StreamIDs() {
		def, ok := streams.Lookup(id)
		if !ok {
			continue
		}
		for _, c := range parent.Chunks(id) {
			child.Append(def, c.Kind, c.Data)
		}
	}

	stack := m.stackCount()
	defs := streams.All()
	if len(defs) == 0 {
		return child
	}
	weights := streams.NormalizedWeights()

	for i := 0; i < stack; i++ {
		def := m.pickStream(defs, weights)
		if def == nil {
			continue
		}
		m.applyOne(child, def, spliceParent)
	}
	return child
}

// stackCount draws the number of stacked mutations from a geometric
// distribution with mean havocMean, clamped to [1, maxStack].
func (m *Mutator) stackCount() int {
	p := 1.0 / havocMean
	n := 1
	for n < maxStack && m.rng.Float64() >= p {
		n++
	}
	return n
}

// pickStream chooses a stream weighted by its normalized mutation
// weight; falls back to uniform choice if weights sum to zero.
func (m *Mutator) pickStream(defs []*stream.Def, weights map[stream.ID]float64) *stream.Def {
	if len(defs) == 0 {
		return nil
	}
	roll := m.rng.Float64()
	var cumulative float64
	for _, def := range defs {
		cumulative += weights[def.ID]
		if roll < cumulative {
			return def
		}
	}
	return defs[m.rng.Intn(len(defs))]
}

// applyOne dispatches to one of the five mutation kinds, weighted
// toward the cheap structural/havoc kinds: splice and cross-stream
// splice only fire when a splice partner is actually available.
func (m *Mutator) applyOne(child *input.Input, def *stream.Def, spliceParent *input.Input) {
	choices := []kind{kindHavoc, kindHavoc, kindChunkStructural, kindChunkStructural}
	if def.ID.Category == stream.Interrupt {
		choices = append(choices, kindInterruptVector)
	}
	if spliceParent != nil {
		choices = append(choices, kindSplice, kindCrossStreamSplice)
	}
	switch choices[m.rng.Intn(len(choices))] {
	case kindHavoc:
		m.havoc(child, def.ID)
	case kindChunkStructural:
		m.chunkStructural(child, def)
	case kindSplice:
		m.splice(child, def.ID, spliceParent)
	case kindInterruptVector:
		m.interruptVector(child, def)
	case kindCrossStreamSplice:
		m.crossStreamSplice(child, def.ID, spliceParent)
	}
}

// havoc flips bits, nudges by a small delta, or overwrites with an
// interesting constant on a randomly-chosen chunk.
func (m *Mutator) havoc(child *input.Input, id stream.ID) {
	n := child.ChunkCount(id)
	if n == 0 {
		return
	}
	idx := m.rng.Intn(n)
	chunk := child.Chunks(id)[idx]
	if len(chunk.Data) == 0 {
		return
	}
	data := append([]byte(nil), chunk.Data...)

	switch m.rng.Intn(3) {
	case 0: // flip 1-N bits
		bits := 1 + m.rng.Intn(4)
		for b := 0; b < bits; b++ {
			byteIdx := m.rng.Intn(len(data))
			bitIdx := uint(m.rng.Intn(8))
			data[byteIdx] ^= 1 << bitIdx
		}
	case 1: // add small integer delta
		byteIdx := m.rng.Intn(len(data))
		delta := int8(m.rng.Intn(35) - 17)
		data[byteIdx] = byte(int8(data[byteIdx]) + delta)
	case 2: // overwrite with an interesting constant
		v := interestingValues[m.rng.Intn(len(interestingValues))]
		writeInterestingValue(data, v)
	}
	child.ReplaceChunk(id, idx, data)
}

// writeInterestingValue overwrites as much of data's prefix as fits
// the constant's natural byte width (1, 2, or 4 bytes), little-endian.
func writeInterestingValue(data []byte, v int64) {
	width := 4
	switch {
	case v >= -128 && v <= 0xff:
		width = 1
	case v >= -32768 && v <= 0xffff:
		width = 2
	}
	if width > len(data) {
		width = len(data)
	}
	u := uint64(v)
	for i := 0; i < width; i++ {
		data[i] = byte(u >> (8 * i))
	}
}

// chunkStructural duplicates, deletes, splits, or inserts a chunk
// drawn from the stream's own alphabet.
func (m *Mutator) chunkStructural(child *input.Input, def *stream.Def) {
	id := def.ID
	n := child.ChunkCount(id)
	switch m.rng.Intn(4) {
	case 0: // duplication
		if n > 0 {
			child.DuplicateChunkAt(id, m.rng.Intn(n))
		}
	case 1: // deletion
		if n > 1 {
			child.RemoveChunkAt(id, m.rng.Intn(n))
		}
	case 2: // splitting
		if n > 0 {
			idx := m.rng.Intn(n)
			if l := len(child.Chunks(id)[idx].Data); l > 1 {
				child.SplitChunkAt(id, idx, 1+m.rng.Intn(l-1))
			}
		}
	case 3: // insertion of a fresh chunk from the stream's alphabet
		k := randomKind(def, m.rng)
		data := make([]byte, 1+m.rng.Intn(4))
		m.rng.Read(data)
		idx := 0
		if n > 0 {
			idx = m.rng.Intn(n + 1)
		}
		child.InsertChunkAt(id, idx, input.Chunk{Kind: k, Data: data})
	}
}

// splice replaces child's stream-suffix from a random cut point with
// the corresponding suffix from spliceParent's same stream.
func (m *Mutator) splice(child *input.Input, id stream.ID, spliceParent *input.Input) {
	if spliceParent == nil {
		return
	}
	donor := spliceParent.Chunks(id)
	if len(donor) == 0 {
		return
	}
	n := child.ChunkCount(id)
	cut := 0
	if n > 0 {
		cut = m.rng.Intn(n)
	}
	for n > cut {
		child.RemoveChunkAt(id, n-1)
		n--
	}
	donorCut := m.rng.Intn(len(donor))
	for i := donorCut; i < len(donor); i++ {
		child.InsertChunkAt(id, child.ChunkCount(id), donor[i])
	}
}

// interruptVector inserts or removes a vector chunk on the interrupt
// stream: if the stream has chunks, it removes one or inserts a copy
// of an existing one; if it is empty, it inserts a random vector
// number (0-255). NVIC enable state is not consulted.
func (m *Mutator) interruptVector(child *input.Input, def *stream.Def) {
	id := def.ID
	n := child.ChunkCount(id)
	if n == 0 {
		vector := byte(m.rng.Intn(256))
		child.InsertChunkAt(id, 0, input.Chunk{Kind: stream.KindVector, Data: []byte{vector}})
		return
	}
	if m.rng.Intn(2) == 0 {
		child.RemoveChunkAt(id, m.rng.Intn(n))
	} else {
		child.DuplicateChunkAt(id, m.rng.Intn(n))
	}
}

// crossStreamSplice takes a whole stream from spliceParent, replacing
// child's own copy outright. Applied at low weight relative to the
// other mutation kinds.
func (m *Mutator) crossStreamSplice(child *input.Input, id stream.ID, spliceParent *input.Input) {
	if spliceParent == nil {
		return
	}
	donor := spliceParent.Chunks(id)
	n := child.ChunkCount(id)
	for n > 0 {
		child.RemoveChunkAt(id, n-1)
		n--
	}
	for _, c := range donor {
		child.InsertChunkAt(id, child.ChunkCount(id), c)
	}
}

// randomKind picks from def's alphabet deterministically given rng:
// map iteration order is randomized per-process, so the candidate
// kinds are collected and sorted before the RNG draw.
func randomKind(def *stream.Def, rng *rand.Rand) stream.ChunkKind {
	allowed := make([]stream.ChunkKind, 0, 1)
	for k, ok := range def.Alphabet {
		if ok {
			allowed = append(allowed, k)
		}
	}
	if len(allowed) == 0 {
		return stream.KindData
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return allowed[rng.Intn(len(allowed))]
}
