// Package coverage implements the Coverage Feedback component:
// basic-block hit sets, logarithmically-bucketed edge counts, and the
// baseline novelty judgement that gates Corpus admission.
package coverage

import (
	"fmt"
)

// maxBlocks bounds a Record to 2^24 basic blocks; exceeding it is an
// EmulatorFailure, surfaced by HitBlock
// returning an error the Execution Engine turns into that classification.
const maxBlocks = 1 << 24

// Edge is a (src_bb, dst_bb) control-flow transition.
type Edge struct {
	Src uint64
	Dst uint64
}

// bucketBounds are the upper bounds of the eight logarithmic buckets:
// 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+.
var bucketBounds = [7]uint64{1, 2, 3, 7, 15, 31, 127}

// Bucket maps a raw hit count to its 8-bit logarithmic bucket index.
func Bucket(count uint64) uint8 {
	for i, bound := range bucketBounds {
		if count <= bound {
			return uint8(i)
		}
	}
	return uint8(len(bucketBounds))
}

// Record is the set of translation-block start addresses observed in
// one execution, plus the bucketed edge-hit map. A Record is mutable
// while the owning execution runs and frozen once it completes.
type Record struct {
	blocks   map[uint64]struct{}
	edgeHits map[Edge]uint64
	frozen   bool
}

// NewRecord creates an empty, unfrozen Record.
func NewRecord() *Record {
	return &Record{
		blocks:   make(map[uint64]struct{}),
		edgeHits: make(map[Edge]uint64),
	}
}

// HitBlock records a basic-block start address. It fails once the
// 2^24 bound is exceeded or the record has been frozen.
func (r *Record) HitBlock(addr uint64) error {
	if r.frozen {
		return fmt.Errorf("coverage: record is frozen")
	}
	if _, ok := r.blocks[addr]; !ok && len(r.blocks) >= maxBlocks {
		return fmt.Errorf("coverage: basic block count exceeds %d bound", maxBlocks)
	}
	r.blocks[addr] = struct{}{}
	return nil
}

// HitEdge records a control-flow transition.
func (r *Record) HitEdge(src, dst uint64) error {
	if r.frozen {
		return fmt.Errorf("coverage: record is frozen")
	}
	r.edgeHits[Edge{Src: src, Dst: dst}]++
	return nil
}

// Freeze marks the record immutable; subsequent Hit* calls fail.
func (r *Record) Freeze() { r.frozen = true }

// Frozen reports whether the record has been frozen.
func (r *Record) Frozen() bool { return r.frozen }

// Blocks returns the set of hit basic-block addresses.
func (r *Record) Blocks() map[uint64]struct{} { return r.blocks }

// EdgeBucket returns the bucket index for an edge (0 if never hit —
// callers distinguish "never hit" from "bucket 0" via Blocks/edge
// presence where that matters).
func (r *Record) EdgeBucket(e Edge) uint8 {
	return Bucket(r.edgeHits[e])
}

// Edges returns every edge this record hit, with its bucket.
func (r *Record) Edges() map[Edge]uint8 {
	out := make(map[Edge]uint8, len(r.edgeHits))
	for e, count := range r.edgeHits {
		out[e] = Bucket(count)
	}
	return out
}

// Baseline is the union of coverage records over all admitted corpus
// entries — the set novelty is judged against.
type Baseline struct {
	blocks      map[uint64]struct{}
	edgeBuckets map[Edge]uint8
}

// NewBaseline creates an empty baseline.
func NewBaseline() *Baseline {
	return &Baseline{
		blocks:      make(map[uint64]struct{}),
		edgeBuckets: make(map[Edge]uint8),
	}
}

// IsNovel reports whether r hits a basic block absent from the
// baseline, or pushes any edge into a higher bucket than recorded.
// bonus is the count of newly-contributed baseline bits (new blocks
// plus edge bucket promotions), used by the Scheduler's
// novelty_bonus term.
func (b *Baseline) IsNovel(r *Record) (novel bool, bonus int) {
	for addr := range r.blocks {
		if _, ok := b.blocks[addr]; !ok {
			novel = true
			bonus++
		}
	}
	for e, bucket := range r.Edges() {
		if existing, ok := b.edgeBuckets[e]; !ok || bucket > existing {
			novel = true
			bonus++
		}
	}
	return novel, bonus
}

// Merge folds r into the baseline. Callers must hold whatever lock
// protects admission ordering; Merge itself does no locking since the
// engine runs single-threaded and admission is the only caller.
func (b *Baseline) Merge(r *Record) {
	for addr := range r.blocks {
		b.blocks[addr] = struct{}{}
	}
	for e, bucket := range r.Edges() {
		if existing, ok := b.edgeBuckets[e]; !ok || bucket > existing {
			b.edgeBuckets[e] = bucket
		}
	}
}

// Covers reports whether the baseline already records, at or above
// bucket level, every edge present in other — the superset check
// required before admitting a child relative to its parent's
// contribution.
func (b *Baseline) Covers(other *Record) bool {
	for e, bucket := range other.Edges() {
		if existing, ok := b.edgeBuckets[e]; !ok || existing < bucket {
			return false
		}
	}
	return true
}

// BlockCount and EdgeCount report baseline size for statistics/reports.
func (b *Baseline) BlockCount() int { return len(b.blocks) }
func (b *Baseline) EdgeCount() int  { return len(b.edgeBuckets) }

// SupersetOf reports whether r's bucketed edges are, bucket for
// bucket, at least as high as parent's — the admission-time
// regression check requiring every admitted entry's Coverage to be a
// superset (by bucket) of what its parent contributed.
func (r *Record) SupersetOf(parent *Record) bool {
	if parent == nil {
		return true
	}
	for addr := range parent.blocks {
		if _, ok := r.blocks[addr]; !ok {
			return false
		}
	}
	for e, bucket := range parent.Edges() {
		if r.EdgeBucket(e) < bucket {
			return false
		}
	}
	return true
}
