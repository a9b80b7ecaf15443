// Package stats implements the Statistics component: throughput,
// coverage, and corpus-size counters updated from the single fuzzing
// thread and read concurrently by the dashboard ticker. Counters use
// sync/atomic rather than a mutex, the same pattern syz-fuzzer uses
// for its per-proc exec/restart counters.
package stats

import (
	"sync/atomic"
	"time"

	"github.com/hoedur/hoedur/internal/archive"
	"github.com/hoedur/hoedur/internal/corpus"
)

// Stats accumulates counters over a fuzzing run. The zero value is
// ready to use.
type Stats struct {
	executions uint64
	crashes    uint64

	started time.Time
}

// New creates a Stats with its throughput clock started now.
func New() *Stats {
	return &Stats{started: time.Now()}
}

// RecordExecution increments the execution counter by one. Called
// once per completed Execution Engine run.
func (s *Stats) RecordExecution() {
	atomic.AddUint64(&s.executions, 1)
}

// RecordCrash increments the crash counter by one. Called once per
// newly-admitted crash (not on duplicate-fingerprint rejections).
func (s *Stats) RecordCrash() {
	atomic.AddUint64(&s.crashes, 1)
}

// Executions and Crashes report the running totals.
func (s *Stats) Executions() uint64 { return atomic.LoadUint64(&s.executions) }
func (s *Stats) Crashes() uint64    { return atomic.LoadUint64(&s.crashes) }

// Throughput reports executions per second since New was called.
func (s *Stats) Throughput() float64 {
	elapsed := time.Since(s.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Executions()) / elapsed
}

// Snapshot composes a point-in-time view combining this Stats'
// throughput counters with corp's current size and coverage, ready to
// archive as a StatsRecord or render on the dashboard.
type Snapshot struct {
	Executions uint64
	Crashes    uint64
	Throughput float64
	CorpusSize int
	BasicBlock uint64
	Edges      uint64
}

// Snapshot reads corp's current size and the coverage baseline it
// owns, combined with this Stats' own counters.
func (s *Stats) Snapshot(corp *corpus.Corpus) Snapshot {
	blocks, edges := corp.BaselineCounts()
	return Snapshot{
		Executions: s.Executions(),
		Crashes:    s.Crashes(),
		Throughput: s.Throughput(),
		CorpusSize: corp.Len(),
		BasicBlock: uint64(blocks),
		Edges:      uint64(edges),
	}
}

// ArchiveRecord converts a Snapshot to the wire StatsRecord written to
// the archive.
func (sn Snapshot) ArchiveRecord(timestamp int64) archive.StatsRecord {
	return archive.StatsRecord{
		Timestamp:   timestamp,
		Executions:  sn.Executions,
		Crashes:     sn.Crashes,
		CorpusSize:  uint64(sn.CorpusSize),
		BasicBlocks: sn.BasicBlock,
		Edges:       sn.Edges,
	}
}
