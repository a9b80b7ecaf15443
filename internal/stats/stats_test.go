package stats

import (
	"testing"

	"github.com/hoedur/hoedur/internal/corpus"
	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/oracle"
)

func TestRecordExecutionAndCrash(t *testing.T) {
	s := New()
	s.RecordExecution()
	s.RecordExecution()
	s.RecordCrash()

	if s.Executions() != 2 {
		t.Errorf("expected 2 executions, got %d", s.Executions())
	}
	if s.Crashes() != 1 {
		t.Errorf("expected 1 crash, got %d", s.Crashes())
	}
}

func TestSnapshotReflectsCorpus(t *testing.T) {
	s := New()
	s.RecordExecution()

	c := corpus.New()
	cov := coverage.NewRecord()
	_ = cov.HitBlock(0x1000)
	cov.Freeze()
	in := input.NewEmpty()
	c.Admit(in, nil, cov, oracle.OkResult(), 10)

	snap := s.Snapshot(c)
	if snap.CorpusSize != 1 {
		t.Errorf("expected corpus size 1, got %d", snap.CorpusSize)
	}
	if snap.BasicBlock != 1 {
		t.Errorf("expected 1 baseline block, got %d", snap.BasicBlock)
	}
	if snap.Executions != 1 {
		t.Errorf("expected 1 recorded execution, got %d", snap.Executions)
	}
}

func TestArchiveRecordRoundTrip(t *testing.T) {
	snap := Snapshot{Executions: 10, Crashes: 2, CorpusSize: 5, BasicBlock: 100, Edges: 50}
	rec := snap.ArchiveRecord(1_700_000_000)
	if rec.Executions != 10 || rec.Crashes != 2 || rec.CorpusSize != 5 || rec.BasicBlocks != 100 || rec.Edges != 50 {
		t.Errorf("unexpected archive record: %+v", rec)
	}
}
