package archive

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/oracle"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	header := Header{Version: 1, FirmwareID: "sensor-v3", CreatedAt: 1_700_000_000}
	inputUUID := uuid.New()
	inputRec := InputRecord{UUID: inputUUID, Generation: 2, Reason: 1, Streams: []byte{0xAA, 0xBB}}
	covRec := CoverageRecord{
		UUID:        inputUUID,
		BasicBlocks: []uint64{0x1000, 0x2000},
		Edges:       []coverage.Edge{{Src: 0x1000, Dst: 0x2000}},
	}
	crashRec := CrashRecord{UUID: uuid.New(), Classification: oracle.Fault(oracle.BusError, 0x3000)}
	statsRec := StatsRecord{Timestamp: 1_700_000_100, Executions: 42, Crashes: 1, CorpusSize: 7, BasicBlocks: 100, Edges: 50}

	if err := w.WriteHeader(header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := w.WriteInput(inputRec); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	if err := w.WriteCoverage(covRec); err != nil {
		t.Fatalf("WriteCoverage: %v", err)
	}
	if err := w.WriteCrash(crashRec); err != nil {
		t.Fatalf("WriteCrash: %v", err)
	}
	if err := w.WriteStats(statsRec); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	kind, payload, err := r.Next()
	if err != nil || kind != KindHeader {
		t.Fatalf("expected Header record, got kind=%v err=%v", kind, err)
	}
	gotHeader, err := DecodeHeader(payload)
	if err != nil || gotHeader != header {
		t.Fatalf("header round trip mismatch: got %+v err %v", gotHeader, err)
	}

	kind, payload, err = r.Next()
	if err != nil || kind != KindInput {
		t.Fatalf("expected Input record, got kind=%v err=%v", kind, err)
	}
	gotInput, err := DecodeInput(payload)
	if err != nil {
		t.Fatalf("DecodeInput: %v", err)
	}
	if gotInput.UUID != inputRec.UUID || gotInput.Generation != inputRec.Generation ||
		!bytes.Equal(gotInput.Streams, inputRec.Streams) {
		t.Errorf("input round trip mismatch: got %+v want %+v", gotInput, inputRec)
	}

	kind, payload, err = r.Next()
	if err != nil || kind != KindCoverage {
		t.Fatalf("expected Coverage record, got kind=%v err=%v", kind, err)
	}
	gotCov, err := DecodeCoverage(payload)
	if err != nil {
		t.Fatalf("DecodeCoverage: %v", err)
	}
	if len(gotCov.BasicBlocks) != 2 || len(gotCov.Edges) != 1 {
		t.Errorf("coverage round trip mismatch: got %+v", gotCov)
	}

	kind, payload, err = r.Next()
	if err != nil || kind != KindCrash {
		t.Fatalf("expected Crash record, got kind=%v err=%v", kind, err)
	}
	gotCrash, err := DecodeCrash(payload)
	if err != nil || gotCrash.Classification.Fingerprint() != crashRec.Classification.Fingerprint() {
		t.Errorf("crash round trip mismatch: got %+v err %v", gotCrash, err)
	}

	kind, payload, err = r.Next()
	if err != nil || kind != KindStats {
		t.Fatalf("expected Stats record, got kind=%v err=%v", kind, err)
	}
	gotStats, err := DecodeStats(payload)
	if err != nil || gotStats != statsRec {
		t.Fatalf("stats round trip mismatch: got %+v err %v", gotStats, err)
	}

	if _, _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after last record, got %v", err)
	}
}

func TestContentHashIsDeterministic(t *testing.T) {
	a := ContentHash([]byte("same bytes"))
	b := ContentHash([]byte("same bytes"))
	if a != b {
		t.Errorf("expected identical content to hash identically")
	}
	if ContentHash([]byte("different")) == a {
		t.Errorf("expected different content to hash differently")
	}
}
