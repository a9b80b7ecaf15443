// Package archive implements the on-disk Archive Format: a
// zstd-compressed, framed concatenation of length-prefixed records,
// used by Corpus.SnapshotToArchive/LoadFromArchive for batched,
// compressed persistence. Records are keyed by Input UUID, not by a
// hash of their content.
package archive

import (
	"github.com/google/uuid"

	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/oracle"
)

// Kind tags a record ahead of its varint length prefix.
type Kind byte

const (
	KindHeader Kind = iota + 1
	KindInput
	KindCoverage
	KindCrash
	KindStats
	KindStreamTable
)

func (k Kind) String() string {
	switch k {
	case KindHeader:
		return "Header"
	case KindInput:
		return "Input"
	case KindCoverage:
		return "Coverage"
	case KindCrash:
		return "Crash"
	case KindStats:
		return "Stats"
	case KindStreamTable:
		return "StreamTable"
	default:
		return "Unknown"
	}
}

// Header opens an archive: format version, which firmware config it
// was produced against, and when.
type Header struct {
	Version    uint32
	FirmwareID string
	CreatedAt  int64 // unix seconds
}

// InputRecord archives one corpus Input's provenance plus its
// serialized stream bytes (internal/input.Serialize output).
type InputRecord struct {
	UUID       uuid.UUID
	ParentUUID uuid.UUID // uuid.Nil if this is a seed/root input
	Generation uint32
	Reason     byte // internal/input.Reason, stored as a raw byte to avoid an import cycle
	Streams    []byte
}

// CoverageRecord archives the coverage a given Input contributed.
type CoverageRecord struct {
	UUID        uuid.UUID
	BasicBlocks []uint64
	Edges       []coverage.Edge
}

// CrashRecord archives a classified crash.
type CrashRecord struct {
	UUID           uuid.UUID
	Classification oracle.Classification
}

// StatsRecord archives a point-in-time Statistics snapshot, as
// reported by internal/stats.
type StatsRecord struct {
	Timestamp   int64
	Executions  uint64
	Crashes     uint64
	CorpusSize  uint64
	BasicBlocks uint64
	Edges       uint64
}

// StreamDefRecord archives one internal/stream.Def, so a reloaded
// campaign's Stream Set matches what was actually discovered during
// the run that produced the archive rather than only what the
// firmware config declared up front: newly discovered streams may be
// persisted to the archive. Fields are the plain wire shape of
// stream.Def; internal/stream owns the
// conversion to/from its own types so this package has no import on
// internal/stream.
type StreamDefRecord struct {
	Category       byte
	Index          uint64
	Name           string
	Alphabet       byte // bitmask over stream.ChunkKind values
	DefaultPolicy  byte
	MutationWeight float64
}
