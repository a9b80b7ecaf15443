// Package input implements the Input Model: an ordered mapping from
// stream identifier to chunk list, plus the per-execution stream
// cursors that read it.
package input

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hoedur/hoedur/internal/stream"
)

// Reason tags why an Input was created.
type Reason int

const (
	Seed Reason = iota
	Mutated
	Spliced
	Imported
	Minimized
)

func (r Reason) String() string {
	switch r {
	case Seed:
		return "seed"
	case Mutated:
		return "mutated"
	case Spliced:
		return "spliced"
	case Imported:
		return "imported"
	case Minimized:
		return "minimized"
	default:
		return "unknown"
	}
}

// Chunk is a unit of bytes consumed from a stream; it belongs to
// exactly one stream and one input.
type Chunk struct {
	Kind stream.ChunkKind
	Data []byte
}

// Input is an ordered mapping from stream identifier to chunk list,
// plus its provenance fields.
type Input struct {
	UUID       uuid.UUID
	ParentUUID *uuid.UUID
	Generation uint64
	Reason     Reason

	order   []stream.ID
	streams map[stream.ID][]Chunk
}

// NewEmpty creates a fresh, parentless seed Input.
func NewEmpty() *Input {
	return &Input{
		UUID:    uuid.New(),
		Reason:  Seed,
		streams: make(map[stream.ID][]Chunk),
	}
}

// NewChild creates an Input descending from parent, bumping the
// generation counter and recording the creation reason.
func NewChild(parent *Input, reason Reason) *Input {
	pid := parent.UUID
	return &Input{
		UUID:       uuid.New(),
		ParentUUID: &pid,
		Generation: parent.Generation + 1,
		Reason:     reason,
		streams:    make(map[stream.ID][]Chunk),
	}
}

// Clone deep-copies an Input, preserving identity fields.
func (in *Input) Clone() *Input {
	out := &Input{
		UUID:       in.UUID,
		ParentUUID: in.ParentUUID,
		Generation: in.Generation,
		Reason:     in.Reason,
		order:      append([]stream.ID(nil), in.order...),
		streams:    make(map[stream.ID][]Chunk, len(in.streams)),
	}
	for id, chunks := range in.streams {
		cp := make([]Chunk, len(chunks))
		for i, c := range chunks {
			cp[i] = Chunk{Kind: c.Kind, Data: append([]byte(nil), c.Data...)}
		}
		out.streams[id] = cp
	}
	return out
}

// StreamIDs returns the streams referenced by this Input, in the
// order they were first appended (used for deterministic iteration
// and serialization).
func (in *Input) StreamIDs() []stream.ID {
	return append([]stream.ID(nil), in.order...)
}

// Chunks returns the chunk list for a stream, or nil if unreferenced.
func (in *Input) Chunks(id stream.ID) []Chunk {
	return in.streams[id]
}

// Append adds a chunk to the named stream. It fails if kind is not
// permitted by def's alphabet.
func (in *Input) Append(def *stream.Def, kind stream.ChunkKind, data []byte) error {
	if !def.AllowsKind(kind) {
		return fmt.Errorf("chunk kind %d not permitted for stream %s", kind, def.ID)
	}
	if _, ok := in.streams[def.ID]; !ok {
		in.order = append(in.order, def.ID)
	}
	cp := append([]byte(nil), data...)
	in.streams[def.ID] = append(in.streams[def.ID], Chunk{Kind: kind, Data: cp})
	return nil
}

// concatenated returns the flattened byte buffer for a stream — the
// space that a cursor's offset indexes into.
func (in *Input) concatenated(id stream.ID) []byte {
	chunks := in.streams[id]
	if len(chunks) == 0 {
		return nil
	}
	total := 0
	for _, c := range chunks {
		total += len(c.Data)
	}
	buf := make([]byte, 0, total)
	for _, c := range chunks {
		buf = append(buf, c.Data...)
	}
	return buf
}

// Len reports the total byte length of a stream's concatenated chunks.
func (in *Input) Len(id stream.ID) int {
	return len(in.concatenated(id))
}
