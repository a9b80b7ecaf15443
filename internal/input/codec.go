package input

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/hoedur/hoedur/internal/stream"
)

// Magic and version prefix the on-disk Input format.
var magic = [4]byte{'H', 'O', 'E', 'D'}

const wireVersion = 1

// Serialize encodes an Input's streams deterministically: magic,
// version, then one record per stream ordered by (category, index,
// name) so that two Inputs with identical streams always produce
// identical bytes regardless of append order.
func (in *Input) Serialize() []byte {
	ids := append([]stream.ID(nil), in.order...)
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })

	buf := make([]byte, 0, 256)
	buf = append(buf, magic[:]...)
	buf = append(buf, wireVersion)
	buf = protowire.AppendVarint(buf, uint64(len(ids)))

	for _, id := range ids {
		buf = protowire.AppendVarint(buf, uint64(id.Category))
		buf = protowire.AppendVarint(buf, id.Index)
		buf = protowire.AppendBytes(buf, []byte(id.Name))

		chunks := in.streams[id]
		buf = protowire.AppendVarint(buf, uint64(len(chunks)))
		for _, c := range chunks {
			buf = append(buf, byte(c.Kind))
			buf = protowire.AppendBytes(buf, c.Data)
		}
	}
	return buf
}

func lessID(a, b stream.ID) bool {
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	if a.Index != b.Index {
		return a.Index < b.Index
	}
	return a.Name < b.Name
}

// Deserialize decodes bytes produced by Serialize back into an Input.
// The returned Input has a fresh UUID/Reason: on-disk stream bytes
// carry no provenance metadata by design — provenance is
// restored separately by the archive Input record that wraps this
// payload.
func Deserialize(data []byte) (*Input, error) {
	if len(data) < 5 || data[0] != magic[0] || data[1] != magic[1] || data[2] != magic[2] || data[3] != magic[3] {
		return nil, fmt.Errorf("input: missing HOED magic")
	}
	if data[4] != wireVersion {
		return nil, fmt.Errorf("input: unsupported wire version %d", data[4])
	}
	rest := data[5:]

	numStreams, n := protowire.ConsumeVarint(rest)
	if n < 0 {
		return nil, fmt.Errorf("input: truncated stream count")
	}
	rest = rest[n:]

	out := NewEmpty()
	for i := uint64(0); i < numStreams; i++ {
		cat, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			return nil, fmt.Errorf("input: truncated category")
		}
		rest = rest[n:]

		idx, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			return nil, fmt.Errorf("input: truncated index")
		}
		rest = rest[n:]

		name, n := protowire.ConsumeBytes(rest)
		if n < 0 {
			return nil, fmt.Errorf("input: truncated name")
		}
		rest = rest[n:]

		id := stream.ID{Category: stream.Category(cat), Index: idx, Name: string(name)}

		numChunks, n := protowire.ConsumeVarint(rest)
		if n < 0 {
			return nil, fmt.Errorf("input: truncated chunk count")
		}
		rest = rest[n:]

		if _, ok := out.streams[id]; !ok {
			out.order = append(out.order, id)
			out.streams[id] = []Chunk{}
		}
		for j := uint64(0); j < numChunks; j++ {
			if len(rest) < 1 {
				return nil, fmt.Errorf("input: truncated chunk kind")
			}
			kind := stream.ChunkKind(rest[0])
			rest = rest[1:]

			data, n := protowire.ConsumeBytes(rest)
			if n < 0 {
				return nil, fmt.Errorf("input: truncated chunk data")
			}
			rest = rest[n:]

			out.streams[id] = append(out.streams[id], Chunk{Kind: kind, Data: append([]byte(nil), data...)})
		}
	}
	return out, nil
}
