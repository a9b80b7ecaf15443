package input

import "github.com/hoedur/hoedur/internal/stream"

// ReplaceChunk overwrites the chunk at idx in stream id. Used by the
// Mutator's havoc pass.
func (in *Input) ReplaceChunk(id stream.ID, idx int, data []byte) {
	chunks := in.streams[id]
	if idx < 0 || idx >= len(chunks) {
		return
	}
	chunks[idx] = Chunk{Kind: chunks[idx].Kind, Data: append([]byte(nil), data...)}
}

// RemoveChunkAt deletes the chunk at idx in stream id, reports whether
// anything was removed. Used by the Mutator's chunk-deletion mutation
// and by Corpus.Minimize's chunk-level shrink.
func (in *Input) RemoveChunkAt(id stream.ID, idx int) bool {
	chunks := in.streams[id]
	if idx < 0 || idx >= len(chunks) {
		return false
	}
	in.streams[id] = append(chunks[:idx], chunks[idx+1:]...)
	return true
}

// InsertChunkAt inserts c before idx in stream id (idx == len(chunks)
// appends). Registers the stream if this is its first chunk.
func (in *Input) InsertChunkAt(id stream.ID, idx int, c Chunk) {
	chunks := in.streams[id]
	if _, ok := in.streams[id]; !ok {
		in.order = append(in.order, id)
	}
	if idx < 0 || idx > len(chunks) {
		idx = len(chunks)
	}
	chunks = append(chunks, Chunk{})
	copy(chunks[idx+1:], chunks[idx:])
	chunks[idx] = Chunk{Kind: c.Kind, Data: append([]byte(nil), c.Data...)}
	in.streams[id] = chunks
}

// DuplicateChunkAt copies the chunk at idx and inserts the copy
// immediately after it.
func (in *Input) DuplicateChunkAt(id stream.ID, idx int) bool {
	chunks := in.streams[id]
	if idx < 0 || idx >= len(chunks) {
		return false
	}
	in.InsertChunkAt(id, idx+1, chunks[idx])
	return true
}

// SplitChunkAt breaks the chunk at idx into two chunks of the same
// kind, dividing its data at byte offset at. A no-op if at doesn't
// fall strictly inside the chunk's data.
func (in *Input) SplitChunkAt(id stream.ID, idx int, at int) bool {
	chunks := in.streams[id]
	if idx < 0 || idx >= len(chunks) {
		return false
	}
	c := chunks[idx]
	if at <= 0 || at >= len(c.Data) {
		return false
	}
	head := Chunk{Kind: c.Kind, Data: append([]byte(nil), c.Data[:at]...)}
	tail := Chunk{Kind: c.Kind, Data: append([]byte(nil), c.Data[at:]...)}
	in.streams[id][idx] = head
	in.InsertChunkAt(id, idx+1, tail)
	return true
}

// ChunkCount returns the number of chunks in stream id.
func (in *Input) ChunkCount(id stream.ID) int {
	return len(in.streams[id])
}
