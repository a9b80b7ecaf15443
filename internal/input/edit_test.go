package input

import (
	"bytes"
	"testing"

	"github.com/hoedur/hoedur/internal/stream"
)

func TestRemoveChunkAt(t *testing.T) {
	def := mmioDef(0x1000)
	in := NewEmpty()
	in.Append(def, stream.KindData, []byte{1})
	in.Append(def, stream.KindData, []byte{2})
	in.Append(def, stream.KindData, []byte{3})

	if !in.RemoveChunkAt(def.ID, 1) {
		t.Fatalf("expected removal to succeed")
	}
	chunks := in.Chunks(def.ID)
	if len(chunks) != 2 || chunks[0].Data[0] != 1 || chunks[1].Data[0] != 3 {
		t.Errorf("unexpected chunks after removal: %+v", chunks)
	}
	if in.RemoveChunkAt(def.ID, 99) {
		t.Errorf("expected out-of-range removal to fail")
	}
}

func TestInsertChunkAt(t *testing.T) {
	def := mmioDef(0x1000)
	in := NewEmpty()
	in.Append(def, stream.KindData, []byte{1})
	in.Append(def, stream.KindData, []byte{3})

	in.InsertChunkAt(def.ID, 1, Chunk{Kind: stream.KindData, Data: []byte{2}})
	chunks := in.Chunks(def.ID)
	if len(chunks) != 3 || chunks[1].Data[0] != 2 {
		t.Errorf("unexpected chunks after insert: %+v", chunks)
	}
}

func TestDuplicateChunkAt(t *testing.T) {
	def := mmioDef(0x1000)
	in := NewEmpty()
	in.Append(def, stream.KindData, []byte{7})

	if !in.DuplicateChunkAt(def.ID, 0) {
		t.Fatalf("expected duplication to succeed")
	}
	chunks := in.Chunks(def.ID)
	if len(chunks) != 2 || !bytes.Equal(chunks[0].Data, chunks[1].Data) {
		t.Errorf("unexpected chunks after duplicate: %+v", chunks)
	}
}

func TestSplitChunkAt(t *testing.T) {
	def := mmioDef(0x1000)
	in := NewEmpty()
	in.Append(def, stream.KindData, []byte{1, 2, 3, 4})

	if !in.SplitChunkAt(def.ID, 0, 2) {
		t.Fatalf("expected split to succeed")
	}
	chunks := in.Chunks(def.ID)
	if len(chunks) != 2 || !bytes.Equal(chunks[0].Data, []byte{1, 2}) || !bytes.Equal(chunks[1].Data, []byte{3, 4}) {
		t.Errorf("unexpected chunks after split: %+v", chunks)
	}

	if in.SplitChunkAt(def.ID, 0, 0) {
		t.Errorf("expected split at offset 0 to be a no-op")
	}
}

func TestReplaceChunk(t *testing.T) {
	def := mmioDef(0x1000)
	in := NewEmpty()
	in.Append(def, stream.KindData, []byte{1, 2})

	in.ReplaceChunk(def.ID, 0, []byte{0xFF})
	if !bytes.Equal(in.Chunks(def.ID)[0].Data, []byte{0xFF}) {
		t.Errorf("expected chunk replaced")
	}
}
