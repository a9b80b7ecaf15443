package archive

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/oracle"
)

func encodeHeader(h Header) []byte {
	buf := protowire.AppendVarint(nil, uint64(h.Version))
	buf = protowire.AppendBytes(buf, []byte(h.FirmwareID))
	buf = protowire.AppendVarint(buf, uint64(h.CreatedAt))
	return buf
}

func decodeHeader(data []byte) (Header, error) {
	var h Header
	version, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return h, fmt.Errorf("archive: truncated header version")
	}
	data = data[n:]

	firmwareID, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return h, fmt.Errorf("archive: truncated header firmware_id")
	}
	data = data[n:]

	createdAt, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return h, fmt.Errorf("archive: truncated header created_at")
	}

	h.Version = uint32(version)
	h.FirmwareID = string(firmwareID)
	h.CreatedAt = int64(createdAt)
	return h, nil
}

func encodeInput(r InputRecord) []byte {
	buf := protowire.AppendBytes(nil, r.UUID[:])
	buf = protowire.AppendBytes(buf, r.ParentUUID[:])
	buf = protowire.AppendVarint(buf, uint64(r.Generation))
	buf = append(buf, r.Reason)
	buf = protowire.AppendBytes(buf, r.Streams)
	return buf
}

func decodeInput(data []byte) (InputRecord, error) {
	var r InputRecord
	idBytes, n := protowire.ConsumeBytes(data)
	if n < 0 || len(idBytes) != 16 {
		return r, fmt.Errorf("archive: truncated input uuid")
	}
	data = data[n:]
	copy(r.UUID[:], idBytes)

	parentBytes, n := protowire.ConsumeBytes(data)
	if n < 0 || len(parentBytes) != 16 {
		return r, fmt.Errorf("archive: truncated input parent_uuid")
	}
	data = data[n:]
	copy(r.ParentUUID[:], parentBytes)

	gen, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated input generation")
	}
	data = data[n:]
	r.Generation = uint32(gen)

	if len(data) < 1 {
		return r, fmt.Errorf("archive: truncated input reason")
	}
	r.Reason = data[0]
	data = data[1:]

	streams, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated input streams")
	}
	r.Streams = append([]byte(nil), streams...)
	return r, nil
}

func encodeCoverage(r CoverageRecord) []byte {
	buf := protowire.AppendBytes(nil, r.UUID[:])
	buf = protowire.AppendVarint(buf, uint64(len(r.BasicBlocks)))
	for _, addr := range r.BasicBlocks {
		buf = protowire.AppendVarint(buf, addr)
	}
	buf = protowire.AppendVarint(buf, uint64(len(r.Edges)))
	for _, e := range r.Edges {
		buf = protowire.AppendVarint(buf, e.Src)
		buf = protowire.AppendVarint(buf, e.Dst)
	}
	return buf
}

func decodeCoverage(data []byte) (CoverageRecord, error) {
	var r CoverageRecord
	idBytes, n := protowire.ConsumeBytes(data)
	if n < 0 || len(idBytes) != 16 {
		return r, fmt.Errorf("archive: truncated coverage uuid")
	}
	data = data[n:]
	copy(r.UUID[:], idBytes)

	numBlocks, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated coverage block count")
	}
	data = data[n:]
	r.BasicBlocks = make([]uint64, 0, numBlocks)
	for i := uint64(0); i < numBlocks; i++ {
		addr, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return r, fmt.Errorf("archive: truncated coverage block")
		}
		data = data[n:]
		r.BasicBlocks = append(r.BasicBlocks, addr)
	}

	numEdges, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated coverage edge count")
	}
	data = data[n:]
	r.Edges = make([]coverage.Edge, 0, numEdges)
	for i := uint64(0); i < numEdges; i++ {
		src, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return r, fmt.Errorf("archive: truncated coverage edge src")
		}
		data = data[n:]
		dst, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return r, fmt.Errorf("archive: truncated coverage edge dst")
		}
		data = data[n:]
		r.Edges = append(r.Edges, coverage.Edge{Src: src, Dst: dst})
	}
	return r, nil
}

func encodeCrash(r CrashRecord) []byte {
	buf := protowire.AppendBytes(nil, r.UUID[:])
	c := r.Classification
	buf = append(buf, byte(c.Kind), byte(c.HardFaultReason))
	buf = protowire.AppendVarint(buf, c.RomWriteAddr)
	buf = protowire.AppendVarint(buf, c.RomWritePC)
	buf = protowire.AppendVarint(buf, c.TopOfStackPC)
	return buf
}

func decodeCrash(data []byte) (CrashRecord, error) {
	var r CrashRecord
	idBytes, n := protowire.ConsumeBytes(data)
	if n < 0 || len(idBytes) != 16 {
		return r, fmt.Errorf("archive: truncated crash uuid")
	}
	data = data[n:]
	copy(r.UUID[:], idBytes)

	if len(data) < 2 {
		return r, fmt.Errorf("archive: truncated crash classification tag")
	}
	r.Classification.Kind = oracle.Kind(data[0])
	r.Classification.HardFaultReason = oracle.HardFaultReason(data[1])
	data = data[2:]

	addr, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated crash rom_write_addr")
	}
	data = data[n:]
	r.Classification.RomWriteAddr = addr

	pc, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated crash rom_write_pc")
	}
	data = data[n:]
	r.Classification.RomWritePC = pc

	top, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated crash top_of_stack_pc")
	}
	r.Classification.TopOfStackPC = top
	return r, nil
}

func encodeStreamDef(r StreamDefRecord) []byte {
	buf := append([]byte(nil), r.Category)
	buf = protowire.AppendVarint(buf, r.Index)
	buf = protowire.AppendBytes(buf, []byte(r.Name))
	buf = append(buf, r.Alphabet, r.DefaultPolicy)
	buf = protowire.AppendFixed64(buf, math.Float64bits(r.MutationWeight))
	return buf
}

func decodeStreamDef(data []byte) (StreamDefRecord, error) {
	var r StreamDefRecord
	if len(data) < 1 {
		return r, fmt.Errorf("archive: truncated stream_table category")
	}
	r.Category = data[0]
	data = data[1:]

	index, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated stream_table index")
	}
	data = data[n:]
	r.Index = index

	name, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated stream_table name")
	}
	data = data[n:]
	r.Name = string(name)

	if len(data) < 2 {
		return r, fmt.Errorf("archive: truncated stream_table alphabet/policy")
	}
	r.Alphabet = data[0]
	r.DefaultPolicy = data[1]
	data = data[2:]

	weight, n := protowire.ConsumeFixed64(data)
	if n < 0 {
		return r, fmt.Errorf("archive: truncated stream_table mutation_weight")
	}
	r.MutationWeight = math.Float64frombits(weight)
	return r, nil
}

func encodeStats(r StatsRecord) []byte {
	buf := protowire.AppendVarint(nil, uint64(r.Timestamp))
	buf = protowire.AppendVarint(buf, r.Executions)
	buf = protowire.AppendVarint(buf, r.Crashes)
	buf = protowire.AppendVarint(buf, r.CorpusSize)
	buf = protowire.AppendVarint(buf, r.BasicBlocks)
	buf = protowire.AppendVarint(buf, r.Edges)
	return buf
}

func decodeStats(data []byte) (StatsRecord, error) {
	var r StatsRecord
	var ts, exec, crashes, corpusSize, blocks, edges uint64
	for i, field := range []*uint64{&ts, &exec, &crashes, &corpusSize, &blocks, &edges} {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return r, fmt.Errorf("archive: truncated stats field %d", i)
		}
		data = data[n:]
		*field = v
	}
	r.Timestamp = int64(ts)
	r.Executions = exec
	r.Crashes = crashes
	r.CorpusSize = corpusSize
	r.BasicBlocks = blocks
	r.Edges = edges
	return r, nil
}
