// Package stream implements the Stream Set: a process-wide registry
// binding stream identifiers to (chunk-kind alphabet, default policy,
// mutation weight), populated once at startup from firmware config and
// grown dynamically as the firmware accesses previously unseen MMIO
// addresses.
package stream

import (
	"fmt"
)

// Category differentiates the default policy and allowed chunk kinds
// for a stream.
type Category int

const (
	Interrupt Category = iota
	MMIO
	DMA
	Random
	Custom
)

func (c Category) String() string {
	switch c {
	case Interrupt:
		return "interrupt"
	case MMIO:
		return "mmio"
	case DMA:
		return "dma"
	case Random:
		return "random"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ID is a typed tag: (category, index) where index disambiguates
// multiple streams of the same category (an MMIO address or an
// interrupt vector slot). Custom streams carry index 0 and are told
// apart by Name.
type ID struct {
	Category Category
	Index    uint64
	Name     string // set for Custom streams, informational otherwise
}

// MMIOAddress builds the stream ID for an MMIO register range.
func MMIOAddress(addr uint64) ID { return ID{Category: MMIO, Index: addr} }

// InterruptVector builds the stream ID for an NVIC vector table entry.
func InterruptVector(vector uint64) ID { return ID{Category: Interrupt, Index: vector} }

// String renders a stable, human-readable key.
func (id ID) String() string {
	if id.Category == Custom && id.Name != "" {
		return fmt.Sprintf("custom:%s", id.Name)
	}
	return fmt.Sprintf("%s:0x%x", id.Category, id.Index)
}

// Policy controls what happens when a stream's cursor passes the end
// of its chunk list: Zero returns a default fill, Stop terminates the
// execution with InputExhausted.
type Policy int

const (
	PolicyZero Policy = iota
	PolicyStop
)

// ChunkKind is a stream-dependent tag on a chunk of bytes.
type ChunkKind byte

const (
	// KindData is a plain byte payload, valid for every category.
	KindData ChunkKind = iota
	// KindVector is an interrupt-stream chunk whose first byte encodes
	// a vector number.
	KindVector
	// KindWord tags an MMIO read value; chunk length is not checked
	// against it.
	KindWord
)

// Def is the registered definition of one stream.
type Def struct {
	ID             ID
	Alphabet       map[ChunkKind]bool
	DefaultPolicy  Policy
	MutationWeight float64
}

// AllowsKind reports whether kind is permitted for this stream.
func (d Def) AllowsKind(kind ChunkKind) bool {
	if d.Alphabet == nil {
		return kind == KindData
	}
	return d.Alphabet[kind]
}

// defaultAlphabet returns the allowed chunk kinds for a category when
// the config doesn't narrow it explicitly.
func defaultAlphabet(cat Category) map[ChunkKind]bool {
	switch cat {
	case Interrupt:
		return map[ChunkKind]bool{KindVector: true}
	case MMIO:
		return map[ChunkKind]bool{KindData: true, KindWord: true}
	default:
		return map[ChunkKind]bool{KindData: true}
	}
}

func defaultPolicyFor(cat Category) Policy {
	switch cat {
	case Interrupt:
		return PolicyZero
	default:
		return PolicyZero
	}
}
