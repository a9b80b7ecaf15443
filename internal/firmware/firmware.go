// Package firmware loads a target image — raw .bin or ELF — into an
// internal/cpu.Core, down to what a statically-linked Cortex-M image
// needs: PT_LOAD segment placement and entry point resolution.
// Firmware images carry no PLT/GOT relocations, vtables, or dynamic
// symbols to resolve.
package firmware

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/cpu"
	"github.com/hoedur/hoedur/internal/errs"
)

// Segment is one contiguous range to write into memory before run.
type Segment struct {
	Addr uint64
	Data []byte
}

// Image is a parsed firmware image ready to load.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// EntryPC is the entry address with the Thumb bit (bit 0) cleared.
// Cortex-M always executes Thumb-2, so the bit only disambiguates ARM
// ELF convention; the PC register itself never carries it.
func (img *Image) EntryPC() uint64 {
	return img.Entry &^ 1
}

// Load reads a firmware image from path, auto-detecting ELF vs. raw
// binary by magic number.
func Load(path string, fw *config.Firmware) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.Configuration, "firmware.Load", err)
	}
	if isELF(data) {
		return loadELF(data)
	}
	return loadRaw(data, fw)
}

func isELF(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F'
}

// loadRaw places a flat binary at the first rom region listed in the
// memory map (or the first region if none is tagged rom), matching how
// Cortex-M firmware blobs are conventionally linked to start of flash.
func loadRaw(data []byte, fw *config.Firmware) (*Image, error) {
	base, ok := firstLoadRegion(fw)
	if !ok {
		return nil, errs.New(errs.Configuration, "firmware.loadRaw",
			fmt.Errorf("no memory_map region to place a raw image"))
	}
	return &Image{
		Entry:    uint64(fw.EntryPoint),
		Segments: []Segment{{Addr: base, Data: data}},
	}, nil
}

func firstLoadRegion(fw *config.Firmware) (uint64, bool) {
	for _, r := range fw.MemoryMap {
		if r.Kind == config.KindROM {
			return uint64(r.Base), true
		}
	}
	if len(fw.MemoryMap) > 0 {
		return uint64(fw.MemoryMap[0].Base), true
	}
	return 0, false
}

func loadELF(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errs.New(errs.Configuration, "firmware.loadELF", fmt.Errorf("parse ELF: %w", err))
	}
	defer f.Close()

	if f.Machine != elf.EM_ARM {
		return nil, errs.New(errs.Configuration, "firmware.loadELF",
			fmt.Errorf("expected EM_ARM, got %v", f.Machine))
	}

	img := &Image{Entry: f.Entry}
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if prog.Filesz > 0 {
			if _, err := io.ReadFull(prog.Open(), buf); err != nil {
				return nil, errs.New(errs.Configuration, "firmware.loadELF",
					fmt.Errorf("read segment at 0x%x: %w", prog.Vaddr, err))
			}
		}
		full := make([]byte, prog.Memsz)
		copy(full, buf) // .bss tail (Memsz > Filesz) stays zero
		img.Segments = append(img.Segments, Segment{Addr: prog.Vaddr, Data: full})
	}
	return img, nil
}

// WriteTo writes every segment into core's memory.
func (img *Image) WriteTo(core *cpu.Core) error {
	for _, seg := range img.Segments {
		if len(seg.Data) == 0 {
			continue
		}
		if err := core.Load(seg.Data, seg.Addr); err != nil {
			return err
		}
	}
	return nil
}
