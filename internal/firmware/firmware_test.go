package firmware

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/hoedur/hoedur/internal/config"
)

func testFirmware() *config.Firmware {
	return &config.Firmware{
		EntryPoint: 0x08000000,
		MemoryMap: []config.MemoryRegion{
			{Name: "flash", Base: 0x08000000, Size: 0x10000, Kind: config.KindROM},
			{Name: "sram", Base: 0x20000000, Size: 0x8000, Kind: config.KindRAM},
		},
	}
}

func TestLoadRawPlacesAtROMBase(t *testing.T) {
	img, err := loadRaw([]byte{0xde, 0xad, 0xbe, 0xef}, testFirmware())
	if err != nil {
		t.Fatalf("loadRaw: %v", err)
	}
	if len(img.Segments) != 1 || img.Segments[0].Addr != 0x08000000 {
		t.Fatalf("expected single segment at rom base, got %+v", img.Segments)
	}
	if img.Entry != 0x08000000 {
		t.Errorf("expected entry = config entry_point, got 0x%x", img.Entry)
	}
}

func TestLoadRawFallsBackToFirstRegion(t *testing.T) {
	fw := &config.Firmware{
		EntryPoint: 0x20000000,
		MemoryMap:  []config.MemoryRegion{{Name: "ram_only", Base: 0x20000000, Size: 0x1000, Kind: config.KindRAM}},
	}
	img, err := loadRaw([]byte{1, 2, 3}, fw)
	if err != nil {
		t.Fatalf("loadRaw: %v", err)
	}
	if img.Segments[0].Addr != 0x20000000 {
		t.Errorf("expected fallback to first region, got 0x%x", img.Segments[0].Addr)
	}
}

func TestLoadRawNoRegionsErrors(t *testing.T) {
	fw := &config.Firmware{EntryPoint: 0}
	if _, err := loadRaw([]byte{1}, fw); err == nil {
		t.Fatalf("expected error with no memory_map regions")
	}
}

func TestEntryPCClearsThumbBit(t *testing.T) {
	img := &Image{Entry: 0x08000101}
	if got := img.EntryPC(); got != 0x08000100 {
		t.Errorf("EntryPC() = 0x%x, want 0x08000100", got)
	}
}

// buildMinimalARMELF constructs a one-segment ELF32/EM_ARM executable
// by hand (the stdlib has no ELF encoder), matching just enough of the
// format for debug/elf to parse a single PT_LOAD segment.
func buildMinimalARMELF(t *testing.T, vaddr uint32, payload []byte) []byte {
	t.Helper()
	const ehdrSize = 52
	const phdrSize = 32

	var buf bytes.Buffer
	ident := []byte{0x7f, 'E', 'L', 'F', 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	buf.Write(ident)
	binary.Write(&buf, binary.LittleEndian, uint16(2))          // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(40))         // e_machine = EM_ARM
	binary.Write(&buf, binary.LittleEndian, uint32(1))          // e_version
	binary.Write(&buf, binary.LittleEndian, uint32(vaddr))      // e_entry
	binary.Write(&buf, binary.LittleEndian, uint32(ehdrSize))   // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))          // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehdrSize))   // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phdrSize))   // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))          // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))          // e_shstrndx

	dataOff := uint32(ehdrSize + phdrSize)
	binary.Write(&buf, binary.LittleEndian, uint32(1))            // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, uint32(dataOff))      // p_offset
	binary.Write(&buf, binary.LittleEndian, uint32(vaddr))        // p_vaddr
	binary.Write(&buf, binary.LittleEndian, uint32(vaddr))        // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload))) // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)+16)) // p_memsz (.bss tail)
	binary.Write(&buf, binary.LittleEndian, uint32(5))            // p_flags = R+X
	binary.Write(&buf, binary.LittleEndian, uint32(4))            // p_align

	buf.Write(payload)
	return buf.Bytes()
}

func TestLoadELFSingleSegment(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	data := buildMinimalARMELF(t, 0x08000000, payload)

	img, err := loadELF(data)
	if err != nil {
		t.Fatalf("loadELF: %v", err)
	}
	if img.Entry != 0x08000000 {
		t.Errorf("entry = 0x%x, want 0x08000000", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(img.Segments))
	}
	seg := img.Segments[0]
	if seg.Addr != 0x08000000 {
		t.Errorf("segment addr = 0x%x, want 0x08000000", seg.Addr)
	}
	if len(seg.Data) != len(payload)+16 {
		t.Fatalf("expected memsz-length segment with zeroed bss tail, got %d bytes", len(seg.Data))
	}
	if !bytes.Equal(seg.Data[:len(payload)], payload) {
		t.Errorf("segment file-backed bytes mismatch: got %v", seg.Data[:len(payload)])
	}
	for _, b := range seg.Data[len(payload):] {
		if b != 0 {
			t.Fatalf("expected zeroed .bss tail, found %v", seg.Data[len(payload):])
		}
	}
}

func TestLoadELFRejectsWrongMachine(t *testing.T) {
	data := buildMinimalARMELF(t, 0x1000, []byte{0})
	data[18] = 0xB7 // e_machine low byte -> EM_AARCH64 (183), not EM_ARM
	if _, err := loadELF(data); err == nil {
		t.Fatalf("expected rejection of non-EM_ARM machine")
	}
}

func TestIsELFDetection(t *testing.T) {
	if !isELF([]byte{0x7f, 'E', 'L', 'F', 1, 1}) {
		t.Errorf("expected ELF magic detected")
	}
	if isELF([]byte{0x00, 0x01, 0x02}) {
		t.Errorf("expected raw binary not detected as ELF")
	}
}
