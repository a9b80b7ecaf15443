// Package config loads and validates the firmware configuration that
// drives a hoedur campaign: CPU variant, memory map, entry/fuzz-start
// addresses, stream definitions, and run limits.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hoedur/hoedur/internal/errs"
)

// Address is a little-endian target address. It unmarshals from either
// a YAML integer or a "0x..." hex string, since firmware configs are
// written by humans who think in hex.
type Address uint64

// UnmarshalYAML accepts both numeric and "0x..." hex scalars.
func (a *Address) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		var n uint64
		if err2 := value.Decode(&n); err2 != nil {
			return fmt.Errorf("address: %w", err)
		}
		*a = Address(n)
		return nil
	}
	raw = strings.TrimSpace(raw)
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
		base = 16
	}
	n, err := strconv.ParseUint(raw, base, 64)
	if err != nil {
		return fmt.Errorf("address %q: %w", raw, err)
	}
	*a = Address(n)
	return nil
}

// MemoryKind classifies a memory_map region.
type MemoryKind string

const (
	KindRAM  MemoryKind = "ram"
	KindROM  MemoryKind = "rom"
	KindMMIO MemoryKind = "mmio"
)

// MemoryRegion is one entry of the `memory_map` list.
type MemoryRegion struct {
	Name string     `yaml:"name"`
	Base Address    `yaml:"base"`
	Size uint64     `yaml:"size"`
	Kind MemoryKind `yaml:"kind"`
}

// End returns the exclusive end address of the region.
func (r MemoryRegion) End() uint64 { return uint64(r.Base) + r.Size }

// Contains reports whether addr falls within the region.
func (r MemoryRegion) Contains(addr uint64) bool {
	return addr >= uint64(r.Base) && addr < r.End()
}

// DefaultPolicy controls stream-exhaustion behavior.
type DefaultPolicy string

const (
	PolicyZero DefaultPolicy = "zero"
	PolicyStop DefaultPolicy = "stop"
)

// StreamConfig is one entry of the `streams` list.
type StreamConfig struct {
	ID             string        `yaml:"id"`
	Category       string        `yaml:"category"`
	DefaultPolicy  DefaultPolicy `yaml:"default_policy"`
	MutationWeight float64       `yaml:"mutation_weight"`
	ChunkAlphabet  []string      `yaml:"chunk_alphabet"`
}

// Firmware is the parsed, validated firmware configuration.
type Firmware struct {
	Image            string         `yaml:"image"` // path to the .bin/.elf image, resolved relative to the config file by Load
	CPU              string         `yaml:"cpu"`
	MemoryMap        []MemoryRegion `yaml:"memory_map"`
	EntryPoint       Address        `yaml:"entry_point"`
	FuzzStartAddress Address        `yaml:"fuzz_start_address"`
	FuzzEndAddresses []Address      `yaml:"fuzz_end_addresses"`
	CostLimit        uint64         `yaml:"cost_limit"`
	TimeoutMS        uint64         `yaml:"timeout_ms"`
	Streams          []StreamConfig `yaml:"streams"`
	SeedInputs       []string       `yaml:"seed_inputs"`
}

const (
	defaultCostLimit = 10_000_000
	defaultTimeoutMS = 1000
)

var knownCPUs = map[string]bool{
	"cortex-m0": true, "cortex-m0plus": true, "cortex-m3": true,
	"cortex-m4": true, "cortex-m7": true, "cortex-m33": true,
}

// Load reads and validates a firmware configuration from path. A
// relative `image` path is resolved against path's directory, so
// configs are portable regardless of the caller's working directory.
func Load(path string) (*Firmware, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.Configuration, "config.Load", err)
	}
	fw, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if fw.Image != "" && !filepath.IsAbs(fw.Image) {
		fw.Image = filepath.Join(filepath.Dir(path), fw.Image)
	}
	return fw, nil
}

// Parse validates and applies defaults to a raw YAML document.
func Parse(data []byte) (*Firmware, error) {
	var fw Firmware
	if err := yaml.Unmarshal(data, &fw); err != nil {
		return nil, errs.New(errs.Configuration, "config.Parse", err)
	}

	if fw.CostLimit == 0 {
		fw.CostLimit = defaultCostLimit
	}
	if fw.TimeoutMS == 0 {
		fw.TimeoutMS = defaultTimeoutMS
	}
	for i := range fw.Streams {
		if fw.Streams[i].DefaultPolicy == "" {
			fw.Streams[i].DefaultPolicy = PolicyZero
		}
		if fw.Streams[i].MutationWeight == 0 {
			fw.Streams[i].MutationWeight = 1.0
		}
	}

	if err := fw.validate(); err != nil {
		return nil, errs.New(errs.Configuration, "config.Parse", err)
	}
	return &fw, nil
}

func (fw *Firmware) validate() error {
	if fw.Image == "" {
		return fmt.Errorf("image must not be empty")
	}
	if fw.CPU != "" && !knownCPUs[fw.CPU] {
		return fmt.Errorf("unknown cpu variant %q", fw.CPU)
	}
	if len(fw.MemoryMap) == 0 {
		return fmt.Errorf("memory_map must not be empty")
	}
	for i, r := range fw.MemoryMap {
		if r.Size == 0 {
			return fmt.Errorf("memory_map[%d] %q: size must be > 0", i, r.Name)
		}
		switch r.Kind {
		case KindRAM, KindROM, KindMMIO:
		default:
			return fmt.Errorf("memory_map[%d] %q: invalid kind %q", i, r.Name, r.Kind)
		}
		for j, other := range fw.MemoryMap {
			if i == j {
				continue
			}
			if uint64(r.Base) < other.End() && uint64(other.Base) < r.End() {
				return fmt.Errorf("memory_map[%d] %q overlaps memory_map[%d] %q", i, r.Name, j, other.Name)
			}
		}
	}
	if !fw.addressMapped(uint64(fw.EntryPoint)) {
		return fmt.Errorf("entry_point 0x%x not contained in any memory_map region", fw.EntryPoint)
	}
	if fw.CostLimit == 0 {
		return fmt.Errorf("cost_limit must be > 0")
	}
	seen := make(map[string]bool, len(fw.Streams))
	for i, s := range fw.Streams {
		if s.ID == "" {
			return fmt.Errorf("streams[%d]: id must not be empty", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("streams[%d]: duplicate stream id %q", i, s.ID)
		}
		seen[s.ID] = true
		switch s.DefaultPolicy {
		case PolicyZero, PolicyStop:
		default:
			return fmt.Errorf("streams[%d] %q: invalid default_policy %q", i, s.ID, s.DefaultPolicy)
		}
	}
	return nil
}

func (fw *Firmware) addressMapped(addr uint64) bool {
	for _, r := range fw.MemoryMap {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// RegionFor returns the memory_map region containing addr, if any.
func (fw *Firmware) RegionFor(addr uint64) (MemoryRegion, bool) {
	for _, r := range fw.MemoryMap {
		if r.Contains(addr) {
			return r, true
		}
	}
	return MemoryRegion{}, false
}
