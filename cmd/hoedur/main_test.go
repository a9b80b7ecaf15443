package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/errs"
	"github.com/hoedur/hoedur/internal/input"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"interrupted", errInterrupted, 130},
		{"wrapped interrupted", errors.New("wrap: " + errInterrupted.Error()), 1}, // string wrap, not errors.Is-linked
		{"classification exit", &classificationExit{code: 4}, 4},
		{"configuration", errs.New(errs.Configuration, "cmd.test", errors.New("bad")), 2},
		{"archive io", errs.New(errs.ArchiveIO, "cmd.test", errors.New("bad")), 3},
		{"emulator failure", errs.New(errs.EmulatorFailure, "cmd.test", errors.New("bad")), 4},
		{"input corrupt", errs.New(errs.InputCorrupt, "cmd.test", errors.New("bad")), 1},
		{"plain error", errors.New("boom"), 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := exitCodeFor(c.err); got != c.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
			}
		})
	}
}

func TestExitCodeForWrappedInterrupted(t *testing.T) {
	wrapped := fmt.Errorf("campaign: %w", errInterrupted)
	if got := exitCodeFor(wrapped); got != 130 {
		t.Errorf("exitCodeFor(wrapped errInterrupted) = %d, want 130", got)
	}
}

func TestSplitSeedDeterministic(t *testing.T) {
	a := splitSeed(42, 3)
	b := splitSeed(42, 3)
	if len(a) != 3 || len(b) != 3 {
		t.Fatalf("expected 3 seeds, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("splitSeed(42, 3)[%d] not deterministic: %d != %d", i, a[i], b[i])
		}
	}
}

func TestSplitSeedIndependentStreams(t *testing.T) {
	seeds := splitSeed(1, 2)
	if seeds[0] == seeds[1] {
		t.Errorf("splitSeed(1, 2) produced identical draws: %d", seeds[0])
	}
}

func TestSplitSeedDiffersByMaster(t *testing.T) {
	a := splitSeed(1, 2)
	b := splitSeed(2, 2)
	if a[0] == b[0] && a[1] == b[1] {
		t.Errorf("different master seeds produced identical derived seeds")
	}
}

func TestLoadSeedInputsResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "firmware.yaml")
	if err := os.WriteFile(cfgPath, []byte("cpu: cortex-m4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	prevConfigPath := configPath
	configPath = cfgPath
	defer func() { configPath = prevConfigPath }()

	empty := input.NewEmpty()
	seedPath := filepath.Join(dir, "seed.bin")
	if err := os.WriteFile(seedPath, empty.Serialize(), 0o644); err != nil {
		t.Fatal(err)
	}

	fw := &config.Firmware{SeedInputs: []string{"seed.bin"}}
	got, err := loadSeedInputs(fw)
	if err != nil {
		t.Fatalf("loadSeedInputs: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 seed input, got %d", len(got))
	}
}

func TestLoadSeedInputsMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "firmware.yaml")

	prevConfigPath := configPath
	configPath = cfgPath
	defer func() { configPath = prevConfigPath }()

	fw := &config.Firmware{SeedInputs: []string{"does-not-exist.bin"}}
	if _, err := loadSeedInputs(fw); err == nil {
		t.Fatal("expected an error for a missing seed file")
	} else if !errs.Is(err, errs.Configuration) {
		t.Errorf("expected a Configuration error, got %v", err)
	}
}

func TestLoadSeedInputsEmpty(t *testing.T) {
	prevConfigPath := configPath
	configPath = filepath.Join(t.TempDir(), "firmware.yaml")
	defer func() { configPath = prevConfigPath }()

	got, err := loadSeedInputs(&config.Firmware{})
	if err != nil {
		t.Fatalf("loadSeedInputs: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no seeds, got %d", len(got))
	}
}

func TestDisasmThumbShortBuffer(t *testing.T) {
	if got := disasmThumb(nil); got != "???" {
		t.Errorf("disasmThumb(nil) = %q, want ???", got)
	}
	if got := disasmThumb([]byte{0x01}); got != "???" {
		t.Errorf("disasmThumb(1 byte) = %q, want ???", got)
	}
}

func TestDisasmThumbUndecodable(t *testing.T) {
	got := disasmThumb([]byte{0xff, 0xff})
	if got == "" {
		t.Error("disasmThumb should never return an empty string")
	}
}
