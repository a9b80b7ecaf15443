package snapshot

import (
	"testing"

	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/cpu"
)

func testCore(t *testing.T) *cpu.Core {
	t.Helper()
	fw := &config.Firmware{
		EntryPoint: 0x08000000,
		CostLimit:  1_000_000,
		MemoryMap: []config.MemoryRegion{
			{Name: "flash", Base: 0x08000000, Size: 0x10000, Kind: config.KindROM},
			{Name: "sram", Base: 0x20000000, Size: 0x1000, Kind: config.KindRAM},
		},
	}
	core, err := cpu.New(fw, cpu.Hooks{})
	if err != nil {
		t.Skipf("unicorn engine unavailable: %v", err)
	}
	t.Cleanup(func() { core.Close() })
	return core
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	core := testCore(t)
	mgr := NewManager(0)

	if err := core.SetPC(0x08000000); err != nil {
		t.Fatalf("SetPC: %v", err)
	}
	h, err := mgr.Create(core, "post-boot")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	core.SetPC(0x08000100)
	if err := mgr.Restore(core, h); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := core.PC(); got != 0x08000000 {
		t.Errorf("PC after restore = 0x%x, want 0x08000000", got)
	}
}

func TestNamedLookup(t *testing.T) {
	core := testCore(t)
	mgr := NewManager(0)
	h, err := mgr.Create(core, "post-boot")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, ok := mgr.Named("post-boot")
	if !ok || got != h {
		t.Errorf("Named(post-boot) = (%d, %v), want (%d, true)", got, ok, h)
	}
	if _, ok := mgr.Named("missing"); ok {
		t.Errorf("expected no snapshot named 'missing'")
	}
}

func TestEvictionCapDiscardsLeastRecentlyRestored(t *testing.T) {
	core := testCore(t)
	mgr := NewManager(2)

	h1, _ := mgr.Create(core, "a")
	h2, _ := mgr.Create(core, "b")
	// h1 is now least-recently-used; restoring it should bump it to
	// the front of the LRU, ahead of h2.
	if err := mgr.Restore(core, h1); err != nil {
		t.Fatalf("Restore h1: %v", err)
	}
	h3, err := mgr.Create(core, "c")
	if err != nil {
		t.Fatalf("Create c: %v", err)
	}

	if mgr.Len() != 2 {
		t.Fatalf("expected cap of 2 snapshots, got %d", mgr.Len())
	}
	if err := mgr.Restore(core, h2); err == nil {
		t.Errorf("expected h2 (least recently restored) to be evicted")
	}
	if err := mgr.Restore(core, h1); err != nil {
		t.Errorf("expected h1 to survive eviction: %v", err)
	}
	if err := mgr.Restore(core, h3); err != nil {
		t.Errorf("expected h3 to survive eviction: %v", err)
	}
}

func TestExplicitEvict(t *testing.T) {
	core := testCore(t)
	mgr := NewManager(0)
	h, _ := mgr.Create(core, "x")
	mgr.Evict(h)
	if err := mgr.Restore(core, h); err == nil {
		t.Errorf("expected restore of explicitly evicted handle to fail")
	}
	if _, ok := mgr.Named("x"); ok {
		t.Errorf("expected name binding removed on evict")
	}
}
