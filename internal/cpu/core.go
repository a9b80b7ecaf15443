// Package cpu adapts Unicorn Engine to the Execution Engine's needs:
// an ARMv7-M (Cortex-M, Thumb-2) core with memory mapped from firmware
// config, a hook table dispatching to the fuzzing core instead of libc
// stubs, and first-class snapshot/restore.
package cpu

import (
	"fmt"
	"sync"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/errs"
)

// Cortex-M general-purpose and special register handles, re-exported
// from the Unicorn ARM constant set for callers that don't want to
// import the binding package directly.
const (
	RegR0   = uc.ARM_REG_R0
	RegR1   = uc.ARM_REG_R1
	RegR2   = uc.ARM_REG_R2
	RegR3   = uc.ARM_REG_R3
	RegR4   = uc.ARM_REG_R4
	RegR5   = uc.ARM_REG_R5
	RegR6   = uc.ARM_REG_R6
	RegR7   = uc.ARM_REG_R7
	RegR8   = uc.ARM_REG_R8
	RegR9   = uc.ARM_REG_R9
	RegR10  = uc.ARM_REG_R10
	RegR11  = uc.ARM_REG_R11
	RegR12  = uc.ARM_REG_R12
	RegSP   = uc.ARM_REG_SP
	RegLR   = uc.ARM_REG_LR
	RegPC   = uc.ARM_REG_PC
	RegCPSR = uc.ARM_REG_CPSR
)

// ExitReason is why RunUntil returned control to the Execution Engine.
type ExitReason int

const (
	ExitLimitReached ExitReason = iota
	ExitBreakpoint
	ExitHookStop
	ExitError
)

func (r ExitReason) String() string {
	switch r {
	case ExitLimitReached:
		return "limit_reached"
	case ExitBreakpoint:
		return "breakpoint"
	case ExitHookStop:
		return "hook_stop"
	case ExitError:
		return "error"
	default:
		return "unknown"
	}
}

// BasicBlockHook fires on entry to every translated basic block.
type BasicBlockHook func(core *Core, addr uint64, size uint32)

// MMIOReadHook answers a load from an mmio region; the callback writes
// the response value into memory at addr before the CPU's load
// instruction completes.
type MMIOReadHook func(core *Core, addr uint64, size uint32)

// MMIOWriteHook observes a store into an mmio region.
type MMIOWriteHook func(core *Core, addr uint64, size uint32, value uint64)

// ROMWriteHook fires when code attempts to write a rom region. The
// default Bug Oracle classifies this as RomWrite.
type ROMWriteHook func(core *Core, addr uint64, size uint32, value uint64)

// InterruptPollHook is consulted once per basic-block boundary so the
// interrupt stream can decide whether to delivery an interrupt at this
// poll point.
type InterruptPollHook func(core *Core, pc uint64)

// NVICAbortHook fires when the NVIC escalates to a fault it cannot
// service (lockup, derived exception, failed escalation).
type NVICAbortHook func(core *Core, exceptionNumber uint32)

// TBFlushHook fires when a write into the code region invalidates a
// cached translation, signaling self-modifying firmware.
type TBFlushHook func(core *Core, addr uint64)

// Hooks is the full set of callbacks the Execution Engine installs
// before a run and tears down after: on_basic_block, on_mmio_read,
// on_mmio_write, on_rom_write, on_interrupt_poll, on_nvic_abort, and
// on_tb_flush.
type Hooks struct {
	OnBasicBlock    BasicBlockHook
	OnMMIORead      MMIOReadHook
	OnMMIOWrite     MMIOWriteHook
	OnROMWrite      ROMWriteHook
	OnInterruptPoll InterruptPollHook
	OnNVICAbort     NVICAbortHook
	OnTBFlush       TBFlushHook
}

// Snapshot is an opaque, immutable captured CPU state: the Execution
// Engine restores from it but never writes through it.
type Snapshot struct {
	ctx *uc.Context
}

// Core wraps a Unicorn instance configured for ARMv7-M Cortex-M
// (Thumb-2) execution: a thin struct holding the handle, memory/
// register accessors, and a hook table.
type Core struct {
	mu uc.Unicorn

	regions []config.MemoryRegion

	hooksMu sync.RWMutex
	hooks   Hooks

	stopped    bool
	stopReason ExitReason
	cost       uint64
	costLimit  uint64
}

// New creates a Core with memory mapped from fw.MemoryMap.
func New(fw *config.Firmware, hooks Hooks) (*Core, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM, uc.MODE_MCLASS|uc.MODE_THUMB)
	if err != nil {
		return nil, errs.New(errs.EmulatorFailure, "cpu.New", fmt.Errorf("create unicorn: %w", err))
	}

	c := &Core{mu: mu, hooks: hooks, regions: fw.MemoryMap, costLimit: fw.CostLimit}

	if err := c.mapMemory(); err != nil {
		mu.Close()
		return nil, err
	}
	if err := c.setupHooks(); err != nil {
		mu.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) mapMemory() error {
	for _, r := range c.regions {
		if err := c.mu.MemMap(uint64(r.Base), r.Size); err != nil {
			return errs.New(errs.EmulatorFailure, "cpu.mapMemory",
				fmt.Errorf("map %s (0x%x, %d bytes): %w", r.Name, r.Base, r.Size, err))
		}
	}
	return nil
}

func (c *Core) regionAt(addr uint64) (config.MemoryRegion, bool) {
	for _, r := range c.regions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return config.MemoryRegion{}, false
}

func (c *Core) setupHooks() error {
	if _, err := c.mu.HookAdd(uc.HOOK_BLOCK, func(_ uc.Unicorn, addr uint64, size uint32) {
		c.hooksMu.RLock()
		onBlock, onPoll := c.hooks.OnBasicBlock, c.hooks.OnInterruptPoll
		c.hooksMu.RUnlock()
		if onBlock != nil {
			onBlock(c, addr, size)
		}
		// Interrupts are considered once per block boundary: there is
		// no dedicated NVIC poll instruction to hook in Unicorn's
		// Cortex-M model, so the block hook doubles as the poll point.
		if onPoll != nil {
			onPoll(c, addr)
		}
	}, 1, 0); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.setupHooks", fmt.Errorf("hook block: %w", err))
	}

	if _, err := c.mu.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, _ uint64, _ uint32) {
		c.cost++
		if c.costLimit > 0 && c.cost >= c.costLimit {
			c.stopped = true
			c.stopReason = ExitLimitReached
			c.mu.Stop()
		}
	}, 1, 0); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.setupHooks", fmt.Errorf("hook code: %w", err))
	}

	for _, r := range c.regions {
		switch r.Kind {
		case config.KindMMIO:
			if err := c.hookMMIO(r); err != nil {
				return err
			}
		case config.KindROM:
			if err := c.hookROM(r); err != nil {
				return err
			}
		}
	}

	if _, err := c.mu.HookAdd(uc.HOOK_INTR, func(_ uc.Unicorn, intno uint32) {
		c.hooksMu.RLock()
		onAbort := c.hooks.OnNVICAbort
		c.hooksMu.RUnlock()
		if onAbort != nil {
			onAbort(c, intno)
		}
	}, 1, 0); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.setupHooks", fmt.Errorf("hook intr: %w", err))
	}

	return nil
}

func (c *Core) hookMMIO(r config.MemoryRegion) error {
	_, err := c.mu.HookAddMemRead(func(_ uc.Unicorn, addr uint64, size int) {
		c.hooksMu.RLock()
		onRead := c.hooks.OnMMIORead
		c.hooksMu.RUnlock()
		if onRead != nil {
			onRead(c, addr, uint32(size))
		}
	}, uint64(r.Base), r.End())
	if err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.hookMMIO", fmt.Errorf("hook mmio read %s: %w", r.Name, err))
	}

	_, err = c.mu.HookAddMemWrite(func(_ uc.Unicorn, addr uint64, size int, value int64) {
		c.hooksMu.RLock()
		onWrite := c.hooks.OnMMIOWrite
		c.hooksMu.RUnlock()
		if onWrite != nil {
			onWrite(c, addr, uint32(size), uint64(value))
		}
	}, uint64(r.Base), r.End())
	if err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.hookMMIO", fmt.Errorf("hook mmio write %s: %w", r.Name, err))
	}
	return nil
}

func (c *Core) hookROM(r config.MemoryRegion) error {
	_, err := c.mu.HookAddMemWrite(func(_ uc.Unicorn, addr uint64, size int, value int64) {
		c.hooksMu.RLock()
		onROMWrite, onFlush := c.hooks.OnROMWrite, c.hooks.OnTBFlush
		c.hooksMu.RUnlock()
		if onROMWrite != nil {
			onROMWrite(c, addr, uint32(size), uint64(value))
		}
		if onFlush != nil {
			onFlush(c, addr)
		}
		c.stopped = true
		c.stopReason = ExitHookStop
		c.mu.Stop()
	}, uint64(r.Base), r.End())
	if err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.hookROM", fmt.Errorf("hook rom write %s: %w", r.Name, err))
	}
	return nil
}

// SetHooks replaces the installed callback set. Called once per run by
// the Execution Engine's engine-scoped context object: set on
// run-entry, cleared on run-exit.
func (c *Core) SetHooks(h Hooks) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = h
}

// ClearHooks removes the installed callbacks, leaving the low-level
// Unicorn hooks registered but no-op.
func (c *Core) ClearHooks() { c.SetHooks(Hooks{}) }

// Reset clears run-scoped state (cost counter, stop flag) without
// touching memory or registers; firmware reinitialization happens by
// restoring the post-boot snapshot instead.
func (c *Core) Reset() {
	c.cost = 0
	c.stopped = false
	c.stopReason = ExitLimitReached
}

// Load writes a firmware image at base.
func (c *Core) Load(image []byte, base uint64) error {
	if err := c.mu.MemWrite(base, image); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.Load", fmt.Errorf("write image at 0x%x: %w", base, err))
	}
	return nil
}

// ReadMem reads n bytes from addr.
func (c *Core) ReadMem(addr, n uint64) ([]byte, error) {
	data, err := c.mu.MemRead(addr, n)
	if err != nil {
		return nil, errs.New(errs.EmulatorFailure, "cpu.ReadMem", fmt.Errorf("read 0x%x (%d bytes): %w", addr, n, err))
	}
	return data, nil
}

// WriteMem writes data at addr, bypassing rom/mmio hooks (used by the
// engine to inject MMIO responses and by the firmware loader).
func (c *Core) WriteMem(addr uint64, data []byte) error {
	if err := c.mu.MemWrite(addr, data); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.WriteMem", fmt.Errorf("write 0x%x (%d bytes): %w", addr, len(data), err))
	}
	return nil
}

// Snapshot captures the full CPU and memory state.
func (c *Core) Snapshot() (*Snapshot, error) {
	ctx, err := c.mu.ContextSave()
	if err != nil {
		return nil, errs.New(errs.EmulatorFailure, "cpu.Snapshot", err)
	}
	return &Snapshot{ctx: ctx}, nil
}

// Restore replaces the current state with a previously captured
// Snapshot. Snapshots are immutable; Restore never mutates s.
func (c *Core) Restore(s *Snapshot) error {
	if err := c.mu.ContextRestore(s.ctx); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.Restore", err)
	}
	c.Reset()
	return nil
}

// RunUntil starts emulation from the current PC with a fresh cost
// budget of limit retired instructions (0 means reuse the core's
// configured cost_limit), returning why it stopped.
func (c *Core) RunUntil(limit uint64) (ExitReason, error) {
	c.stopped = false
	c.stopReason = ExitLimitReached
	if limit > 0 {
		c.costLimit = limit
	}
	c.cost = 0

	pc, err := c.mu.RegRead(RegPC)
	if err != nil {
		return ExitError, errs.New(errs.EmulatorFailure, "cpu.RunUntil", err)
	}

	if err := c.mu.Start(pc, 0); err != nil {
		if c.stopped {
			return c.stopReason, nil
		}
		return ExitError, errs.New(errs.EmulatorFailure, "cpu.RunUntil", err)
	}
	if c.stopped {
		return c.stopReason, nil
	}
	return ExitBreakpoint, nil
}

// Stop requests emulation halt at the next hook callback.
func (c *Core) Stop() {
	c.stopped = true
	c.stopReason = ExitHookStop
	c.mu.Stop()
}

// Cost reports retired instructions executed in the current run.
func (c *Core) Cost() uint64 { return c.cost }

// PC, SetPC, SP, SetSP access the program counter and stack pointer.
func (c *Core) PC() uint64 {
	pc, _ := c.mu.RegRead(RegPC)
	return pc
}

func (c *Core) SetPC(addr uint64) error {
	if err := c.mu.RegWrite(RegPC, addr); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.SetPC", err)
	}
	return nil
}

func (c *Core) SP() uint64 {
	sp, _ := c.mu.RegRead(RegSP)
	return sp
}

func (c *Core) SetSP(addr uint64) error {
	if err := c.mu.RegWrite(RegSP, addr); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.SetSP", err)
	}
	return nil
}

// Reg and SetReg access any general-purpose or special register by its
// Unicorn constant (cpu.RegR0 ... cpu.RegCPSR).
func (c *Core) Reg(reg int) (uint64, error) {
	v, err := c.mu.RegRead(reg)
	if err != nil {
		return 0, errs.New(errs.EmulatorFailure, "cpu.Reg", err)
	}
	return v, nil
}

func (c *Core) SetReg(reg int, val uint64) error {
	if err := c.mu.RegWrite(reg, val); err != nil {
		return errs.New(errs.EmulatorFailure, "cpu.SetReg", err)
	}
	return nil
}

// Close releases the Unicorn instance.
func (c *Core) Close() error {
	return c.mu.Close()
}
