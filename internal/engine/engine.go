// Package engine implements the Execution Engine: it restores a
// Snapshot, feeds an Input's streams through the Cortex-M core via
// hook callbacks, and turns the raw exit into a Coverage record plus
// a Bug Oracle classification.
package engine

import (
	"fmt"

	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/cpu"
	"github.com/hoedur/hoedur/internal/firmware"
	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/logging"
	"github.com/hoedur/hoedur/internal/oracle"
	"github.com/hoedur/hoedur/internal/snapshot"
	"github.com/hoedur/hoedur/internal/stream"
	"github.com/hoedur/hoedur/internal/trace"
)

// scheduleStreamID is the well-known stream carrying, at each
// interrupt poll point, the next pending NVIC vector number (0 = none
// pending). One stream rather than per-vector streams keeps polling
// O(1); per-vector enable/disable is still expressed in the Mutator's
// interrupt-vector mutation by editing this stream's chunks.
var scheduleStreamID = stream.InterruptVector(0)

// Result is one execution's outcome, ready for Corpus.Admit.
type Result struct {
	Coverage       *coverage.Record
	Classification oracle.Classification
	Cost           uint64
}

// Engine ties a Core, its Snapshot Manager, and the Stream Set
// together to run one Input at a time: a single emulator thread per
// process, no locking required in steady state.
type Engine struct {
	core      *cpu.Core
	snapshots *snapshot.Manager
	streams   *stream.Set
	fw        *config.Firmware
	traceSink func(*trace.Event)
}

// New creates an Engine over an already-constructed Core.
func New(core *cpu.Core, snapshots *snapshot.Manager, streams *stream.Set, fw *config.Firmware) *Engine {
	return &Engine{core: core, snapshots: snapshots, streams: streams, fw: fw}
}

// SetTraceSink installs fn to receive one trace.Event per hook firing
// during the next Run calls, or nil to disable tracing. Used by
// `cmd/hoedur run --trace`; left nil in the fuzzing loop, where the
// per-hook allocation and sink call would be wasted work on every one
// of millions of executions.
func (e *Engine) SetTraceSink(fn func(*trace.Event)) {
	e.traceSink = fn
}

func (e *Engine) trace(ev *trace.Event) {
	if e.traceSink != nil {
		trace.DefaultEnricher(ev)
		e.traceSink(ev)
	}
}

// runState is the engine-scoped context object for a single Run:
// installed as hook closures before RunUntil, discarded after
// (core.ClearHooks), carrying per-run mutable state that would
// otherwise need to be threaded through every callback signature.
type runState struct {
	in        *input.Input
	cursor    *input.Cursor
	cov       *coverage.Record
	lastBlock uint64
	haveLast  bool
	class     *oracle.Classification
}

// Boot loads img, runs from its entry point to fw's
// fuzz_start_address with no Input attached (a pure boot trace), and
// snapshots the result under "post-boot" — the base every fuzzing
// iteration restores from before running the emulator against the
// Input's streams.
func (e *Engine) Boot(img *firmware.Image) (snapshot.Handle, error) {
	if err := img.WriteTo(e.core); err != nil {
		return 0, err
	}
	if err := e.core.SetPC(img.EntryPC()); err != nil {
		return 0, err
	}

	st := &runState{in: input.NewEmpty(), cursor: input.NewCursor(), cov: coverage.NewRecord()}
	e.core.SetHooks(cpu.Hooks{
		OnBasicBlock: func(core *cpu.Core, addr uint64, _ uint32) {
			if uint64(e.fw.FuzzStartAddress) == addr {
				ok := oracle.OkResult()
				st.class = &ok
				core.Stop()
			}
		},
	})
	if _, err := e.core.RunUntil(0); err != nil {
		e.core.ClearHooks()
		return 0, err
	}
	e.core.ClearHooks()

	return e.snapshots.Create(e.core, "post-boot")
}

// Run restores base, executes in against the Stream Set, and returns
// its coverage and classification. The Input is borrowed, never
// mutated.
func (e *Engine) Run(base snapshot.Handle, in *input.Input) (*Result, error) {
	if err := e.snapshots.Restore(e.core, base); err != nil {
		return nil, err
	}

	st := &runState{
		in:     in,
		cursor: input.NewCursor(),
		cov:    coverage.NewRecord(),
	}
	e.core.SetHooks(e.hooksFor(st))
	reason, err := e.core.RunUntil(0)
	e.core.ClearHooks()
	if err != nil {
		return nil, err
	}
	st.cov.Freeze()

	class := e.classify(st, reason)
	return &Result{Coverage: st.cov, Classification: class, Cost: e.core.Cost()}, nil
}

func (e *Engine) classify(st *runState, reason cpu.ExitReason) oracle.Classification {
	if st.class != nil {
		return *st.class
	}
	switch reason {
	case cpu.ExitLimitReached:
		return oracle.HangResult()
	case cpu.ExitBreakpoint:
		return oracle.OkResult()
	default:
		return oracle.Error()
	}
}

func (e *Engine) hooksFor(st *runState) cpu.Hooks {
	return cpu.Hooks{
		OnBasicBlock:    func(core *cpu.Core, addr uint64, _ uint32) { e.onBasicBlock(core, st, addr) },
		OnMMIORead:      func(core *cpu.Core, addr uint64, size uint32) { e.onMMIORead(core, st, addr, size) },
		OnMMIOWrite:     e.onMMIOWrite,
		OnROMWrite:      func(core *cpu.Core, addr uint64, _ uint32, _ uint64) { e.onROMWrite(core, st, addr) },
		OnInterruptPoll: func(core *cpu.Core, pc uint64) { e.onInterruptPoll(core, st, pc) },
		OnNVICAbort:     func(core *cpu.Core, exceptionNumber uint32) { e.onNVICAbort(core, st, exceptionNumber) },
		OnTBFlush:       onTBFlush,
	}
}

func (e *Engine) onBasicBlock(core *cpu.Core, st *runState, addr uint64) {
	if st.class != nil {
		return
	}
	if err := st.cov.HitBlock(addr); err != nil {
		fail := oracle.Error()
		st.class = &fail
		core.Stop()
		return
	}
	if st.haveLast {
		_ = st.cov.HitEdge(st.lastBlock, addr)
	}
	st.lastBlock, st.haveLast = addr, true
	e.trace(trace.NewEvent(addr, trace.Block, "", ""))

	for _, stop := range e.fw.FuzzEndAddresses {
		if uint64(stop) == addr {
			ok := oracle.OkResult()
			st.class = &ok
			core.Stop()
			return
		}
	}
}

func (e *Engine) onMMIORead(core *cpu.Core, st *runState, addr uint64, size uint32) {
	if st.class != nil {
		return
	}
	id := stream.MMIOAddress(addr)
	e.streams.Handle(id) // registers a default definition on first access
	def, _ := e.streams.Lookup(id)
	policy := stream.PolicyZero
	if def != nil {
		policy = def.DefaultPolicy
	}

	data, exhausted := st.cursor.Pull(st.in, id, int(size), policy)
	ev := trace.NewEvent(core.PC(), trace.MMIORead, "", fmt.Sprintf("addr=0x%x size=%d", addr, size))
	if exhausted {
		ev.Annotate("exhausted", "true")
	}
	e.trace(ev)
	if exhausted && policy == stream.PolicyStop {
		exh := oracle.Exhausted()
		st.class = &exh
		core.Stop()
		return
	}
	if len(data) > 0 {
		_ = core.WriteMem(addr, data)
	}
}

func (e *Engine) onMMIOWrite(core *cpu.Core, addr uint64, size uint32, value uint64) {
	if logging.L != nil {
		logging.L.Debug("mmio write", logging.Addr(addr), logging.Size(uint64(size)))
	}
	e.trace(trace.NewEvent(core.PC(), trace.MMIOWrite, "", fmt.Sprintf("addr=0x%x size=%d value=0x%x", addr, size, value)))
}

func (e *Engine) onROMWrite(core *cpu.Core, st *runState, addr uint64) {
	if st.class != nil {
		return
	}
	rw := oracle.ROMWrite(addr, core.PC())
	st.class = &rw
	e.trace(trace.NewEvent(core.PC(), trace.ROMWrite, "", fmt.Sprintf("addr=0x%x", addr)))
}

// onInterruptPoll consults the interrupt schedule stream once per
// basic-block boundary. Vector delivery itself
// is out of scope here: the Unicorn Cortex-M bindings consumed by
// internal/cpu expose no NVIC-injection primitive, so this records the
// pending vector for coverage/trace purposes without firing it. See
// DESIGN.md for the accepted limitation.
func (e *Engine) onInterruptPoll(_ *cpu.Core, st *runState, pc uint64) {
	if st.class != nil {
		return
	}
	vector, _ := st.cursor.Pull(st.in, scheduleStreamID, 1, stream.PolicyZero)
	if len(vector) > 0 && vector[0] != 0 {
		e.trace(trace.NewEvent(pc, trace.Interrupt, "", fmt.Sprintf("vector=%d", vector[0])))
	}
}

func (e *Engine) onNVICAbort(core *cpu.Core, st *runState, exceptionNumber uint32) {
	if st.class != nil {
		return
	}
	reason := classifyException(exceptionNumber)
	fault := oracle.Fault(reason, core.PC())
	st.class = &fault
	ev := trace.NewEvent(core.PC(), trace.Fault, "", fmt.Sprintf("exception=%d", exceptionNumber))
	ev.Annotate("reason", reason.String())
	e.trace(ev)
	core.Stop()
}

func onTBFlush(_ *cpu.Core, addr uint64) {
	if logging.L != nil {
		logging.L.Debug("tb flush", logging.Addr(addr))
	}
}

// classifyException maps an ARMv7-M exception number to the Bug
// Oracle's HardFaultReason enumeration. 3 (HardFault) is the
// CPU's own lockup/escalation vector; 4 (MemManage) and 6
// (UsageFault) are modeled as derived/undefined-instruction causes
// respectively; 5 (BusFault) maps directly to BusError. Anything else
// is an escalation failure: the NVIC reached a state this mapping
// doesn't have a more specific name for.
func classifyException(exceptionNumber uint32) oracle.HardFaultReason {
	switch exceptionNumber {
	case 3:
		return oracle.Lockup
	case 4:
		return oracle.DerivedException
	case 5:
		return oracle.BusError
	case 6:
		return oracle.UndefinedInstruction
	default:
		return oracle.EscalationFailed
	}
}
