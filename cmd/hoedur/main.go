package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/arch/arm/armasm"
	"golang.org/x/sync/errgroup"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hoedur/hoedur/internal/archive"
	"github.com/hoedur/hoedur/internal/config"
	"github.com/hoedur/hoedur/internal/corpus"
	"github.com/hoedur/hoedur/internal/coverage"
	"github.com/hoedur/hoedur/internal/cpu"
	"github.com/hoedur/hoedur/internal/engine"
	"github.com/hoedur/hoedur/internal/errs"
	"github.com/hoedur/hoedur/internal/firmware"
	"github.com/hoedur/hoedur/internal/input"
	"github.com/hoedur/hoedur/internal/logging"
	"github.com/hoedur/hoedur/internal/mutator"
	"github.com/hoedur/hoedur/internal/oracle"
	"github.com/hoedur/hoedur/internal/scheduler"
	"github.com/hoedur/hoedur/internal/snapshot"
	"github.com/hoedur/hoedur/internal/stats"
	"github.com/hoedur/hoedur/internal/stream"
	"github.com/hoedur/hoedur/internal/trace"
	"github.com/hoedur/hoedur/internal/ui/colorize"
	"github.com/hoedur/hoedur/internal/ui/dashboard"
)

var (
	configPath   string
	traceFlag    bool
	debugFlag    bool
	hookFile     string
	seed         int64
	archivePath  string
	statsFlag    bool
	importConfig bool
	minimizeFlag bool
)

// maxConsecutiveEmulatorFailures aborts the campaign after this many
// back-to-back per-run emulator errors.
const maxConsecutiveEmulatorFailures = 5

// errInterrupted marks a campaign cut short by SIGINT/SIGTERM, so
// exitCodeFor can map it to the conventional 130 exit code.
var errInterrupted = errors.New("interrupted")

// classificationExit carries a Bug Oracle exit code out of `run`
// without skipping the deferred core/trace cleanup os.Exit would.
type classificationExit struct{ code int }

func (e *classificationExit) Error() string { return fmt.Sprintf("classification exit %d", e.code) }

func main() {
	rootCmd := &cobra.Command{
		Use:   "hoedur",
		Short: "Coverage-guided fuzzer for embedded ARMv7-M firmware",
		Long: `Hoedur repeatedly executes an ARMv7-M firmware image under a full-system
CPU emulator, supplies peripheral responses from a structured input drawn
from a corpus, observes coverage and side effects, mutates interesting
inputs, and archives discoveries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "firmware configuration YAML (required)")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "render a colorized per-block execution trace")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "verbose debug logging")
	rootCmd.PersistentFlags().StringVar(&hookFile, "hook", "", "scripted hook file (accepted for compatibility, not executed by this build)")

	fuzzCmd := &cobra.Command{
		Use:   "fuzz",
		Short: "start a fuzzing campaign",
		Args:  cobra.NoArgs,
		RunE:  runFuzz,
	}
	fuzzCmd.Flags().Int64Var(&seed, "seed", 0, "master RNG seed (0 picks a random seed)")
	fuzzCmd.Flags().StringVar(&archivePath, "archive", "hoedur.archive", "archive file path")
	fuzzCmd.Flags().BoolVar(&statsFlag, "statistics", false, "launch the live terminal dashboard instead of a one-shot summary")
	fuzzCmd.Flags().BoolVar(&importConfig, "import-config", false, "resume from --archive's corpus and stream table if it exists")
	rootCmd.AddCommand(fuzzCmd)

	runCmd := &cobra.Command{
		Use:   "run INPUT",
		Short: "one-shot execution of a single serialized input, prints its classification",
		Args:  cobra.ExactArgs(1),
		RunE:  runOne,
	}
	rootCmd.AddCommand(runCmd)

	runCorpusCmd := &cobra.Command{
		Use:   "run-corpus ARCHIVE",
		Short: "replay every input an archive holds",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunCorpus,
	}
	runCorpusCmd.Flags().BoolVar(&minimizeFlag, "minimize", false, "minimize each entry in place and report bytes saved")
	rootCmd.AddCommand(runCorpusCmd)

	runCovCmd := &cobra.Command{
		Use:   "run-cov REPORT ARCHIVE",
		Short: "write a coverage report for an archive's baseline",
		Args:  cobra.ExactArgs(2),
		RunE:  runRunCov,
	}
	rootCmd.AddCommand(runCovCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the process exit code it should
// produce: 130 on interrupt, a Bug Oracle classification's own code
// for `run`, or the error taxonomy's code for everything else.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errInterrupted) {
		return 130
	}
	var ce *classificationExit
	if errors.As(err, &ce) {
		return ce.code
	}
	var taggedErr *errs.Error
	if errors.As(err, &taggedErr) {
		return taggedErr.Kind.ExitCode()
	}
	return 1
}

// loadFirmwareConfig loads --config, warns if --hook was given (the
// scripted hook engine is an out-of-scope external collaborator),
// and requires --config to be set.
func loadFirmwareConfig() (*config.Firmware, error) {
	logging.Init(debugFlag)
	if hookFile != "" {
		logging.L.Warn("scripted hooks are not executed by this build", zap.String("hook", hookFile))
	}
	if configPath == "" {
		return nil, errs.New(errs.Configuration, "cmd.loadFirmwareConfig", fmt.Errorf("--config is required"))
	}
	return config.Load(configPath)
}

// bootstrapEngine builds the Core/Engine/Stream Set stack from fw and
// boots the firmware image to its post-boot snapshot, ready for Run.
func bootstrapEngine(fw *config.Firmware) (eng *engine.Engine, core *cpu.Core, base snapshot.Handle, streams *stream.Set, err error) {
	streams, err = stream.LoadConfig(fw.Streams)
	if err != nil {
		return nil, nil, 0, nil, errs.New(errs.Configuration, "cmd.bootstrapEngine", err)
	}

	core, err = cpu.New(fw, cpu.Hooks{})
	if err != nil {
		return nil, nil, 0, nil, err
	}

	img, err := firmware.Load(fw.Image, fw)
	if err != nil {
		core.Close()
		return nil, nil, 0, nil, err
	}

	snapshots := snapshot.NewManager(0)
	eng = engine.New(core, snapshots, streams, fw)
	base, err = eng.Boot(img)
	if err != nil {
		core.Close()
		return nil, nil, 0, nil, errs.New(errs.EmulatorFailure, "cmd.bootstrapEngine", fmt.Errorf("boot to fuzz_start_address: %w", err))
	}
	return eng, core, base, streams, nil
}

// loadSeedInputs reads and deserializes fw.SeedInputs, resolving
// relative paths against --config's directory like config.Load does
// for fw.Image.
func loadSeedInputs(fw *config.Firmware) ([]*input.Input, error) {
	configDir := filepath.Dir(configPath)
	seeds := make([]*input.Input, 0, len(fw.SeedInputs))
	for _, p := range fw.SeedInputs {
		path := p
		if !filepath.IsAbs(path) {
			path = filepath.Join(configDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.New(errs.Configuration, "cmd.loadSeedInputs", err)
		}
		in, err := input.Deserialize(data)
		if err != nil {
			return nil, errs.New(errs.InputCorrupt, "cmd.loadSeedInputs", fmt.Errorf("%s: %w", path, err))
		}
		in.Reason = input.Seed
		seeds = append(seeds, in)
	}
	return seeds, nil
}

// seedCorpus runs every seed Input once (an empty Input if none are
// configured) and admits it, establishing the initial coverage
// baseline the campaign mutates from.
func seedCorpus(eng *engine.Engine, corp *corpus.Corpus, base snapshot.Handle, fw *config.Firmware) error {
	seeds, err := loadSeedInputs(fw)
	if err != nil {
		return err
	}
	if len(seeds) == 0 {
		seeds = []*input.Input{input.NewEmpty()}
	}
	for _, in := range seeds {
		result, err := eng.Run(base, in)
		if err != nil {
			return errs.New(errs.EmulatorFailure, "cmd.seedCorpus", err)
		}
		admitted, reason := corp.Admit(in, nil, result.Coverage, result.Classification, result.Cost)
		logging.L.Admit(in.UUID.String(), admitted, reason)
		if admitted && result.Classification.IsCrash() {
			logging.L.Crash(in.UUID.String(), result.Classification.Fingerprint(), result.Classification.String())
		}
	}
	if corp.Len() == 0 && corp.CrashCount() == 0 {
		return errs.New(errs.Configuration, "cmd.seedCorpus",
			fmt.Errorf("no seed input was admitted; check fuzz_start_address/fuzz_end_addresses"))
	}
	return nil
}

// splitSeed derives n independent RNG seeds from a master seed by
// drawing from a single source, so the Scheduler, Mutator, and any
// other RNG consumer draw from independent streams and one
// component's draw count never
// desynchronizes another.
func splitSeed(master int64, n int) []int64 {
	src := rand.New(rand.NewSource(master))
	out := make([]int64, n)
	for i := range out {
		out[i] = src.Int63()
	}
	return out
}

func timeSeed() int64 {
	return time.Now().UnixNano()
}

func runFuzz(cmd *cobra.Command, args []string) error {
	fw, err := loadFirmwareConfig()
	if err != nil {
		return err
	}

	eng, core, base, streams, err := bootstrapEngine(fw)
	if err != nil {
		return err
	}
	defer core.Close()

	corp := corpus.New()

	if importConfig {
		if imported, impErr := importArchive(archivePath, streams); impErr != nil {
			logging.L.Warn("import-config: starting fresh", zap.Error(impErr))
		} else {
			corp, streams = imported.corpus, imported.streams
		}
	}

	if corp.Len() == 0 && corp.CrashCount() == 0 {
		if err := seedCorpus(eng, corp, base, fw); err != nil {
			return err
		}
	}

	masterSeed := seed
	if masterSeed == 0 {
		masterSeed = timeSeed()
	}
	seeds := splitSeed(masterSeed, 2)
	sched := scheduler.New(corp, rand.New(rand.NewSource(seeds[0])))
	mut := mutator.New(rand.New(rand.NewSource(seeds[1])))

	stt := stats.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runCampaign(gctx, eng, corp, sched, mut, streams, stt, base)
	})

	var program *tea.Program
	if statsFlag {
		model := dashboard.New(stt, corp, sched, filepath.Base(fw.Image))
		program = tea.NewProgram(model)
		g.Go(func() error {
			_, err := program.Run()
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			program.Quit()
			return nil
		})
	}

	err = g.Wait()
	interrupted := errors.Is(err, errInterrupted)
	if err != nil && !interrupted {
		return err
	}

	if flushErr := flushCampaign(corp, streams, stt, archivePath, fw.Image); flushErr != nil {
		return flushErr
	}
	fmt.Printf("stopped: %d executions, %d crashes, corpus size %d\n", stt.Executions(), stt.Crashes(), corp.Len())

	if interrupted {
		return errInterrupted
	}
	return nil
}

// runCampaign is the fuzzing loop: Scheduler selects a parent,
// Mutator produces a child, Execution Engine runs it against base,
// Corpus admits novel/buggy results, Statistics
// update. Returns errInterrupted when ctx is canceled, or an
// EmulatorFailure error after too many consecutive run failures.
func runCampaign(ctx context.Context, eng *engine.Engine, corp *corpus.Corpus, sched *scheduler.Scheduler, mut *mutator.Mutator, streams *stream.Set, stt *stats.Stats, base snapshot.Handle) error {
	consecutiveFailures := 0
	for {
		select {
		case <-ctx.Done():
			return errInterrupted
		default:
		}

		parentEntry, haveParent := sched.SelectParent()
		if !haveParent {
			return nil // corpus holds only crashes; nothing left to fuzz
		}

		var spliceParent *input.Input
		if other, ok := sched.SelectParent(); ok && other != parentEntry {
			spliceParent = other.Input
		}

		child := mut.Mutate(parentEntry.Input, spliceParent, streams)

		logging.L.RunStart(child.UUID.String(), int(base))
		result, err := eng.Run(base, child)
		if err != nil {
			consecutiveFailures++
			logging.L.Warn("execution failed", zap.Error(err), zap.Int("consecutive", consecutiveFailures))
			if consecutiveFailures >= maxConsecutiveEmulatorFailures {
				return errs.New(errs.EmulatorFailure, "cmd.runCampaign",
					fmt.Errorf("%d consecutive emulator failures", consecutiveFailures))
			}
			continue
		}
		consecutiveFailures = 0

		stt.RecordExecution()
		admitted, reason := corp.Admit(child, parentEntry, result.Coverage, result.Classification, result.Cost)
		logging.L.Admit(child.UUID.String(), admitted, reason)
		logging.L.RunResult(child.UUID.String(), result.Classification.String(), result.Cost)
		if admitted && result.Classification.IsCrash() {
			stt.RecordCrash()
			logging.L.Crash(child.UUID.String(), result.Classification.Fingerprint(), result.Classification.String())
		}
	}
}

type importedCampaign struct {
	corpus  *corpus.Corpus
	streams *stream.Set
}

// importArchive reloads a prior campaign's corpus and discovered
// stream table from path, for `fuzz --import-config`'s dynamic
// stream discovery persistence. The archive is read twice with
// independent Readers: once via corpus.LoadFromArchive
// (which drains every frame to EOF to rebuild the corpus) and once by
// this function's own loop collecting KindStreamTable frames, since a
// single Reader can only be walked once.
func importArchive(path string, fallback *stream.Set) (*importedCampaign, error) {
	corp, err := loadCorpusArchive(path)
	if err != nil {
		return nil, err
	}
	records, err := loadStreamRecords(path)
	if err != nil {
		return nil, err
	}

	streams := fallback
	if len(records) > 0 {
		streams = stream.LoadRecords(records)
	}
	return &importedCampaign{corpus: corp, streams: streams}, nil
}

func loadCorpusArchive(path string) (*corpus.Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.ArchiveIO, "cmd.loadCorpusArchive", err)
	}
	defer f.Close()

	r, err := archive.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return corpus.LoadFromArchive(r)
}

func loadStreamRecords(path string) ([]archive.StreamDefRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.New(errs.ArchiveIO, "cmd.loadStreamRecords", err)
	}
	defer f.Close()

	r, err := archive.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records []archive.StreamDefRecord
	for {
		kind, payload, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if kind != archive.KindStreamTable {
			continue
		}
		rec, err := archive.DecodeStreamTable(payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// flushCampaign persists the corpus, discovered stream table, and a
// final statistics snapshot. The corpus+streams archive and the
// statistics sidecar are independent artifacts, flushed concurrently
// via errgroup: independent files with no reason to serialize.
func flushCampaign(corp *corpus.Corpus, streams *stream.Set, stt *stats.Stats, archivePath, firmwareID string) error {
	var g errgroup.Group
	now := flushTimestamp()

	g.Go(func() error {
		return flushArchive(archivePath, corp, streams, firmwareID, now)
	})
	g.Go(func() error {
		return flushStats(archivePath+".stats", stt, corp, now)
	})
	return g.Wait()
}

func flushTimestamp() int64 {
	return time.Now().Unix()
}

func flushArchive(path string, corp *corpus.Corpus, streams *stream.Set, firmwareID string, now int64) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.ArchiveIO, "cmd.flushArchive", err)
	}
	defer f.Close()

	w, err := archive.NewWriter(f)
	if err != nil {
		return err
	}
	if err := corp.SnapshotToArchive(w, firmwareID, now); err != nil {
		return err
	}
	for _, rec := range streams.ToRecords() {
		if err := w.WriteStreamTable(rec); err != nil {
			return err
		}
	}
	return w.Close()
}

func flushStats(path string, stt *stats.Stats, corp *corpus.Corpus, now int64) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.New(errs.ArchiveIO, "cmd.flushStats", err)
	}
	defer f.Close()

	w, err := archive.NewWriter(f)
	if err != nil {
		return err
	}
	snap := stt.Snapshot(corp)
	if err := w.WriteStats(snap.ArchiveRecord(now)); err != nil {
		return err
	}
	return w.Close()
}

func runOne(cmd *cobra.Command, args []string) error {
	fw, err := loadFirmwareConfig()
	if err != nil {
		return err
	}

	eng, core, base, _, err := bootstrapEngine(fw)
	if err != nil {
		return err
	}
	defer core.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return errs.New(errs.Configuration, "cmd.runOne", err)
	}
	in, err := input.Deserialize(data)
	if err != nil {
		return errs.New(errs.InputCorrupt, "cmd.runOne", err)
	}

	if traceFlag {
		tr := newTraceRenderer(core)
		eng.SetTraceSink(tr.handle)
		defer tr.close()
	}

	result, err := eng.Run(base, in)
	if err != nil {
		return errs.New(errs.EmulatorFailure, "cmd.runOne", err)
	}

	fmt.Printf("%s  cost=%d\n", result.Classification, result.Cost)
	if code := result.Classification.ExitCode(); code != 0 {
		return &classificationExit{code: code}
	}
	return nil
}

func runRunCorpus(cmd *cobra.Command, args []string) error {
	fw, err := loadFirmwareConfig()
	if err != nil {
		return err
	}

	eng, core, base, _, err := bootstrapEngine(fw)
	if err != nil {
		return err
	}
	defer core.Close()

	corp, err := loadCorpusArchive(args[0])
	if err != nil {
		return err
	}

	replay := func(candidate *input.Input) (*coverage.Record, oracle.Classification, bool) {
		result, runErr := eng.Run(base, candidate)
		if runErr != nil {
			return nil, oracle.Classification{}, false
		}
		return result.Coverage, result.Classification, true
	}

	counts := make(map[oracle.Kind]int)
	savedBytes := 0
	for _, e := range corp.Entries() {
		result, runErr := eng.Run(base, e.Input)
		if runErr != nil {
			logging.L.Warn("replay failed", zap.String("input", e.Input.UUID.String()), zap.Error(runErr))
			continue
		}
		counts[result.Classification.Kind]++

		if minimizeFlag {
			before := len(e.Input.Serialize())
			minimized := corp.Minimize(e, replay)
			after := len(minimized.Input.Serialize())
			savedBytes += before - after
		}
	}
	for _, e := range corp.Crashes() {
		result, runErr := eng.Run(base, e.Input)
		if runErr != nil {
			logging.L.Warn("replay failed", zap.String("input", e.Input.UUID.String()), zap.Error(runErr))
			continue
		}
		counts[result.Classification.Kind]++
	}

	fmt.Printf("replayed %d entries, %d crashes\n", corp.Len(), corp.CrashCount())
	for kind, n := range counts {
		fmt.Printf("  %-16s %d\n", kind, n)
	}
	if minimizeFlag {
		fmt.Printf("minimize: saved %d bytes\n", savedBytes)
	}
	return nil
}

func runRunCov(cmd *cobra.Command, args []string) error {
	reportPath, archiveFile := args[0], args[1]

	corp, err := loadCorpusArchive(archiveFile)
	if err != nil {
		return err
	}

	out, err := os.Create(reportPath)
	if err != nil {
		return errs.New(errs.ArchiveIO, "cmd.runRunCov", err)
	}
	defer out.Close()

	if err := corp.WriteCoverageReport(out); err != nil {
		return errs.New(errs.ArchiveIO, "cmd.runRunCov", err)
	}
	return nil
}

// traceRenderer feeds the buffered async outputWriter from
// Engine.SetTraceSink: one colorized line per traced hook firing,
// disassembled at block granularity since internal/cpu's hook table
// fires per basic block rather than per instruction.
type traceRenderer struct {
	core *cpu.Core
	out  *outputWriter
}

func newTraceRenderer(core *cpu.Core) *traceRenderer {
	return &traceRenderer{core: core, out: newOutputWriter()}
}

func (t *traceRenderer) handle(ev *trace.Event) {
	code, _ := t.core.ReadMem(ev.PC, 4)
	dis := disasmThumb(code)
	t.out.Write(formatTraceLine(ev, code, dis))
}

func (t *traceRenderer) close() {
	t.out.Close()
}

func disasmThumb(code []byte) string {
	if len(code) < 2 {
		return "???"
	}
	inst, err := armasm.Decode(code, armasm.ModeThumb)
	if err != nil {
		return fmt.Sprintf(".word 0x%02x%02x", code[1], code[0])
	}
	return inst.String()
}

func formatTraceLine(ev *trace.Event, code []byte, dis string) string {
	var b strings.Builder

	b.WriteString(colorize.Address(ev.PC))
	b.WriteString("  ")

	if len(code) >= 2 {
		b.WriteString(colorize.HexBytes(fmt.Sprintf("%02X%02X", code[1], code[0])))
		b.WriteString("  ")
	}

	b.WriteString(colorize.Instruction(dis))

	var parts []string
	parts = append(parts, strings.Join(ev.Tags.Strings(), " "))
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	for k, v := range ev.Annotations {
		parts = append(parts, k+"="+v)
	}
	b.WriteString("  ")
	b.WriteString(colorize.Comment("; " + strings.Join(parts, " ")))

	return b.String()
}
