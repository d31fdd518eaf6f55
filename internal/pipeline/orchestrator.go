// Package pipeline sequences the external toolchain stages for a single
// run and hands back the terminal histogram artifact.
//
// One Orchestrator instance owns one run. Stages execute strictly in
// order, each one blocking until its subprocess exits, and no stage starts
// before the previous stage's declared artifact is confirmed on disk.
// Stage failures are final: the toolchain is deterministic, so retrying a
// failed stage cannot change its outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linusb/megaval/internal/histogram"
	"github.com/linusb/megaval/internal/macro"
	"github.com/linusb/megaval/internal/steering"
)

// StageEvent is one observability record emitted per stage transition.
type StageEvent struct {
	RunID    string
	Seq      int
	Stage    State
	Status   string // "started", "completed", "failed"
	Message  string
	Duration time.Duration
}

// EventSink receives stage events, typically backed by the run store.
type EventSink interface {
	RecordStageEvent(ctx context.Context, ev StageEvent) error
}

// RunResult is the terminal output of a completed pipeline run.
type RunResult struct {
	RunID     string
	Kind      steering.RunKind
	Dir       string
	Histogram *histogram.Histogram

	// Energies holds raw energy samples harvested from legacy macro
	// dialects, when present.
	Energies []float64

	// Artifacts maps labels to the paths of the run's persisted outputs.
	Artifacts map[string]string
}

// Options configures an Orchestrator.
type Options struct {
	// Runner invokes external tools. Nil defaults to an ExecRunner.
	Runner Runner

	// Sink receives stage events. Nil disables event recording.
	Sink EventSink

	// Logger for run progress. Nil uses the default logger.
	Logger *slog.Logger

	// Timeout bounds each tool invocation when Runner is defaulted.
	Timeout time.Duration
}

// Orchestrator drives the fixed stage sequence for one run.
// Not safe for concurrent use; create one instance per run.
type Orchestrator struct {
	cfg    *steering.RunConfig
	kind   steering.RunKind
	runID  string
	naming Naming
	runner Runner
	sink   EventSink
	logger *slog.Logger

	state State
	seq   int
}

// New creates an Orchestrator for one run rooted at runDir.
func New(cfg *steering.RunConfig, kind steering.RunKind, runDir string, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("run_kind", kind.String())

	runner := opts.Runner
	if runner == nil {
		runner = &ExecRunner{Timeout: opts.Timeout, Logger: logger}
	}
	return &Orchestrator{
		cfg:    cfg,
		kind:   kind,
		runID:  uuid.NewString(),
		naming: NewNaming(cfg, runDir),
		runner: runner,
		sink:   opts.Sink,
		logger: logger,
		state:  Idle,
	}
}

// RunID returns the unique identifier of this run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State {
	return o.state
}

// Run executes the full stage sequence and returns the terminal result.
// On failure the orchestrator halts in the Failed state and the error
// carries the failing stage and cause; the run is never retried.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o.state != Idle {
		return nil, fmt.Errorf("pipeline: run already started (state %s)", o.state)
	}
	if err := os.MkdirAll(o.naming.ResultsDir(), 0o755); err != nil {
		o.state = Failed
		return nil, &StageError{Stage: Idle, Err: fmt.Errorf("create results directory: %w", err)}
	}
	o.logger.Info("pipeline starting", "run_id", o.runID, "dir", o.naming.RunDir)

	if err := o.runTool(ctx, Simulating, "cosima",
		[]string{o.cfg.SourceFile},
		o.naming.SimulationFile(),
	); err != nil {
		return nil, err
	}

	if err := o.runTool(ctx, Reconstructing, "revan",
		[]string{"-c", o.cfg.RevanConfig, "-g", o.cfg.GeometryFile, "-f", o.naming.SimulationFile(), "-a", "-n"},
		o.naming.TrackingFile(),
	); err != nil {
		return nil, err
	}

	if err := o.runTool(ctx, SpectrumGeneration, "mimrec",
		[]string{"-c", o.cfg.MimrecConfig, "-g", o.cfg.GeometryFile, "-f", o.naming.TrackingFile(), "-s", "-o", o.naming.SpectrumMacro()},
		o.naming.SpectrumMacro(),
	); err != nil {
		return nil, err
	}

	res, err := o.extract(ctx)
	if err != nil {
		return nil, err
	}

	if err := o.transition(Done); err != nil {
		return nil, err
	}
	o.event(ctx, Done, "completed", "", 0)

	if err := o.organize(); err != nil {
		// The run itself succeeded; a sweep failure only affects
		// housekeeping of byproducts.
		o.logger.Warn("organizing byproducts failed", "error", err)
	}

	o.logger.Info("pipeline complete", "run_id", o.runID, "bins", res.Histogram.Bins(), "total_counts", res.Histogram.Total())
	return res, nil
}

// runTool executes one external stage and confirms its declared artifact.
// A zero exit code alone does not satisfy the stage contract: the artifact
// must exist afterwards.
func (o *Orchestrator) runTool(ctx context.Context, stage State, tool string, args []string, artifact string) error {
	if err := o.transition(stage); err != nil {
		return err
	}
	o.event(ctx, stage, "started", tool+" "+strings.Join(args, " "), 0)
	start := time.Now()

	if err := o.runner.Run(ctx, tool, args, o.naming.RunDir); err != nil {
		return o.fail(ctx, &StageError{
			Stage:    stage,
			Tool:     tool,
			ExitCode: exitCode(err),
			Err:      err,
		}, time.Since(start))
	}
	if _, err := os.Stat(artifact); err != nil {
		return o.fail(ctx, &StageError{
			Stage:    stage,
			Tool:     tool,
			Artifact: artifact,
			Err:      err,
		}, time.Since(start))
	}

	o.event(ctx, stage, "completed", filepath.Base(artifact), time.Since(start))
	return nil
}

// extract runs the in-process histogram extraction stage.
func (o *Orchestrator) extract(ctx context.Context) (*RunResult, error) {
	if err := o.transition(HistogramExtraction); err != nil {
		return nil, err
	}
	o.event(ctx, HistogramExtraction, "started", o.naming.SpectrumMacro(), 0)
	start := time.Now()

	extracted, err := macro.New(o.logger).ExtractFile(o.naming.SpectrumMacro())
	if err != nil {
		return nil, o.fail(ctx, &StageError{Stage: HistogramExtraction, Err: err}, time.Since(start))
	}

	recordPath := o.naming.HistogramRecord(o.kind)
	if err := histogram.WriteFile(extracted.Histogram, recordPath); err != nil {
		return nil, o.fail(ctx, &StageError{Stage: HistogramExtraction, Err: err}, time.Since(start))
	}

	energyPath := o.naming.EnergyList(o.kind)
	if err := writeEnergyList(energyPath, extracted.Energies); err != nil {
		return nil, o.fail(ctx, &StageError{Stage: HistogramExtraction, Err: err}, time.Since(start))
	}

	o.event(ctx, HistogramExtraction, "completed", filepath.Base(recordPath), time.Since(start))
	return &RunResult{
		RunID:     o.runID,
		Kind:      o.kind,
		Dir:       o.naming.RunDir,
		Histogram: extracted.Histogram,
		Energies:  extracted.Energies,
		Artifacts: map[string]string{
			"spectrum_macro":   o.naming.SpectrumMacro(),
			"histogram_record": recordPath,
			"energy_list":      energyPath,
		},
	}, nil
}

// organize relocates run byproducts into the results directory. Only files
// carrying the run's base prefix and a known byproduct suffix move; config
// files and unrelated artifacts stay put.
func (o *Orchestrator) organize() error {
	entries, err := os.ReadDir(o.naming.RunDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !o.naming.sweepMatch(entry.Name()) {
			continue
		}
		src := filepath.Join(o.naming.RunDir, entry.Name())
		dst := filepath.Join(o.naming.ResultsDir(), entry.Name())
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("move %s: %w", entry.Name(), err)
		}
		o.logger.Debug("moved byproduct", "file", entry.Name())
	}
	return nil
}

// fail transitions to Failed, records the event, and returns err.
func (o *Orchestrator) fail(ctx context.Context, serr *StageError, elapsed time.Duration) error {
	if terr := o.transition(Failed); terr != nil {
		o.logger.Error("failure transition rejected", "error", terr)
	}
	o.event(ctx, serr.Stage, "failed", serr.Error(), elapsed)
	o.logger.Error("stage failed", "stage", serr.Stage, "error", serr)
	return serr
}

// event forwards a stage event to the sink, if one is configured.
func (o *Orchestrator) event(ctx context.Context, stage State, status, message string, d time.Duration) {
	if o.sink == nil {
		return
	}
	o.seq++
	ev := StageEvent{
		RunID:    o.runID,
		Seq:      o.seq,
		Stage:    stage,
		Status:   status,
		Message:  message,
		Duration: d,
	}
	if err := o.sink.RecordStageEvent(ctx, ev); err != nil {
		o.logger.Warn("recording stage event failed", "stage", stage, "error", err)
	}
}

// writeEnergyList persists raw energy samples, one per line.
func writeEnergyList(path string, energies []float64) error {
	var b strings.Builder
	for _, e := range energies {
		b.WriteString(strconv.FormatFloat(e, 'g', -1, 64))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write energy list: %w", err)
	}
	return nil
}

// exitCode extracts the subprocess exit code from a runner error, or -1
// when the tool never produced one.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
