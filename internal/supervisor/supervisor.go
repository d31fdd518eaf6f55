// Package supervisor coordinates a full dual-run validation: two pipeline
// runs over the same configuration, histogram comparison, persistence, and
// report generation.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/linusb/megaval/internal/compare"
	"github.com/linusb/megaval/internal/pipeline"
	"github.com/linusb/megaval/internal/report"
	"github.com/linusb/megaval/internal/steering"
	"github.com/linusb/megaval/internal/store"
)

// ComparisonDirName holds the comparison record under the work directory.
const ComparisonDirName = "comparison"

// ReportsDirName holds rendered reports under the work directory.
const ReportsDirName = "reports"

// Supervisor drives the reference and test pipelines and compares their
// spectra. The two runs write into disjoint directories and share no
// mutable state; they execute sequentially.
type Supervisor struct {
	// WorkDir is the root directory containing run_ref/ and run_test/.
	WorkDir string

	// Config is the shared run configuration. Both runs receive their
	// own saved copy.
	Config *steering.RunConfig

	// SigmaTolerance bounds the relative sigma difference for a pass.
	// Non-positive selects compare.DefaultSigmaTolerance.
	SigmaTolerance float64

	// Runner overrides tool invocation, used by tests. Nil selects the
	// real subprocess runner.
	Runner pipeline.Runner

	// Store receives run history rows. Nil disables persistence.
	Store *store.Store

	// Timeout bounds each tool invocation. Zero waits indefinitely.
	Timeout time.Duration

	// Logger for coordination progress. Nil uses the default logger.
	Logger *slog.Logger
}

// Outcome bundles everything a caller needs after a dual run.
type Outcome struct {
	Result     *compare.Result
	RecordPath string
	ReportPath string
	RefRun     *pipeline.RunResult
	TestRun    *pipeline.RunResult
}

// Run executes the full validation. The returned error is non-nil only for
// operational failures (stage failure, parse failure, I/O); a FAIL verdict
// with healthy plumbing returns a nil error and Outcome.Result.Pass false.
func (s *Supervisor) Run(ctx context.Context) (*Outcome, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	refRun, err := s.runOne(ctx, steering.Reference, logger)
	if err != nil {
		return nil, err
	}
	testRun, err := s.runOne(ctx, steering.Test, logger)
	if err != nil {
		return nil, err
	}

	engine := compare.New(s.SigmaTolerance, logger)
	result := engine.Compare(refRun.Histogram, testRun.Histogram)

	artifacts := map[string]string{
		"reference_histogram": refRun.Artifacts["histogram_record"],
		"test_histogram":      testRun.Artifacts["histogram_record"],
		"reference_energies":  refRun.Artifacts["energy_list"],
		"test_energies":       testRun.Artifacts["energy_list"],
	}

	compDir := filepath.Join(s.WorkDir, ComparisonDirName)
	if err := os.MkdirAll(compDir, 0o755); err != nil {
		return nil, fmt.Errorf("create comparison directory: %w", err)
	}
	recordPath := filepath.Join(compDir, "comparison_results.json")
	if err := compare.WriteRecord(recordPath, result, artifacts); err != nil {
		return nil, err
	}

	if s.Store != nil {
		rec := store.ComparisonRecord{
			ID:            uuid.NewString(),
			RefRunID:      refRun.RunID,
			TestRunID:     testRun.RunID,
			Pass:          result.Pass,
			KSStatistic:   result.KSStatistic,
			KSPValue:      result.KSPValue,
			SigmaDiff:     result.SigmaDiff,
			RelativeSigma: result.RelativeSigma,
			Details:       result.Details,
			CreatedAt:     time.Now(),
		}
		if err := s.Store.WriteComparison(ctx, rec); err != nil {
			logger.Warn("persisting comparison failed", "error", err)
		}
	}

	reporter := report.New(filepath.Join(s.WorkDir, ReportsDirName))
	reportPath, err := reporter.Generate(result, artifacts, s.configSummary(reporter))
	if err != nil {
		return nil, err
	}

	logger.Info("validation complete",
		"pass", result.Pass,
		"record", recordPath,
		"report", reportPath,
	)
	return &Outcome{
		Result:     result,
		RecordPath: recordPath,
		ReportPath: reportPath,
		RefRun:     refRun,
		TestRun:    testRun,
	}, nil
}

// runOne executes a single pipeline run for one side of the comparison.
func (s *Supervisor) runOne(ctx context.Context, kind steering.RunKind, logger *slog.Logger) (*pipeline.RunResult, error) {
	runDir := filepath.Join(s.WorkDir, kind.DirName())
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	// Record the configuration the run executed with.
	if err := s.Config.Save(filepath.Join(runDir, "steering_config.json")); err != nil {
		return nil, err
	}

	var sink pipeline.EventSink
	if s.Store != nil {
		sink = &storeSink{st: s.Store}
	}
	orch := pipeline.New(s.Config, kind, runDir, pipeline.Options{
		Runner:  s.Runner,
		Sink:    sink,
		Logger:  logger,
		Timeout: s.Timeout,
	})

	if s.Store != nil {
		rec := store.RunRecord{
			ID:        orch.RunID(),
			Kind:      kind.String(),
			WorkDir:   runDir,
			State:     string(pipeline.Idle),
			StartedAt: time.Now(),
		}
		if err := s.Store.BeginRun(ctx, rec); err != nil {
			logger.Warn("persisting run failed", "error", err)
		}
	}

	res, runErr := orch.Run(ctx)

	if s.Store != nil {
		if err := s.Store.FinishRun(ctx, orch.RunID(), string(orch.State()), time.Now()); err != nil {
			logger.Warn("finishing run record failed", "error", err)
		}
	}
	if runErr != nil {
		return nil, fmt.Errorf("%s run: %w", kind, runErr)
	}
	return res, nil
}

// configSummary flattens the run configuration for the report header.
func (s *Supervisor) configSummary(r *report.TextReporter) map[string]string {
	c := s.Config
	return map[string]string{
		"cosima_file":              c.SourceFile,
		"geometry_file":            c.GeometryFile,
		"revan_output":             c.RevanConfig,
		"mimrec_output":            c.MimrecConfig,
		"energy_cut":               fmt.Sprintf("[%g, %g]", c.EnergyCut[0], c.EnergyCut[1]),
		"max_events":               r.FormatCount(c.MaxEvents),
		"reconstruction_algorithm": c.Algorithm,
	}
}

// storeSink adapts the run store to the pipeline's event sink.
type storeSink struct {
	st *store.Store
}

func (s *storeSink) RecordStageEvent(ctx context.Context, ev pipeline.StageEvent) error {
	return s.st.WriteStageEvent(ctx, store.StageEventRecord{
		RunID:      ev.RunID,
		Seq:        ev.Seq,
		Stage:      string(ev.Stage),
		Status:     ev.Status,
		Message:    ev.Message,
		DurationMS: ev.Duration.Milliseconds(),
	})
}
