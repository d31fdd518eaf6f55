package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linusb/megaval/internal/compare"
	"github.com/linusb/megaval/internal/pipeline"
	"github.com/linusb/megaval/internal/steering"
	"github.com/linusb/megaval/internal/store"
	"github.com/linusb/megaval/internal/testutil"
)

// toolRunner fakes the external toolchain for both sides of a dual run.
// Each mimrec invocation pops the next macro off the queue, so the two
// runs can produce different spectra.
type toolRunner struct {
	cfg      *steering.RunConfig
	macros   []string
	failTool string
}

func (r *toolRunner) Run(ctx context.Context, name string, args []string, dir string) error {
	if name == r.failTool {
		return errors.New("tool crashed")
	}
	n := pipeline.NewNaming(r.cfg, dir)
	switch name {
	case "cosima":
		return os.WriteFile(n.SimulationFile(), []byte("sim\n"), 0o644)
	case "revan":
		return os.WriteFile(n.TrackingFile(), []byte("tra\n"), 0o644)
	case "mimrec":
		if len(r.macros) == 0 {
			return errors.New("no macro queued")
		}
		m := r.macros[0]
		r.macros = r.macros[1:]
		return os.WriteFile(n.SpectrumMacro(), []byte(m), 0o644)
	default:
		return fmt.Errorf("unexpected tool %q", name)
	}
}

func testSupervisor(t *testing.T, runner pipeline.Runner, st *store.Store) (*Supervisor, string) {
	t.Helper()
	workDir := t.TempDir()
	cfg := &steering.RunConfig{
		SourceFile:   filepath.Join(workDir, "Crab.source"),
		GeometryFile: filepath.Join(workDir, "Crab.geo.setup"),
		RevanConfig:  filepath.Join(workDir, "Crab.revan.cfg"),
		MimrecConfig: filepath.Join(workDir, "Crab.mimrec.cfg"),
		EnergyCut:    [2]float64{10, 2000},
		MaxEvents:    1000,
		Algorithm:    "Standard",
	}
	return &Supervisor{
		WorkDir: workDir,
		Config:  cfg,
		Runner:  runner,
		Store:   st,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, workDir
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "megaval.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRun_PassingValidation(t *testing.T) {
	st := openStore(t)
	edges := []float64{0, 1, 2, 3, 4}
	counts := []float64{3, 10, 10, 2}
	macro := testutil.SpectrumMacro(edges, counts)

	var s *Supervisor
	var workDir string
	runner := &toolRunner{macros: []string{macro, macro}}
	s, workDir = testSupervisor(t, runner, st)
	runner.cfg = s.Config

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Result.Pass)

	// Both runs execute in disjoint directories with their own config copy.
	assert.FileExists(t, filepath.Join(workDir, "run_ref", "steering_config.json"))
	assert.FileExists(t, filepath.Join(workDir, "run_test", "steering_config.json"))
	assert.FileExists(t, filepath.Join(workDir, "run_ref", "results", "reference_histogram.json"))
	assert.FileExists(t, filepath.Join(workDir, "run_test", "results", "test_histogram.json"))

	// The comparison record round-trips.
	rec, err := compare.ReadRecord(outcome.RecordPath)
	require.NoError(t, err)
	assert.Equal(t, outcome.Result, rec.Results)
	assert.Contains(t, rec.Histograms, "reference_histogram")

	// The report names the verdict and formats the event count.
	data, err := os.ReadFile(outcome.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Overall Test Status: PASS")
	assert.Contains(t, string(data), "1,000")

	// Run history landed in the store.
	ctx := context.Background()
	refRow, err := st.GetRun(ctx, outcome.RefRun.RunID)
	require.NoError(t, err)
	assert.Equal(t, "reference", refRow.Kind)
	assert.Equal(t, "done", refRow.State)
	assert.False(t, refRow.FinishedAt.IsZero())

	events, err := st.StageEvents(ctx, outcome.RefRun.RunID)
	require.NoError(t, err)
	assert.NotEmpty(t, events)

	comps, err := st.RecentComparisons(ctx, 5)
	require.NoError(t, err)
	require.Len(t, comps, 1)
	assert.True(t, comps[0].Pass)
	assert.Equal(t, outcome.RefRun.RunID, comps[0].RefRunID)
	assert.Equal(t, outcome.TestRun.RunID, comps[0].TestRunID)
}

func TestRun_FailVerdictIsNotAnError(t *testing.T) {
	edges := []float64{0, 1, 2, 3, 4}
	refMacro := testutil.SpectrumMacro(edges, []float64{0, 50, 50, 0})
	testMacro := testutil.SpectrumMacro(edges, []float64{50, 0, 0, 50})

	runner := &toolRunner{macros: []string{refMacro, testMacro}}
	s, _ := testSupervisor(t, runner, nil)
	runner.cfg = s.Config

	outcome, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, outcome.Result.Pass)

	data, err := os.ReadFile(outcome.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Overall Test Status: FAIL")
}

func TestRun_ReferenceStageFailureAborts(t *testing.T) {
	runner := &toolRunner{failTool: "revan"}
	s, workDir := testSupervisor(t, runner, nil)
	runner.cfg = s.Config

	outcome, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.Contains(t, err.Error(), "reference run")
	assert.True(t, pipeline.IsStageError(err))
	assert.Equal(t, pipeline.Reconstructing, pipeline.FailedStage(err))

	// The test run never starts.
	assert.NoDirExists(t, filepath.Join(workDir, "run_test"))
	// No comparison record or report is produced.
	assert.NoFileExists(t, filepath.Join(workDir, ComparisonDirName, "comparison_results.json"))
}

func TestRun_FailedRunRecordedInStore(t *testing.T) {
	st := openStore(t)
	runner := &toolRunner{failTool: "cosima"}
	s, _ := testSupervisor(t, runner, st)
	runner.cfg = s.Config

	_, err := s.Run(context.Background())
	require.Error(t, err)

	comps, err := st.RecentComparisons(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, comps)
}
