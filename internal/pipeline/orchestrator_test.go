package pipeline

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

	"github.com/linusb/megaval/internal/histogram"
	"github.com/linusb/megaval/internal/macro"
	"github.com/linusb/megaval/internal/steering"
	"github.com/linusb/megaval/internal/testutil"
)

// fakeRunner dispatches tool invocations to per-tool handlers and records
// the invocation order.
type fakeRunner struct {
	calls    []string
	handlers map[string]func(dir string) error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, dir string) error {
	f.calls = append(f.calls, name)
	h, ok := f.handlers[name]
	if !ok {
		return fmt.Errorf("unexpected tool %q", name)
	}
	return h(dir)
}

type memSink struct {
	events []StageEvent
}

func (s *memSink) RecordStageEvent(ctx context.Context, ev StageEvent) error {
	s.events = append(s.events, ev)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(dir string) *steering.RunConfig {
	return &steering.RunConfig{
		SourceFile:   filepath.Join(dir, "Crab.source"),
		GeometryFile: filepath.Join(dir, "Crab.geo.setup"),
		RevanConfig:  filepath.Join(dir, "Crab.revan.cfg"),
		MimrecConfig: filepath.Join(dir, "Crab.mimrec.cfg"),
		EnergyCut:    [2]float64{10, 2000},
		MaxEvents:    1000,
		Algorithm:    "Standard",
	}
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("stub\n"), 0o644))
}

// happyHandlers wires fake tools that produce every declared artifact plus
// a couple of byproducts for the post-run sweep to pick up.
func happyHandlers(t *testing.T, n Naming, edges, counts []float64) map[string]func(dir string) error {
	t.Helper()
	return map[string]func(dir string) error{
		"cosima": func(dir string) error {
			touch(t, n.SimulationFile())
			touch(t, filepath.Join(dir, n.Base+".absorptions.dat"))
			touch(t, filepath.Join(dir, "notes.txt"))
			return nil
		},
		"revan": func(dir string) error {
			if _, err := os.Stat(n.SimulationFile()); err != nil {
				return fmt.Errorf("simulation output not staged: %w", err)
			}
			touch(t, n.TrackingFile())
			return nil
		},
		"mimrec": func(dir string) error {
			testutil.WriteSpectrumMacro(t, n.SpectrumMacro(), edges, counts)
			return nil
		},
	}
}

func TestRun_HappyPath(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	edges := []float64{0, 1, 2, 3, 4}
	counts := []float64{3, 10, 10, 2}

	naming := NewNaming(cfg, runDir)
	fr := &fakeRunner{handlers: happyHandlers(t, naming, edges, counts)}
	sink := &memSink{}
	o := New(cfg, steering.Reference, runDir, Options{Runner: fr, Sink: sink, Logger: quietLogger()})

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, o.State())
	assert.Equal(t, []string{"cosima", "revan", "mimrec"}, fr.calls)

	require.NotNil(t, res)
	assert.Equal(t, o.RunID(), res.RunID)
	assert.Equal(t, steering.Reference, res.Kind)
	assert.Equal(t, counts, res.Histogram.Counts)
	assert.Equal(t, edges, res.Histogram.Edges)

	// The persisted record round-trips to the extracted histogram.
	recorded, err := histogram.ReadFile(res.Artifacts["histogram_record"])
	require.NoError(t, err)
	assert.Equal(t, res.Histogram, recorded)
	assert.FileExists(t, res.Artifacts["energy_list"])
	assert.FileExists(t, res.Artifacts["spectrum_macro"])
}

// cwdToolRunner emulates real tool path semantics: the subprocess runs
// with dir as its working directory, so any relative argument path
// resolves against dir, not against this process's working directory.
type cwdToolRunner struct {
	t *testing.T
}

func (r *cwdToolRunner) Run(ctx context.Context, name string, args []string, dir string) error {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	flagValue := func(flag string) string {
		for i, a := range args {
			if a == flag && i+1 < len(args) {
				return args[i+1]
			}
		}
		return ""
	}
	switch name {
	case "cosima":
		if _, err := os.Stat(resolve(args[0])); err != nil {
			return fmt.Errorf("source file not found from tool cwd: %s", args[0])
		}
		base := filepath.Base(args[0])
		base = base[:len(base)-len(filepath.Ext(base))]
		touch(r.t, filepath.Join(dir, base+".inc1.id1.sim.gz"))
		return nil
	case "revan":
		if _, err := os.Stat(resolve(flagValue("-f"))); err != nil {
			return fmt.Errorf("input file not found from tool cwd: %s", flagValue("-f"))
		}
		out := resolve(flagValue("-f"))
		touch(r.t, out[:len(out)-len(".sim.gz")]+".tra.gz")
		return nil
	case "mimrec":
		if _, err := os.Stat(resolve(flagValue("-f"))); err != nil {
			return fmt.Errorf("input file not found from tool cwd: %s", flagValue("-f"))
		}
		testutil.WriteSpectrumMacro(r.t, resolve(flagValue("-o")), []float64{0, 1, 2}, []float64{4, 6})
		return nil
	default:
		return fmt.Errorf("unexpected tool %q", name)
	}
}

func TestRun_RelativeRunDir(t *testing.T) {
	base := t.TempDir()
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(base))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })

	runDir := filepath.Join("work", "run_ref")
	require.NoError(t, os.MkdirAll(runDir, 0o755))

	// Input paths come out of the steering loader absolute; only the run
	// directory is relative here.
	absRunDir, err := filepath.Abs(runDir)
	require.NoError(t, err)
	cfg := testConfig(absRunDir)
	touch(t, cfg.SourceFile)

	o := New(cfg, steering.Reference, runDir, Options{Runner: &cwdToolRunner{t: t}, Logger: quietLogger()})

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done, o.State())
	assert.True(t, filepath.IsAbs(res.Dir))
	for label, path := range res.Artifacts {
		assert.True(t, filepath.IsAbs(path), "artifact %s path %q must be absolute", label, path)
	}
	assert.Equal(t, []float64{4, 6}, res.Histogram.Counts)
}

func TestRun_SweepsByproductsIntoResults(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	naming := NewNaming(cfg, runDir)
	fr := &fakeRunner{handlers: happyHandlers(t, naming, []float64{0, 1, 2}, []float64{4, 6})}
	o := New(cfg, steering.Test, runDir, Options{Runner: fr, Logger: quietLogger()})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	// Base-prefixed byproducts move into results.
	assert.FileExists(t, filepath.Join(runDir, "results", "Crab.inc1.id1.sim.gz"))
	assert.FileExists(t, filepath.Join(runDir, "results", "Crab.inc1.id1.tra.gz"))
	assert.FileExists(t, filepath.Join(runDir, "results", "Crab.absorptions.dat"))
	assert.NoFileExists(t, filepath.Join(runDir, "Crab.inc1.id1.sim.gz"))

	// Unrelated files stay put.
	assert.FileExists(t, filepath.Join(runDir, "notes.txt"))
}

func TestRun_StageEventsOrdered(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	naming := NewNaming(cfg, runDir)
	fr := &fakeRunner{handlers: happyHandlers(t, naming, []float64{0, 1, 2}, []float64{4, 6})}
	sink := &memSink{}
	o := New(cfg, steering.Reference, runDir, Options{Runner: fr, Sink: sink, Logger: quietLogger()})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, sink.events)
	for i, ev := range sink.events {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, o.RunID(), ev.RunID)
	}
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, Done, last.Stage)
	assert.Equal(t, "completed", last.Status)
}

func TestRun_SecondStageFailureHaltsPipeline(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	naming := NewNaming(cfg, runDir)

	handlers := happyHandlers(t, naming, []float64{0, 1, 2}, []float64{4, 6})
	handlers["revan"] = func(dir string) error {
		return errors.New("reconstruction crashed")
	}
	fr := &fakeRunner{handlers: handlers}
	sink := &memSink{}
	o := New(cfg, steering.Reference, runDir, Options{Runner: fr, Sink: sink, Logger: quietLogger()})

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, o.State())
	assert.True(t, IsStageError(err))
	assert.Equal(t, Reconstructing, FailedStage(err))

	// The downstream stage never starts.
	assert.NotContains(t, fr.calls, "mimrec")

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, "failed", last.Status)
	assert.Equal(t, Reconstructing, last.Stage)
}

func TestRun_CleanExitWithoutArtifactFails(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	naming := NewNaming(cfg, runDir)

	fr := &fakeRunner{handlers: map[string]func(dir string) error{
		"cosima": func(dir string) error { return nil },
	}}
	o := New(cfg, steering.Reference, runDir, Options{Runner: fr, Logger: quietLogger()})

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, o.State())

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Simulating, se.Stage)
	assert.Equal(t, naming.SimulationFile(), se.Artifact)
}

func TestRun_UnparseableMacroFailsExtraction(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	naming := NewNaming(cfg, runDir)

	handlers := happyHandlers(t, naming, []float64{0, 1, 2}, []float64{4, 6})
	handlers["mimrec"] = func(dir string) error {
		// A macro with no bin edge declaration cannot yield a histogram.
		return os.WriteFile(naming.SpectrumMacro(), []byte("void spectrum()\n{\n}\n"), 0o644)
	}
	fr := &fakeRunner{handlers: handlers}
	o := New(cfg, steering.Reference, runDir, Options{Runner: fr, Logger: quietLogger()})

	_, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, Failed, o.State())
	assert.Equal(t, HistogramExtraction, FailedStage(err))
	assert.True(t, macro.IsParseError(err))
}

func TestRun_RejectsSecondInvocation(t *testing.T) {
	runDir := t.TempDir()
	cfg := testConfig(runDir)
	naming := NewNaming(cfg, runDir)
	fr := &fakeRunner{handlers: happyHandlers(t, naming, []float64{0, 1, 2}, []float64{4, 6})}
	o := New(cfg, steering.Reference, runDir, Options{Runner: fr, Logger: quietLogger()})

	_, err := o.Run(context.Background())
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}
