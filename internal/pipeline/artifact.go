package pipeline

import (
	"path/filepath"
	"strings"

	"github.com/linusb/megaval/internal/steering"
)

// ArtifactKind classifies a stage output.
type ArtifactKind string

const (
	ArtifactSimulation ArtifactKind = "simulation"
	ArtifactTracking   ArtifactKind = "tracking"
	ArtifactSpectrum   ArtifactKind = "spectrum_macro"
	ArtifactHistogram  ArtifactKind = "histogram_record"
	ArtifactEnergyList ArtifactKind = "energy_list"
)

// Artifact is a named, typed stage output at a deterministic location.
type Artifact struct {
	Kind ArtifactKind
	Path string
}

// ResultsDirName is the per-run subdirectory collecting stage outputs.
const ResultsDirName = "results"

// sweepExtensions are the byproduct suffixes moved into the results
// directory after a completed run. Anything else (configs, geometry,
// steering files) is left untouched.
var sweepExtensions = []string{".sim.gz", ".tra.gz", ".root", ".C", ".txt", ".dat"}

// Naming derives every stage filename from the base name of the primary
// simulation input. All producer/consumer paths flow through this one type
// so the per-stage suffix conventions can never drift apart.
type Naming struct {
	// Base is the simulation input's file name with its extension
	// stripped, e.g. "Crab" for "Crab.source".
	Base string

	// RunDir is the directory the run executes in. External tools write
	// their byproducts here.
	RunDir string
}

// NewNaming builds the naming scheme for one run. The run directory is
// made absolute up front: external tools execute with RunDir as their
// working directory, so a relative artifact path would resolve against
// the wrong base inside the tool.
func NewNaming(cfg *steering.RunConfig, runDir string) Naming {
	if abs, err := filepath.Abs(runDir); err == nil {
		runDir = abs
	}
	name := filepath.Base(cfg.SourceFile)
	return Naming{
		Base:   strings.TrimSuffix(name, filepath.Ext(name)),
		RunDir: runDir,
	}
}

// ResultsDir returns the per-run output directory.
func (n Naming) ResultsDir() string {
	return filepath.Join(n.RunDir, ResultsDirName)
}

// SimulationFile is the simulator's output for the first parallel stream.
func (n Naming) SimulationFile() string {
	return filepath.Join(n.RunDir, n.Base+".inc1.id1.sim.gz")
}

// TrackingFile is the reconstructed event file produced from the
// simulation output.
func (n Naming) TrackingFile() string {
	return filepath.Join(n.RunDir, n.Base+".inc1.id1.tra.gz")
}

// SpectrumMacro is the generated spectrum macro artifact.
func (n Naming) SpectrumMacro() string {
	return filepath.Join(n.ResultsDir(), "spectrum.C")
}

// HistogramRecord is the extracted histogram interchange record.
func (n Naming) HistogramRecord(kind steering.RunKind) string {
	return filepath.Join(n.ResultsDir(), kind.String()+"_histogram.json")
}

// EnergyList is the flat per-event energy sample file.
func (n Naming) EnergyList(kind steering.RunKind) string {
	return filepath.Join(n.ResultsDir(), kind.String()+"_energy.txt")
}

// sweepMatch reports whether a byproduct file name belongs to this run:
// it must carry the run's base prefix and one of the known suffixes.
func (n Naming) sweepMatch(name string) bool {
	if !strings.HasPrefix(name, n.Base) {
		return false
	}
	for _, ext := range sweepExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
