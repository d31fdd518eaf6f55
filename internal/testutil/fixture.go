// Package testutil provides deterministic fixtures for tests: generated
// spectrum macros and steering inputs that mirror real toolchain output.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// SpectrumMacro renders a ROOT-style spectrum macro with the given bin
// edges and contents, in the dialect the spectrum stage emits.
func SpectrumMacro(edges, counts []float64) string {
	var b strings.Builder
	b.WriteString("void spectrum()\n{\n")
	b.WriteString("   TCanvas *c1 = new TCanvas(\"c1\", \"Energy Spectrum\");\n")

	b.WriteString(fmt.Sprintf("   Double_t xAxis1[%d] = {", len(edges)))
	for i, e := range edges {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("%g", e))
	}
	b.WriteString("};\n")

	b.WriteString(fmt.Sprintf("   TH1D *hist = new TH1D(\"hist\",\"Energy\",%d, xAxis1);\n", len(edges)-1))
	for i, c := range counts {
		if c == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("   hist->SetBinContent(%d,%g);\n", i+1, c))
	}
	b.WriteString("   hist->Draw(\"\");\n}\n")
	return b.String()
}

// WriteSpectrumMacro writes a generated macro to path.
func WriteSpectrumMacro(t *testing.T, path string, edges, counts []float64) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(SpectrumMacro(edges, counts)), 0o644))
}

// SteeringFixture creates a steering config plus its four referenced input
// files under dir and returns the steering file path.
func SteeringFixture(t *testing.T, dir string) string {
	t.Helper()

	inputs := map[string]string{
		"Crab.source":     "# simulation source\n",
		"Crab.geo.setup":  "# geometry\n",
		"Crab.revan.cfg":  "# reconstruction config\n",
		"Crab.mimrec.cfg": "# spectrum config\n",
	}
	for name, content := range inputs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	config := fmt.Sprintf(`{
  "cosima_file": %q,
  "geometry_file": %q,
  "revan_output": %q,
  "mimrec_output": %q,
  "energy_cut": [10, 2000],
  "max_events": 1000
}`,
		filepath.Join(dir, "Crab.source"),
		filepath.Join(dir, "Crab.geo.setup"),
		filepath.Join(dir, "Crab.revan.cfg"),
		filepath.Join(dir, "Crab.mimrec.cfg"),
	)
	path := filepath.Join(dir, "steering_config.json")
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))
	return path
}
