// Package report renders comparison outcomes for human consumption.
//
// This is the reporting collaborator boundary: it consumes the comparison
// result record and a map of labeled artifact paths, and produces a plain
// text document. Rendering to PDF, plotting, and mail delivery live outside
// this repository.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/linusb/megaval/internal/compare"
)

// DefaultFileName is the report file written under the output directory.
const DefaultFileName = "validation_report.txt"

// TextReporter writes plain text validation reports.
type TextReporter struct {
	// OutputDir receives the rendered report. Created on demand.
	OutputDir string

	printer *message.Printer
}

// New returns a TextReporter writing into outputDir.
func New(outputDir string) *TextReporter {
	return &TextReporter{
		OutputDir: outputDir,
		printer:   message.NewPrinter(language.English),
	}
}

// Generate renders the report and writes it to the output directory,
// returning the report path.
func (r *TextReporter) Generate(res *compare.Result, artifacts, config map[string]string) (string, error) {
	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output directory: %w", err)
	}
	path := filepath.Join(r.OutputDir, DefaultFileName)
	if err := os.WriteFile(path, []byte(r.Render(res, artifacts, config)), 0o644); err != nil {
		return "", fmt.Errorf("report: write: %w", err)
	}
	return path, nil
}

// Render produces the report text without touching the filesystem.
func (r *TextReporter) Render(res *compare.Result, artifacts, config map[string]string) string {
	p := r.printer
	var b strings.Builder

	b.WriteString("Toolchain Validation Report\n")
	b.WriteString("===========================\n\n")

	if len(config) > 0 {
		b.WriteString("Configuration\n-------------\n")
		for _, k := range sortedKeys(config) {
			fmt.Fprintf(&b, "  %-26s %s\n", k, config[k])
		}
		b.WriteString("\n")
	}

	b.WriteString("Comparison Results\n------------------\n")
	fmt.Fprintf(&b, "  %-26s %s\n", "reference mean / sigma", p.Sprintf("%.4f / %.4f", res.RefMean, res.RefSigma))
	fmt.Fprintf(&b, "  %-26s %s\n", "test mean / sigma", p.Sprintf("%.4f / %.4f", res.TestMean, res.TestSigma))
	fmt.Fprintf(&b, "  %-26s %s\n", "mean difference", p.Sprintf("%.4f", res.MeanDiff))
	fmt.Fprintf(&b, "  %-26s %s\n", "sigma difference", p.Sprintf("%.4f", res.SigmaDiff))
	fmt.Fprintf(&b, "  %-26s %s\n", "max bin difference", p.Sprintf("%.4f", res.MaxDiff))
	fmt.Fprintf(&b, "  %-26s %s\n", "relative significance", p.Sprintf("%.4g", res.RelativeSigma))
	fmt.Fprintf(&b, "  %-26s %s\n", "KS statistic", p.Sprintf("%.4f", res.KSStatistic))
	fmt.Fprintf(&b, "  %-26s %s\n", "KS p-value", p.Sprintf("%.4f", res.KSPValue))
	if res.Degenerate {
		b.WriteString("  NOTE: one or both histograms hold zero total counts\n")
	}
	if res.Inconclusive {
		b.WriteString("  NOTE: comparison inconclusive (empty sample after expansion)\n")
	}
	fmt.Fprintf(&b, "  %-26s %s\n\n", "details", res.Details)

	if len(artifacts) > 0 {
		b.WriteString("Artifacts\n---------\n")
		for _, k := range sortedKeys(artifacts) {
			fmt.Fprintf(&b, "  %-26s %s\n", k, artifacts[k])
		}
		b.WriteString("\n")
	}

	status := "FAIL"
	if res.Pass {
		status = "PASS"
	}
	fmt.Fprintf(&b, "Overall Test Status: %s\n", status)
	return b.String()
}

// FormatCount renders an event count with thousands separators, e.g.
// "Extracted 12,345 energies".
func (r *TextReporter) FormatCount(n int) string {
	return r.printer.Sprintf("%d", n)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
