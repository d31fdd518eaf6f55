// Package macro parses generated spectrum macro artifacts into histograms.
//
// The macro text is produced by the spectrum stage of the external toolchain
// and its exact shape varies between toolchain versions. Parsing is therefore
// deliberately lenient: individual malformed lines degrade to a zero bin,
// and only wholesale absence of an axis declaration is fatal.
package macro

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/linusb/megaval/internal/histogram"
)

// ParseError reports a macro artifact from which no histogram can be built.
type ParseError struct {
	Path    string
	Message string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("macro %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("macro: %s", e.Message)
}

// IsParseError reports whether err is a ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Result is the output of one extraction: the canonical histogram plus any
// raw energy samples found in legacy fill-style dialects.
type Result struct {
	Histogram *histogram.Histogram

	// Energies holds raw per-event energy values harvested from
	// fill/assignment dialects. Secondary product; does not contribute
	// to the histogram counts.
	Energies []float64
}

// matchKind tags the outcome of a single line matcher.
type matchKind int

const (
	matchNone matchKind = iota
	matchBinContent
	matchEnergy
)

// lineMatch is the tagged result of matching one line.
type lineMatch struct {
	kind  matchKind
	index int     // 1-based bin index for matchBinContent
	value float64 // bin content or energy sample
}

// Matcher recognizes one output dialect on a single line. Matchers are tried
// in priority order; the first match wins for that line.
type Matcher struct {
	Name  string
	match func(line string) (lineMatch, bool)
}

// Axis declaration marker: a C-style numeric array literal such as
//
//	Double_t xAxis1[41] = {10, 59.75, ...};
//	double edges[] = { 0, 1, 2 };
var edgeDeclRe = regexp.MustCompile(`(?i)\b(?:double|float)(?:_t)?\s+\w+\s*\[[^\]]*\]\s*=\s*\{`)

var (
	binContentRe   = regexp.MustCompile(`SetBinContent\s*\(\s*([^,()]+)\s*,\s*([^,()]+?)\s*\)`)
	energyAssignRe = regexp.MustCompile(`\bEnergy\s*(?:\[[^\]]*\])?\s*=\s*([^;=]+);`)
	energyFillRe   = regexp.MustCompile(`->\s*Fill\s*\(\s*([^,()]+?)\s*\)`)
	energyPushRe   = regexp.MustCompile(`push_back\s*\(\s*([^,()]+?)\s*\)`)
)

// Extractor converts one spectrum macro artifact into a histogram.
// The zero value is not usable; construct with New.
type Extractor struct {
	matchers []Matcher
	logger   *slog.Logger
}

// New returns an Extractor with all known dialect matchers enabled, in
// priority order: explicit bin contents first, then the legacy energy-fill
// dialects.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger: logger,
		matchers: []Matcher{
			{Name: "bin-content", match: matchBinContentLine},
			{Name: "energy-assign", match: matchEnergyAssign},
			{Name: "energy-fill", match: matchEnergyFill},
			{Name: "energy-push", match: matchEnergyPush},
		},
	}
}

// Disable removes the named dialect matcher. Unknown names are ignored.
func (ex *Extractor) Disable(name string) {
	kept := ex.matchers[:0]
	for _, m := range ex.matchers {
		if m.Name != name {
			kept = append(kept, m)
		}
	}
	ex.matchers = kept
}

// ExtractFile parses the macro artifact at path.
func (ex *Extractor) ExtractFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open macro artifact: %w", err)
	}
	defer f.Close()

	res, err := ex.Extract(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return res, nil
}

// Extract parses macro text from r.
//
// Pass 1 locates the axis declaration and collects its edge values; pass 2
// applies the per-line dialect matchers to fill bin contents and harvest
// energy samples. Indices follow the 1-based source convention: bin 0 and
// bin n+1 are the under/overflow bins and are ignored.
func (ex *Extractor) Extract(r io.Reader) (*Result, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read macro artifact: %w", err)
	}

	edges, err := findEdges(lines)
	if err != nil {
		return nil, err
	}
	counts := make([]float64, len(edges)-1)

	res := &Result{}
	for _, line := range lines {
		for _, m := range ex.matchers {
			lm, ok := m.match(line)
			if !ok {
				continue
			}
			switch lm.kind {
			case matchBinContent:
				switch {
				case lm.index < 1 || lm.index > len(counts):
					// Index 0 and n+1 are the under/overflow bins.
					ex.logger.Debug("ignoring out-of-range bin", "index", lm.index, "bins", len(counts))
				case lm.value < 0:
					ex.logger.Debug("ignoring negative bin content", "index", lm.index, "value", lm.value)
				default:
					counts[lm.index-1] = lm.value
				}
			case matchEnergy:
				res.Energies = append(res.Energies, lm.value)
			}
			break
		}
	}

	h, err := histogram.New(counts, edges)
	if err != nil {
		return nil, &ParseError{Message: err.Error()}
	}
	res.Histogram = h

	ex.logger.Debug("macro extracted",
		"bins", h.Bins(),
		"total", h.Total(),
		"energies", len(res.Energies),
	)
	return res, nil
}

// findEdges locates the axis declaration and parses its numeric values.
// The brace literal may span multiple lines. Non-numeric tokens inside the
// braces are skipped; a declaration with fewer than two usable values is
// rejected because a histogram needs at least one bin.
func findEdges(lines []string) ([]float64, error) {
	for i, line := range lines {
		loc := edgeDeclRe.FindStringIndex(line)
		if loc == nil {
			continue
		}

		var edges []float64
		rest := line[loc[1]:]
		for j := i; ; j++ {
			closed := false
			if k := strings.IndexByte(rest, '}'); k >= 0 {
				rest = rest[:k]
				closed = true
			}
			for _, tok := range strings.FieldsFunc(rest, func(r rune) bool {
				return r == ',' || r == ' ' || r == '\t' || r == ';'
			}) {
				v, err := strconv.ParseFloat(tok, 64)
				if err != nil {
					continue // tolerate stray tokens inside the literal
				}
				edges = append(edges, v)
			}
			if closed || j+1 >= len(lines) {
				break
			}
			rest = lines[j+1]
		}

		if len(edges) < 2 {
			return nil, &ParseError{Message: fmt.Sprintf("axis declaration has %d numeric values, need at least 2", len(edges))}
		}
		return edges, nil
	}
	return nil, &ParseError{Message: "no axis edge declaration found"}
}

func matchBinContentLine(line string) (lineMatch, bool) {
	m := binContentRe.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(m[1]))
	if err != nil {
		return lineMatch{}, false
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(m[2]), 64)
	if err != nil {
		return lineMatch{}, false
	}
	return lineMatch{kind: matchBinContent, index: idx, value: val}, true
}

func matchEnergyAssign(line string) (lineMatch, bool) {
	m := energyAssignRe.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil {
		return lineMatch{}, false
	}
	return lineMatch{kind: matchEnergy, value: val}, true
}

func matchEnergyFill(line string) (lineMatch, bool) {
	m := energyFillRe.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil {
		return lineMatch{}, false
	}
	return lineMatch{kind: matchEnergy, value: val}, true
}

func matchEnergyPush(line string) (lineMatch, bool) {
	m := energyPushRe.FindStringSubmatch(line)
	if m == nil {
		return lineMatch{}, false
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(m[1]), 64)
	if err != nil {
		return lineMatch{}, false
	}
	return lineMatch{kind: matchEnergy, value: val}, true
}
