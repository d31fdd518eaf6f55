// Package steering loads and validates per-run configuration.
//
// A steering file names the four toolchain inputs (simulation source,
// geometry, reconstruction config, spectrum config) plus the numeric run
// parameters. JSON is the native format; YAML is accepted for hand-written
// configs. Every load is validated against an embedded CUE schema before
// the field-level checks run.
package steering

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Defaults applied when the steering file omits optional fields.
const (
	DefaultEnergyCutLow  = 10
	DefaultEnergyCutHigh = 2000
	DefaultMaxEvents     = 100000
	DefaultAlgorithm     = "Standard"
)

// RunKind identifies which side of the comparison a run belongs to.
// It is always passed explicitly; components never infer it from paths.
type RunKind int

const (
	Reference RunKind = iota
	Test
)

// String returns the short name used in artifact and directory names.
func (k RunKind) String() string {
	switch k {
	case Reference:
		return "reference"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("RunKind(%d)", int(k))
	}
}

// DirName returns the run directory name for this kind.
func (k RunKind) DirName() string {
	if k == Reference {
		return "run_ref"
	}
	return "run_test"
}

// RunConfig holds the immutable per-run settings. Created once before the
// pipeline starts; owned by exactly one orchestrator instance.
type RunConfig struct {
	// SourceFile is the simulation input (.source).
	SourceFile string `json:"cosima_file" yaml:"cosima_file"`

	// GeometryFile is the detector geometry description (.geo.setup).
	GeometryFile string `json:"geometry_file" yaml:"geometry_file"`

	// RevanConfig is the event reconstruction settings file (.revan.cfg).
	RevanConfig string `json:"revan_output" yaml:"revan_output"`

	// MimrecConfig is the spectrum analysis settings file (.mimrec.cfg).
	MimrecConfig string `json:"mimrec_output" yaml:"mimrec_output"`

	// EnergyCut is the [low, high] energy window in keV, low <= high.
	EnergyCut [2]float64 `json:"energy_cut" yaml:"energy_cut"`

	// MaxEvents bounds the simulated event count. Positive.
	MaxEvents int `json:"max_events" yaml:"max_events"`

	// Algorithm selects the reconstruction algorithm.
	Algorithm string `json:"reconstruction_algorithm,omitempty" yaml:"reconstruction_algorithm,omitempty"`
}

// ConfigError reports an invalid or unusable steering configuration.
type ConfigError struct {
	Code    string // MISSING_FIELD, FILE_NOT_FOUND, INVALID_VALUE, SCHEMA_VIOLATION, UNREADABLE
	Field   string // offending field, if applicable
	Path    string // steering file or referenced file path
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("steering: %s: field %q: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("steering: %s: %s", e.Code, e.Message)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Load reads, schema-checks, and validates a steering file. The format is
// chosen by extension: .yaml/.yml parse as YAML, everything else as JSON.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Code: "UNREADABLE", Path: path, Message: err.Error()}
	}

	cfg := &RunConfig{
		EnergyCut: [2]float64{DefaultEnergyCutLow, DefaultEnergyCutHigh},
		MaxEvents: DefaultMaxEvents,
		Algorithm: DefaultAlgorithm,
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Code: "UNREADABLE", Path: path, Message: fmt.Sprintf("parse YAML: %v", err)}
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Code: "UNREADABLE", Path: path, Message: fmt.Sprintf("parse JSON: %v", err)}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateSchema(cfg); err != nil {
		return nil, err
	}
	// Resolve all paths relative to the steering file's directory so the
	// config is usable from any working directory.
	base := filepath.Dir(path)
	cfg.SourceFile = resolve(base, cfg.SourceFile)
	cfg.GeometryFile = resolve(base, cfg.GeometryFile)
	cfg.RevanConfig = resolve(base, cfg.RevanConfig)
	cfg.MimrecConfig = resolve(base, cfg.MimrecConfig)

	if err := cfg.CheckInputs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateSchema unifies the loaded config with the embedded CUE schema.
func validateSchema(cfg *RunConfig) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("steering: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Steering"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("steering: schema definition: %w", err)
	}

	val := ctx.Encode(cfg)
	if err := val.Err(); err != nil {
		return fmt.Errorf("steering: encode config: %w", err)
	}
	unified := def.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ConfigError{Code: "SCHEMA_VIOLATION", Message: err.Error()}
	}
	return nil
}

// Validate checks field-level constraints that do not touch the filesystem.
func (c *RunConfig) Validate() error {
	required := []struct{ field, value string }{
		{"cosima_file", c.SourceFile},
		{"geometry_file", c.GeometryFile},
		{"revan_output", c.RevanConfig},
		{"mimrec_output", c.MimrecConfig},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ConfigError{Code: "MISSING_FIELD", Field: r.field, Message: "required"}
		}
	}
	if c.EnergyCut[0] > c.EnergyCut[1] {
		return &ConfigError{
			Code:    "INVALID_VALUE",
			Field:   "energy_cut",
			Message: fmt.Sprintf("lower bound %g exceeds upper bound %g", c.EnergyCut[0], c.EnergyCut[1]),
		}
	}
	if c.MaxEvents <= 0 {
		return &ConfigError{
			Code:    "INVALID_VALUE",
			Field:   "max_events",
			Message: fmt.Sprintf("must be positive, got %d", c.MaxEvents),
		}
	}
	return nil
}

// CheckInputs verifies that every referenced input file exists.
func (c *RunConfig) CheckInputs() error {
	inputs := []struct{ field, path string }{
		{"cosima_file", c.SourceFile},
		{"geometry_file", c.GeometryFile},
		{"revan_output", c.RevanConfig},
		{"mimrec_output", c.MimrecConfig},
	}
	for _, in := range inputs {
		if _, err := os.Stat(in.path); err != nil {
			return &ConfigError{Code: "FILE_NOT_FOUND", Field: in.field, Path: in.path, Message: fmt.Sprintf("input file not found: %s", in.path)}
		}
	}
	return nil
}

// Save writes the config as JSON to path, creating parent directories.
func (c *RunConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("steering: create run directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("steering: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("steering: write config: %w", err)
	}
	return nil
}

// resolve anchors path against the steering file's directory and makes it
// absolute. Tool subprocesses run with their own working directory, so any
// path that stays relative here would resolve against the wrong base there.
func resolve(base, path string) string {
	if path == "" {
		return path
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
