package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/linusb/megaval/internal/pipeline"
	"github.com/linusb/megaval/internal/steering"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Config  string
	Kind    string
	Timeout time.Duration
}

// NewSimulateCommand creates the simulate command: a single pipeline run
// without the comparison half, useful when debugging one toolchain build.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <run-dir>",
		Short: "Run a single pipeline (no comparison)",
		Long: `Execute the stage sequence once in the given run directory and write
the extracted histogram record under results/.

Example:
  megaval simulate ./run_ref --config ./steering_config.json --kind reference`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "steering file (required)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "reference", "run kind (reference|test), names the output artifacts")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-stage tool timeout (0 = wait forever)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions, runDir string) error {
	kind, err := parseRunKind(opts.Kind)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --kind", err)
	}
	cfg, err := steering.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid steering configuration", err)
	}

	orch := pipeline.New(cfg, kind, runDir, pipeline.Options{Timeout: opts.Timeout})
	res, err := orch.Run(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "pipeline failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"run_id":    res.RunID,
			"kind":      res.Kind.String(),
			"artifacts": res.Artifacts,
			"bins":      res.Histogram.Bins(),
			"total":     res.Histogram.Total(),
		})
	}
	return formatter.Success(fmt.Sprintf("run %s complete: %d bins, %.0f counts, histogram at %s",
		res.RunID, res.Histogram.Bins(), res.Histogram.Total(), res.Artifacts["histogram_record"]))
}

// parseRunKind maps the flag value to a RunKind.
func parseRunKind(s string) (steering.RunKind, error) {
	switch s {
	case "reference", "ref":
		return steering.Reference, nil
	case "test":
		return steering.Test, nil
	default:
		return 0, fmt.Errorf("unknown run kind %q (want reference or test)", s)
	}
}
