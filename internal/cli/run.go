package cli

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/linusb/megaval/internal/steering"
	"github.com/linusb/megaval/internal/store"
	"github.com/linusb/megaval/internal/supervisor"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config         string
	Database       string
	SigmaTolerance float64
	Timeout        time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <work-dir>",
		Short: "Run the dual-pipeline validation",
		Long: `Run the reference and test pipelines in run_ref/ and run_test/ under
the work directory, extract both energy spectra, compare them, and write
the comparison record and report.

Exit codes:
  0 - Verdict PASS
  1 - Verdict FAIL
  2 - Configuration or pipeline error

Example:
  megaval run ./crab-validation --config ./steering_config.json
  megaval run ./crab-validation --sigma-tolerance 0.1 --db ./megaval.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidation(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "steering file (default <work-dir>/steering_config.json)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "optional SQLite run-history database")
	cmd.Flags().Float64Var(&opts.SigmaTolerance, "sigma-tolerance", 3.0, "maximum relative sigma difference for a pass")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-stage tool timeout (0 = wait forever)")

	return cmd
}

func runValidation(cmd *cobra.Command, opts *RunOptions, workDir string) error {
	configPath := opts.Config
	if configPath == "" {
		configPath = filepath.Join(workDir, "steering_config.json")
	}
	cfg, err := steering.Load(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid steering configuration", err)
	}

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer st.Close()
	}

	sup := &supervisor.Supervisor{
		WorkDir:        workDir,
		Config:         cfg,
		SigmaTolerance: opts.SigmaTolerance,
		Store:          st,
		Timeout:        opts.Timeout,
	}
	outcome, err := sup.Run(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "validation aborted", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := formatter.Success(outcome.Result); err != nil {
			return err
		}
	} else {
		if err := formatter.Success(outcome.Result.Summary()); err != nil {
			return err
		}
	}

	if !outcome.Result.Pass {
		return NewExitError(ExitFailure, "verdict: FAIL")
	}
	return nil
}
