package cli

import (
	"github.com/spf13/cobra"

	"github.com/linusb/megaval/internal/compare"
	"github.com/linusb/megaval/internal/histogram"
)

// CompareOptions holds flags for the compare command.
type CompareOptions struct {
	*RootOptions
	SigmaTolerance float64
	Output         string
}

// NewCompareCommand creates the compare command: runs the statistical
// comparison on two previously extracted histogram records.
func NewCompareCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompareOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compare <reference.json> <test.json>",
		Short: "Compare two histogram records",
		Long: `Load two histogram interchange records and run the KS test plus moment
comparison on them.

Exit codes:
  0 - Verdict PASS
  1 - Verdict FAIL
  2 - Unreadable or invalid records`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompare(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().Float64Var(&opts.SigmaTolerance, "sigma-tolerance", 3.0, "maximum relative sigma difference for a pass")
	cmd.Flags().StringVar(&opts.Output, "out", "", "optional path for the comparison record")

	return cmd
}

func runCompare(cmd *cobra.Command, opts *CompareOptions, refPath, testPath string) error {
	ref, err := histogram.ReadFile(refPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load reference histogram", err)
	}
	test, err := histogram.ReadFile(testPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load test histogram", err)
	}

	engine := compare.New(opts.SigmaTolerance, nil)
	result := engine.Compare(ref, test)

	if opts.Output != "" {
		artifacts := map[string]string{
			"reference_histogram": refPath,
			"test_histogram":      testPath,
		}
		if err := compare.WriteRecord(opts.Output, result, artifacts); err != nil {
			return WrapExitError(ExitCommandError, "failed to write comparison record", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		if err := formatter.Success(result.Summary()); err != nil {
			return err
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, "verdict: FAIL")
	}
	return nil
}
