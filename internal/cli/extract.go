package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/linusb/megaval/internal/histogram"
	"github.com/linusb/megaval/internal/macro"
)

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	*RootOptions
	Output string
}

// NewExtractCommand creates the extract command: parses one spectrum macro
// artifact into a histogram interchange record.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <spectrum-macro>",
		Short: "Extract a histogram from a spectrum macro",
		Long: `Parse a generated spectrum macro (axis declaration plus bin contents)
into the histogram interchange record.

Example:
  megaval extract ./run_ref/results/spectrum.C --out ./ref_histogram.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Output, "out", "", "output record path (required)")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runExtract(cmd *cobra.Command, opts *ExtractOptions, macroPath string) error {
	res, err := macro.New(slog.Default()).ExtractFile(macroPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "extraction failed", err)
	}
	if err := histogram.WriteFile(res.Histogram, opts.Output); err != nil {
		return WrapExitError(ExitCommandError, "failed to write histogram record", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"bins":     res.Histogram.Bins(),
			"total":    res.Histogram.Total(),
			"energies": len(res.Energies),
			"record":   opts.Output,
		})
	}
	return formatter.Success(fmt.Sprintf("extracted %d bins (%.0f counts, %d energy samples) to %s",
		res.Histogram.Bins(), res.Histogram.Total(), len(res.Energies), opts.Output))
}
