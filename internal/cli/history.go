package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linusb/megaval/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewHistoryCommand creates the history command: lists recent comparison
// outcomes from the run-history database.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List recent comparison outcomes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite run-history database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows to list")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	recs, err := st.RecentComparisons(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list comparisons", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return formatter.Success(recs)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tVERDICT\tKS_P\tSIGMA_DIFF\tDETAILS")
	for _, rec := range recs {
		verdict := "FAIL"
		if rec.Pass {
			verdict = "PASS"
		}
		fmt.Fprintf(w, "%s\t%s\t%.4g\t%.4g\t%s\n",
			rec.CreatedAt.Format("2006-01-02 15:04:05"), verdict, rec.KSPValue, rec.SigmaDiff, rec.Details)
	}
	return w.Flush()
}
