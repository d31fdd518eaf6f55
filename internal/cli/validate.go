package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/linusb/megaval/internal/steering"
)

// NewValidateCommand creates the validate command: checks a steering file
// against the schema and verifies its referenced inputs exist.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "validate <steering-file>",
		Short:         "Validate a steering configuration",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := steering.Load(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid steering configuration", err)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout(), Verbose: rootOpts.Verbose}
			if rootOpts.Format == "json" {
				return formatter.Success(cfg)
			}
			return formatter.Success(fmt.Sprintf("valid: %s (energy cut [%g, %g], max events %d)",
				args[0], cfg.EnergyCut[0], cfg.EnergyCut[1], cfg.MaxEvents))
		},
	}
	return cmd
}
