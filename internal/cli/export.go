package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/export"
)

func (c *CLI) exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "export <format> <output>",
		Short:     "Export the lock file to another format",
		Long:      `Export translates lariat.lock into a format other tools understand: an renv.lock, a packrat.lock or a flat CSV listing.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: formatNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := c.ensureLock(cmd.Context(), false, false)
			if err != nil {
				return err
			}

			if err := export.Export(lock, export.Format(args[0]), args[1]); err != nil {
				return err
			}
			printFile(args[1])
			return nil
		},
	}
	return cmd
}

func formatNames() []string {
	formats := export.Formats()
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return names
}
