package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/cache"
	"github.com/matzehuels/lariat/pkg/errors"
)

func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the package and build cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := cache.DefaultRoot()
			if err != nil {
				return err
			}
			fmt.Println(root)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the cache completely",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := cache.DefaultRoot()
			if err != nil {
				return err
			}
			printInfo("Clearing cache")
			if err := os.RemoveAll(root); err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "unable to clear cache")
			}
			if err := os.MkdirAll(root, 0o755); err != nil {
				return errors.Wrap(errors.ErrCodeInternal, err, "unable to recreate cache directory")
			}
			printSuccess("Cache cleared")
			return nil
		},
	})

	return cmd
}
