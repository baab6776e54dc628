package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/project"
)

func (c *CLI) initCommand() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a basic lariat.toml manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(project.DefaultFilename); err == nil {
				return errors.New(errors.ErrCodeInvalidInput,
					"file %s already present", project.DefaultFilename)
			}

			p := &project.Project{
				Path: project.DefaultFilename,
				Metadata: project.Metadata{
					Name:    name,
					Version: "0.1.0",
				},
				Sources: []project.Source{
					{Name: "CRAN", URL: "https://cloud.r-project.org/"},
				},
			}
			if err := p.Save(p.Path); err != nil {
				return err
			}

			printSuccess("Created %s", project.DefaultFilename)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "myproject", "Project name written to the manifest")
	return cmd
}
