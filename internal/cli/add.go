package cli

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/project"
	"github.com/matzehuels/lariat/pkg/rversion"
)

func (c *CLI) addCommand() *cobra.Command {
	var (
		category   string
		constraint string
		gitURL     string
		gitBranch  string
	)

	cmd := &cobra.Command{
		Use:   "add <package>",
		Short: "Add a dependency to the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(project.Categories, category) {
				return errors.New(errors.ErrCodeInvalidInput,
					"unknown category %q, must be one of %v", category, project.Categories)
			}
			if gitURL == "" && gitBranch != "" {
				return errors.New(errors.ErrCodeInvalidInput,
					"--branch requires --git")
			}

			p, err := project.Load(project.DefaultFilename)
			if err != nil {
				return err
			}

			dep := project.Dependency{
				Name:     args[0],
				Category: category,
			}
			if gitURL != "" {
				dep.VCS = &project.VCSSpec{Git: gitURL, Branch: gitBranch}
			} else {
				dep.Constraint, err = rversion.ParseConstraint(constraint)
				if err != nil {
					return err
				}
			}
			p.SetDependency(dep)

			if err := p.Save(p.Path); err != nil {
				return err
			}

			printSuccess("Added %s to %s", args[0], category)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "main", "Dependency category (main, dev or doc)")
	cmd.Flags().StringVar(&constraint, "constraint", "*", "Version constraint, e.g. '>= 1.2'")
	cmd.Flags().StringVar(&gitURL, "git", "", "Fetch the package from this git repository instead of a source")
	cmd.Flags().StringVar(&gitBranch, "branch", "", "Git branch or tag to use with --git")
	return cmd
}
