package cli

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/deptree"
	"github.com/matzehuels/lariat/pkg/environment"
	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/installer"
	"github.com/matzehuels/lariat/pkg/locker"
	"github.com/matzehuels/lariat/pkg/project"
)

func (c *CLI) installCommand() *cobra.Command {
	var (
		envBaseDir   string
		envName      string
		envOverwrite bool
		envRPath     string
		categories   []string
		verboseBuild bool
		useVanilla   bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the packages pinned by the lock file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := loggerFromContext(ctx)

			for _, cat := range categories {
				if !slices.Contains(project.Categories, cat) {
					return errors.New(errors.ErrCodeInvalidInput,
						"unknown category %q, must be one of %v", cat, project.Categories)
				}
			}

			lock, err := c.ensureLock(ctx, false, false)
			if err != nil {
				return err
			}

			env, err := selectEnvironment(envBaseDir, envName)
			if err != nil {
				return err
			}
			env.SetLogger(logger)

			if !env.Exists() || envOverwrite {
				sp := newSpinner(ctx, "Initialising environment "+env.Name())
				sp.Start()
				err := env.Init(ctx, environment.InitOptions{
					RExecutablePath: envRPath,
					Overwrite:       envOverwrite,
				})
				if err != nil {
					sp.StopWithError("Unable to initialise environment " + env.Name())
					return errors.Wrap(errors.ErrCodeEnvironment, err,
						"unable to initialise environment %s", env.Name())
				}
				sp.StopWithSuccess("Initialised environment " + env.Name())
			}

			idx := newIndexCache(logger)
			defer idx.Close()

			l := &locker.Locker{IndexCache: idx, Logger: logger}
			group, err := l.LockSourceGroup(lock.Sources)
			if err != nil {
				return err
			}
			root, err := deptree.FromLockEntries(ctx, group, lock.Entries)
			if err != nil {
				return err
			}

			inst := &installer.Installer{
				VerboseBuild: verboseBuild,
				Vanilla:      useVanilla,
				Notifier:     consoleNotifier{},
				Logger:       logger,
			}
			if err := inst.InstallTree(ctx, root, env, categories); err != nil {
				return err
			}

			printSuccess("Installed lock file into environment %s", env.Name())
			printDetail("library: %s", env.LibDir())
			return nil
		},
	}

	cmd.Flags().StringVar(&envBaseDir, "env-base-dir", ".", "Base directory for environments")
	cmd.Flags().StringVar(&envName, "env-name", "", "Environment to install into; defaults to the enabled one")
	cmd.Flags().BoolVar(&envOverwrite, "env-overwrite", false, "Recreate the environment if it already exists")
	cmd.Flags().StringVar(&envRPath, "env-r-executable-path", "", "R executable to use when creating a new environment")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Install only these dependency categories; default is all")
	cmd.Flags().BoolVar(&verboseBuild, "verbose-build", false, "Show the R build output")
	cmd.Flags().BoolVar(&useVanilla, "use-vanilla", false, "Do not run Renviron or Rprofile files during builds")
	return cmd
}

// selectEnvironment picks the install target: an explicitly named
// environment wins, then the currently enabled one, then "default".
func selectEnvironment(baseDir, name string) (*environment.Environment, error) {
	if name != "" {
		return environment.New(baseDir, name)
	}
	enabled, err := environment.Enabled(baseDir)
	if err != nil {
		return nil, err
	}
	if enabled != nil {
		return enabled, nil
	}
	return environment.New(baseDir, "default")
}
