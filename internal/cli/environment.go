package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/environment"
	"github.com/matzehuels/lariat/pkg/errors"
)

func (c *CLI) environmentCommand() *cobra.Command {
	var baseDir string

	cmd := &cobra.Command{
		Use:     "env",
		Aliases: []string{"environment"},
		Short:   "Manage project R environments",
	}
	cmd.PersistentFlags().StringVar(&baseDir, "base-dir", ".", "Base directory for environments")

	cmd.AddCommand(c.envInitCommand(&baseDir))
	cmd.AddCommand(c.envListCommand(&baseDir))
	cmd.AddCommand(c.envEnableCommand(&baseDir))
	cmd.AddCommand(c.envDisableCommand(&baseDir))
	cmd.AddCommand(c.envRemoveCommand(&baseDir))
	cmd.AddCommand(c.envRunCommand(&baseDir))
	return cmd
}

func (c *CLI) envRunCommand(baseDir *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [args...]",
		Short: "Run R in the enabled environment",
		Long:  `Run starts the enabled environment's R interpreter with the given arguments, so scripts and interactive sessions use the environment's library.`,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := environment.Enabled(*baseDir)
			if err != nil {
				return err
			}
			if env == nil {
				return errors.New(errors.ErrCodeEnvironment, "no environment currently enabled")
			}
			env.SetLogger(loggerFromContext(cmd.Context()))

			executor, err := env.Executor()
			if err != nil {
				return err
			}
			return executor.Run(cmd.Context(), args)
		},
	}
	// Arguments after "run" belong to R, including its flags.
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func (c *CLI) envInitCommand(baseDir *string) *cobra.Command {
	var (
		overwrite bool
		rPath     string
	)

	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Initialise and enable a new environment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) == 1 {
				name = args[0]
			}

			env, err := environment.New(*baseDir, name)
			if err != nil {
				return err
			}
			env.SetLogger(loggerFromContext(cmd.Context()))

			err = env.Init(cmd.Context(), environment.InitOptions{
				RExecutablePath: rPath,
				Overwrite:       overwrite,
			})
			if err != nil {
				return errors.Wrap(errors.ErrCodeEnvironment, err,
					"unable to initialise environment %s", name)
			}
			printSuccess("Initialised and enabled environment %s", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite the environment if already present")
	cmd.Flags().StringVar(&rPath, "r-executable-path", "", "R executable to use; defaults to the system R")
	return cmd
}

func (c *CLI) envListCommand(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all available environments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envs, err := environment.Available(*baseDir)
			if err != nil {
				return err
			}

			for _, env := range envs {
				version, _, err := env.VersionInfo()
				if err != nil {
					version = "broken R"
				}

				name := env.Name()
				marker := "  "
				enabled, err := env.IsEnabled()
				if err == nil && enabled {
					marker = "* "
					name = StyleHighlight.Render(name)
				}
				fmt.Printf("%s%s (%s)\n", marker, name, StyleDim.Render(version))
			}
			return nil
		},
	}
}

func (c *CLI) envEnableCommand(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := environment.New(*baseDir, args[0])
			if err != nil {
				return err
			}
			if err := env.Enable(true); err != nil {
				return err
			}
			printSuccess("Environment %s enabled", env.Name())
			return nil
		},
	}
}

func (c *CLI) envDisableCommand(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the currently enabled environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := environment.Enabled(*baseDir)
			if err != nil {
				return err
			}
			if env == nil {
				return nil
			}
			if err := env.Enable(false); err != nil {
				return err
			}
			printSuccess("Environment %s disabled", env.Name())
			return nil
		},
	}
}

func (c *CLI) envRemoveCommand(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove an environment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) == 1 {
				name = args[0]
			}

			env, err := environment.New(*baseDir, name)
			if err != nil {
				return err
			}
			if err := env.Remove(); err != nil {
				return errors.Wrap(errors.ErrCodeEnvironment, err,
					"unable to remove environment %s", name)
			}
			printSuccess("Environment %s removed", name)
			return nil
		},
	}
}
