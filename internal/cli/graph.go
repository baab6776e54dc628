package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/lockfile"
	"github.com/matzehuels/lariat/pkg/render"
)

func (c *CLI) graphCommand() *cobra.Command {
	var (
		format   string
		output   string
		detailed bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the locked dependency tree",
		Long:  `Graph draws the dependency tree recorded in lariat.lock as Graphviz DOT, or renders it to SVG or PNG.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lock, err := lockfile.Load(lockFilename)
			if err != nil {
				return err
			}
			root, err := render.TreeFromLock(lock)
			if err != nil {
				return err
			}

			dot := render.ToDOT(root, render.Options{Detailed: detailed})

			var data []byte
			switch format {
			case "dot":
				data = []byte(dot)
			case "svg":
				data, err = render.RenderSVG(dot)
			case "png":
				data, err = render.RenderPNG(dot)
			default:
				return errors.New(errors.ErrCodeInvalidInput,
					"unknown graph format %q, must be dot, svg or png", format)
			}
			if err != nil {
				return err
			}

			if output == "" {
				if format != "dot" {
					return errors.New(errors.ErrCodeInvalidInput,
						"--output is required for %s", format)
				}
				fmt.Print(dot)
				return nil
			}

			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "dot", "Output format: dot, svg or png")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file; dot defaults to stdout")
	cmd.Flags().BoolVar(&detailed, "detailed", false, "Include versions, refs and categories in node labels")
	return cmd
}
