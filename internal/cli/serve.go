package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/repo"
)

func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr string
		dir  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a directory as a package repository over HTTP",
		Long:  `Serve exposes a directory laid out like a CRAN mirror (src/contrib with package tarballs) so it can be used as a source URL in a manifest.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())

			srv, err := repo.NewServer(dir, logger)
			if err != nil {
				return err
			}
			printInfo("Serving %s on %s", dir, addr)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Address to listen on")
	cmd.Flags().StringVar(&dir, "dir", ".", "Directory to serve")
	return cmd
}
