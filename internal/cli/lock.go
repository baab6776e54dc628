package cli

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/lariat/pkg/lockfile"
	"github.com/matzehuels/lariat/pkg/locker"
	"github.com/matzehuels/lariat/pkg/project"
)

// lockFilename is the lock file at the project root.
const lockFilename = "lariat.lock"

func (c *CLI) lockCommand() *cobra.Command {
	var (
		overwrite    bool
		conservative bool
	)

	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Create a lock file from the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := c.ensureLock(cmd.Context(), overwrite, conservative)
			return err
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Recreate the lock file, discarding the current one")
	cmd.Flags().BoolVar(&conservative, "conservative", false, "Keep existing resolutions wherever the manifest allows")
	return cmd
}

// ensureLock loads the manifest and the current lock file, re-resolves if
// they are out of sync and saves the result. The returned lock is always
// synchronized with the manifest.
func (c *CLI) ensureLock(ctx context.Context, overwrite, conservative bool) (*lockfile.Lock, error) {
	logger := loggerFromContext(ctx)

	p, err := project.Load(project.DefaultFilename)
	if err != nil {
		return nil, err
	}

	if overwrite {
		if err := os.Remove(lockFilename); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	oldLock := lockfile.New()
	switch loaded, err := lockfile.Load(lockFilename); {
	case err == nil:
		oldLock = loaded
	case stderrors.Is(err, fs.ErrNotExist):
		printWarning("Lock file not found. Creating it.")
	default:
		return nil, err
	}

	idx := newIndexCache(logger)
	defer idx.Close()

	l := &locker.Locker{
		IndexCache: idx,
		Notifier:   consoleNotifier{},
		Logger:     logger,
	}
	newLock, err := l.Lock(ctx, p, oldLock, conservative)
	if err != nil {
		return nil, err
	}
	if newLock == oldLock {
		return newLock, nil
	}

	if err := newLock.Save(lockFilename); err != nil {
		return nil, err
	}
	printSuccess("Wrote %s", lockFilename)
	return newLock, nil
}
