// Package vcs clones version-controlled package sources. Only git is
// supported; clones are shallow to keep the transfer small.
package vcs

import (
	"context"
	"os"
	"os/exec"

	"github.com/matzehuels/lariat/pkg/errors"
)

// CloneShallow clones the repository at url into destDir, which must not
// exist yet. When ref is non-empty the named branch or tag is checked
// out; otherwise the default branch is used. vcsType selects the system;
// only "git" is handled.
func CloneShallow(ctx context.Context, vcsType, url, ref, destDir string) error {
	if _, err := os.Stat(destDir); err == nil {
		return errors.New(errors.ErrCodeInvalidPath, "cannot clone onto existing directory %s", destDir)
	}
	if vcsType != "git" {
		return errors.New(errors.ErrCodeVCSUnsupported, "unable to handle VCS source type %q", vcsType)
	}
	return gitCloneShallow(ctx, url, ref, destDir)
}

func gitCloneShallow(ctx context.Context, url, ref, destDir string) error {
	args := []string{"clone", "--depth", "1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, url, destDir)

	cmd := exec.CommandContext(ctx, "git", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrap(errors.ErrCodeVCSClone, err, "git clone of %s failed: %s", url, out)
	}
	return nil
}
