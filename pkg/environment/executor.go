package environment

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/errors"
)

var (
	versionPattern  = regexp.MustCompile(`R version\s(\S+)`)
	platformPattern = regexp.MustCompile(`Platform:\s(\S+)`)
)

// Executor runs an R interpreter. With Env set, installs and removals
// target the environment's library and commands run from its base
// directory; otherwise the interpreter runs detached from any
// environment.
type Executor struct {
	RPath string
	Env   *Environment

	// Quiet suppresses the interpreter's output.
	Quiet bool

	// Vanilla passes --use-vanilla to installs.
	Vanilla bool

	Logger *log.Logger
}

// VersionInfo probes the interpreter for its version and platform.
func (x *Executor) VersionInfo(ctx context.Context) (version, platform string, err error) {
	cmd := exec.CommandContext(ctx, x.RPath, "--version")
	cmd.Dir = x.workDir()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", "", errors.Wrap(errors.ErrCodeEnvironment, err,
			"unable to run %s --version", x.RPath)
	}

	vm := versionPattern.FindSubmatch(out)
	pm := platformPattern.FindSubmatch(out)
	if vm == nil || pm == nil {
		return "", "", errors.New(errors.ErrCodeEnvironment,
			"unable to parse version info from %s --version output", x.RPath)
	}
	return string(vm[1]), string(pm[1]), nil
}

// Install runs R CMD INSTALL on a package tarball or directory.
func (x *Executor) Install(ctx context.Context, packagePath string) error {
	args := []string{"CMD", "INSTALL"}
	if x.Vanilla {
		args = append(args, "--use-vanilla")
	}
	if x.Env != nil {
		args = append(args, "-l", x.Env.LibRelDir())
	}
	args = append(args, packagePath)

	if err := x.run(ctx, args); err != nil {
		return errors.Wrap(errors.ErrCodeInstallFailed, err,
			"unable to install package %s", packagePath)
	}
	return nil
}

// Remove runs R CMD REMOVE on an installed package.
func (x *Executor) Remove(ctx context.Context, packageName string) error {
	args := []string{"CMD", "REMOVE"}
	if x.Env != nil {
		args = append(args, "-l", x.Env.LibRelDir())
	}
	args = append(args, packageName)

	if err := x.run(ctx, args); err != nil {
		return errors.Wrap(errors.ErrCodeInstallFailed, err,
			"unable to remove package %s", packageName)
	}
	return nil
}

// Run executes the interpreter with the given arguments, wired to the
// caller's terminal. Used to run R or an R script inside an environment;
// the environment's init.R picks up the library path.
func (x *Executor) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, x.RPath, args...)
	cmd.Dir = x.workDir()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errors.Wrap(errors.ErrCodeEnvironment, err, "unable to run %s", x.RPath)
	}
	return nil
}

func (x *Executor) run(ctx context.Context, args []string) error {
	logger := x.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Debug("running R", "r", x.RPath, "args", args, "dir", x.workDir())

	cmd := exec.CommandContext(ctx, x.RPath, args...)
	cmd.Dir = x.workDir()
	if !x.Quiet {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	return cmd.Run()
}

func (x *Executor) workDir() string {
	if x.Env != nil {
		return x.Env.BaseDir()
	}
	return ""
}

// rHomeCandidates lists directories scanned for R installations beyond
// the PATH, one version per subdirectory under /opt/R.
var rHomeCandidates = []string{"/usr/lib/R", "/usr/local"}

// FindR locates an R interpreter: first on the PATH, then in the usual
// install locations.
func FindR() (string, error) {
	binary := "R"
	if runtime.GOOS == "windows" {
		binary = "R.exe"
	}
	if path, err := exec.LookPath(binary); err == nil {
		return path, nil
	}

	candidates := make([]string, 0, len(rHomeCandidates)+4)
	for _, home := range rHomeCandidates {
		candidates = append(candidates, filepath.Join(home, "bin", binary))
	}
	if entries, err := os.ReadDir("/opt/R"); err == nil {
		for _, entry := range entries {
			candidates = append(candidates, filepath.Join("/opt/R", entry.Name(), "bin", binary))
		}
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", errors.New(errors.ErrCodeEnvironment, "unable to find an R executable")
}
