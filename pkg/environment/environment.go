// Package environment manages per-project R environments: an isolated
// library directory plus an init script that pins the R version and
// platform the environment was created with.
package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/lariat/pkg/description"
	"github.com/matzehuels/lariat/pkg/errors"
)

const (
	envsDir    = ".lariat/envs"
	configName = "env.toml"
	initName   = "init.R"
)

// envConfig pins the interpreter the environment was created with. The
// init script re-checks version and platform at load time so using the
// environment with the wrong R stops early.
type envConfig struct {
	RExecutablePath string `toml:"r_executable_path"`
	RVersion        string `toml:"r_version"`
	RPlatform       string `toml:"r_platform"`
}

// Environment is an R environment rooted at a project directory. The
// environment may or may not exist on disk.
type Environment struct {
	baseDir string
	name    string
	logger  *log.Logger
}

// New returns a handle on the environment with the given name under
// baseDir. The name must be non-empty, trimmed and without path
// separators.
func New(baseDir, name string) (*Environment, error) {
	if name == "" || name != strings.TrimSpace(name) {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"environment name %q must be non-empty without surrounding whitespace", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"environment name %q must not contain path separators", name)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidPath, err, "bad base directory %s", baseDir)
	}
	return &Environment{baseDir: abs, name: name, logger: log.Default()}, nil
}

// SetLogger replaces the default logger.
func (e *Environment) SetLogger(logger *log.Logger) { e.logger = logger }

func (e *Environment) Name() string    { return e.name }
func (e *Environment) BaseDir() string { return e.baseDir }

// RelDir returns the environment directory relative to the base.
func (e *Environment) RelDir() string { return filepath.Join(envsDir, e.name) }

// LibRelDir returns the library directory relative to the base.
func (e *Environment) LibRelDir() string { return filepath.Join(e.RelDir(), "lib") }

// Dir returns the absolute environment directory.
func (e *Environment) Dir() string { return filepath.Join(e.baseDir, e.RelDir()) }

// LibDir returns the absolute library directory.
func (e *Environment) LibDir() string { return filepath.Join(e.baseDir, e.LibRelDir()) }

// Exists reports whether the environment has been initialized.
func (e *Environment) Exists() bool {
	_, err := os.Stat(filepath.Join(e.Dir(), initName))
	return err == nil
}

// InitOptions configures environment creation.
type InitOptions struct {
	// RExecutablePath selects the interpreter. Empty means discover one
	// on the machine.
	RExecutablePath string

	// Overwrite removes a pre-existing environment instead of failing.
	Overwrite bool
}

// Init creates the environment on disk: the library directory, the
// pinned interpreter config and the init script, then enables it.
func (e *Environment) Init(ctx context.Context, opts InitOptions) error {
	if e.Exists() {
		if !opts.Overwrite {
			return errors.New(errors.ErrCodeEnvironment,
				"environment %s already exists in %s", e.name, e.baseDir)
		}
		if err := e.Remove(); err != nil {
			return err
		}
	}

	rPath := opts.RExecutablePath
	if rPath == "" {
		var err error
		rPath, err = FindR()
		if err != nil {
			return err
		}
	}
	if info, err := os.Stat(rPath); err != nil || info.IsDir() {
		return errors.New(errors.ErrCodeEnvironment,
			"R executable %s does not exist or is not a file", rPath)
	}

	e.logger.Debug("initializing environment", "name", e.name, "r", rPath)

	if err := os.MkdirAll(e.LibDir(), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeEnvironment, err, "cannot create environment %s", e.name)
	}
	if err := e.writeConfig(ctx, rPath); err != nil {
		return err
	}
	if err := e.writeInitScript(); err != nil {
		return err
	}
	return e.Enable(true)
}

// Remove deletes the environment directory and disables it.
func (e *Environment) Remove() error {
	if !e.Exists() {
		return errors.New(errors.ErrCodeEnvironment,
			"environment %s does not exist", e.name)
	}
	if err := e.Enable(false); err != nil {
		return err
	}
	return os.RemoveAll(e.Dir())
}

// HasPackage reports whether the library contains the named package,
// optionally at an exact version ("" matches any).
func (e *Environment) HasPackage(name, version string) bool {
	current, ok := e.PackageVersion(name)
	if !ok {
		return false
	}
	return version == "" || current == version
}

// PackageVersion returns the installed version of a package, read from
// its DESCRIPTION in the library.
func (e *Environment) PackageVersion(name string) (string, bool) {
	desc, err := description.ParseFile(filepath.Join(e.LibDir(), name, "DESCRIPTION"))
	if err != nil {
		return "", false
	}
	return desc.Version, true
}

// VersionInfo returns the R version and platform the environment was
// created with.
func (e *Environment) VersionInfo() (version, platform string, err error) {
	cfg, err := e.config()
	if err != nil {
		return "", "", err
	}
	return cfg.RVersion, cfg.RPlatform, nil
}

// RExecutablePath returns the interpreter the environment is pinned to.
func (e *Environment) RExecutablePath() (string, error) {
	cfg, err := e.config()
	if err != nil {
		return "", err
	}
	if cfg.RExecutablePath == "" {
		return "", errors.New(errors.ErrCodeEnvironment,
			"environment %s has no recorded R executable", e.name)
	}
	return cfg.RExecutablePath, nil
}

// Executor returns an R executor bound to this environment's library.
func (e *Environment) Executor() (*Executor, error) {
	rPath, err := e.RExecutablePath()
	if err != nil {
		return nil, err
	}
	return &Executor{RPath: rPath, Env: e, Logger: e.logger}, nil
}

func (e *Environment) config() (envConfig, error) {
	var cfg envConfig
	if _, err := toml.DecodeFile(filepath.Join(e.Dir(), configName), &cfg); err != nil {
		return envConfig{}, errors.Wrap(errors.ErrCodeEnvironment, err,
			"cannot read config of environment %s", e.name)
	}
	return cfg, nil
}

func (e *Environment) writeConfig(ctx context.Context, rPath string) error {
	probe := &Executor{RPath: rPath, Logger: e.logger}
	version, platform, err := probe.VersionInfo(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(filepath.Join(e.Dir(), configName))
	if err != nil {
		return errors.Wrap(errors.ErrCodeEnvironment, err, "cannot write environment config")
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(envConfig{
		RExecutablePath: rPath,
		RVersion:        version,
		RPlatform:       platform,
	})
}

// writeInitScript writes init.R. The script parses env.toml with plain
// R so it has no dependencies, refuses to load under a different R
// version or platform, and points .libPaths at the library.
func (e *Environment) writeInitScript() error {
	configRel := filepath.ToSlash(filepath.Join(e.RelDir(), configName))
	libRel := filepath.ToSlash(e.LibRelDir())

	script := fmt.Sprintf(`.parse_config_file <- function() {
    out <- list()
    for (line in readLines('%s')) {
        m <- regmatches(line, regexec("(.+?)\\s*=\\s*(\")(.+)(\")", line, perl=TRUE))
        if (length(m[[1]]) < 4) next
        out[[m[[1]][[2]]]] <- m[[1]][[4]]
    }
    out
}

config <- .parse_config_file()

message(paste0('Using environment %s (R version: ', config$r_version,
               ', platform: ', config$r_platform, ')'))
if (config$r_platform != R.version$platform) {
    stop(paste("Cannot use environment with current R platform", R.version$platform))
}
current_r_version <- paste0(R.version$major, ".", R.version$minor)
if (config$r_version != current_r_version) {
    stop(paste("Cannot use environment with current R version", current_r_version))
}

.libPaths(c('%s'))
`, configRel, e.name, libRel)

	return os.WriteFile(filepath.Join(e.Dir(), initName), []byte(script), 0o644)
}

// Available returns every initialized environment under baseDir.
func Available(baseDir string) ([]*Environment, error) {
	entries, err := os.ReadDir(filepath.Join(baseDir, envsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var envs []*Environment
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		env, err := New(baseDir, entry.Name())
		if err != nil {
			continue
		}
		if env.Exists() {
			envs = append(envs, env)
		}
	}
	return envs, nil
}

// Enabled returns the currently enabled environment under baseDir, or
// nil if none is enabled.
func Enabled(baseDir string) (*Environment, error) {
	envs, err := Available(baseDir)
	if err != nil {
		return nil, err
	}
	for _, env := range envs {
		enabled, err := env.IsEnabled()
		if err != nil {
			return nil, err
		}
		if enabled {
			return env, nil
		}
	}
	return nil, nil
}
