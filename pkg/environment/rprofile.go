package environment

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matzehuels/lariat/pkg/errors"
)

const (
	markerStart = "# >>> created by lariat"
	markerEnd   = "# <<< created by lariat"
)

var enabledEnvPattern = regexp.MustCompile(`^enabled_env\s*<-\s*"(\w+)"`)

// Enable activates or deactivates the environment by rewriting the
// managed block of the project's .Rprofile. User content outside the
// block is left untouched.
func (e *Environment) Enable(enabled bool) error {
	path := filepath.Join(e.baseDir, ".Rprofile")
	name := ""
	if enabled {
		if !e.Exists() {
			return errors.New(errors.ErrCodeEnvironment,
				"environment %s does not exist", e.name)
		}
		name = e.name
	}
	return setRProfileEnvironment(path, name)
}

// IsEnabled reports whether this environment is the one enabled in the
// project's .Rprofile.
func (e *Environment) IsEnabled() (bool, error) {
	name, err := rprofileEnvironment(filepath.Join(e.baseDir, ".Rprofile"))
	if err != nil {
		return false, err
	}
	return name == e.name, nil
}

// rprofileEnvironment returns the environment name recorded in the
// managed block, or "" when the file or block is absent.
func rprofileEnvironment(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	start, end, ok := markerZone(lines)
	if !ok {
		return "", nil
	}

	name := ""
	for _, line := range lines[start : end+1] {
		if m := enabledEnvPattern.FindStringSubmatch(line); m != nil {
			name = m[1]
		}
	}
	return name, nil
}

// setRProfileEnvironment rewrites the managed block to enable envName,
// or removes the block entirely when envName is empty.
func setRProfileEnvironment(path, envName string) error {
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			lines = nil
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if start, end, ok := markerZone(lines); ok {
		lines = append(lines[:start], lines[end+1:]...)
	}

	if envName != "" {
		lines = append(lines,
			markerStart,
			`enabled_env <- "`+envName+`"`,
			`source(file.path("`+filepath.ToSlash(envsDir)+`", enabled_env, "init.R"))`,
			markerEnd,
		)
	}

	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rprofile-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// markerZone returns the bounds of the last managed block.
func markerZone(lines []string) (start, end int, ok bool) {
	start, end = -1, -1
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, markerStart):
			if start >= 0 {
				end = -1
			}
			start = i
		case strings.HasPrefix(line, markerEnd):
			if start >= 0 {
				end = i
			}
		}
	}
	if start < 0 || end < 0 {
		return 0, 0, false
	}
	return start, end, true
}
