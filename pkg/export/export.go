// Package export writes lock files in formats other R dependency
// managers understand: renv, packrat and plain CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/matzehuels/lariat/pkg/errors"
	"github.com/matzehuels/lariat/pkg/lockfile"
)

// Format names an export format.
type Format string

const (
	FormatRenv    Format = "renv"
	FormatPackrat Format = "packrat"
	FormatCSV     Format = "csv"
)

// Formats lists the supported export formats.
func Formats() []Format {
	return []Format{FormatRenv, FormatPackrat, FormatCSV}
}

// Export writes the lock to path in the given format. Locks containing
// VCS packages cannot be represented in any of the formats and are
// rejected.
func Export(lock *lockfile.Lock, format Format, path string) error {
	if lock.HasVCSPackages() {
		return errors.New(errors.ErrCodeUnsupported,
			"unable to export locks with VCS packages")
	}

	var data []byte
	var err error
	switch format {
	case FormatRenv:
		data, err = renderRenv(lock)
	case FormatPackrat:
		data, err = renderPackrat(lock)
	case FormatCSV:
		data, err = renderCSV(lock)
	default:
		return errors.New(errors.ErrCodeInvalidInput, "unknown export format %q", format)
	}
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// sourceEntries returns the lock's repository-pinned entries sorted by
// name.
func sourceEntries(lock *lockfile.Lock) []lockfile.Entry {
	var entries []lockfile.Entry
	for _, entry := range lock.Entries {
		if entry.Type == lockfile.KindSource {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func sourceByName(sources []lockfile.Source, name string) (lockfile.Source, error) {
	for _, s := range sources {
		if s.Name == name {
			return s, nil
		}
	}
	return lockfile.Source{}, errors.New(errors.ErrCodeInvalidLockfile,
		"lock entry references unknown source %q", name)
}

type renvRepository struct {
	Name string `json:"Name"`
	URL  string `json:"URL"`
}

type renvPackage struct {
	Package    string `json:"Package"`
	Version    string `json:"Version"`
	Source     string `json:"Source"`
	Repository string `json:"Repository"`
	Hash       string `json:"Hash"`
}

type renvLock struct {
	R struct {
		Repositories []renvRepository `json:"Repositories"`
	} `json:"R"`
	Packages map[string]renvPackage `json:"Packages"`
}

func renderRenv(lock *lockfile.Lock) ([]byte, error) {
	var out renvLock
	out.R.Repositories = make([]renvRepository, 0, len(lock.Sources))
	for _, s := range lock.Sources {
		out.R.Repositories = append(out.R.Repositories, renvRepository{Name: s.Name, URL: s.URL})
	}

	out.Packages = make(map[string]renvPackage)
	for _, entry := range sourceEntries(lock) {
		src, err := sourceByName(lock.Sources, entry.Source)
		if err != nil {
			return nil, err
		}
		if len(entry.Files) == 0 {
			return nil, errors.New(errors.ErrCodeInvalidLockfile,
				"lock entry %s carries no files", entry.Name)
		}
		out.Packages[entry.Name] = renvPackage{
			Package:    entry.Name,
			Version:    entry.Version,
			Source:     "Repository",
			Repository: src.Name,
			// The locked checksum of the first file stands in for
			// renv's own hash.
			Hash: strings.TrimPrefix(entry.Files[0].Hash, "sha256:"),
		}
	}
	return json.MarshalIndent(out, "", "    ")
}

func renderPackrat(lock *lockfile.Lock) ([]byte, error) {
	var b strings.Builder

	repos := make([]string, 0, len(lock.Sources))
	for _, s := range lock.Sources {
		repos = append(repos, s.Name+"="+s.URL)
	}
	fmt.Fprintf(&b, "PackratFormat: 1.4\n")
	fmt.Fprintf(&b, "PackratVersion: 0.5.0\n")
	fmt.Fprintf(&b, "Repos: %s\n", strings.Join(repos, ", "))

	for _, entry := range sourceEntries(lock) {
		fmt.Fprintf(&b, "\nPackage: %s\n", entry.Name)
		fmt.Fprintf(&b, "Source: %s\n", entry.Source)
		fmt.Fprintf(&b, "Version: %s\n", entry.Version)
		if len(entry.Dependencies) > 0 {
			fmt.Fprintf(&b, "Requires: %s\n", strings.Join(entry.Dependencies, ", "))
		}
	}
	return []byte(b.String()), nil
}

func renderCSV(lock *lockfile.Lock) ([]byte, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	for _, entry := range sourceEntries(lock) {
		src, err := sourceByName(lock.Sources, entry.Source)
		if err != nil {
			return nil, err
		}
		for _, file := range entry.Files {
			record := []string{
				entry.Name,
				entry.Version,
				src.URL,
				file.Name,
				file.Hash,
				strings.Join(entry.Categories, " "),
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
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
