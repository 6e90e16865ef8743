// Package fixture locates the input PDF files the harness renders and
// the extraction validator scans.
//
// Fixtures are supplied externally and never generated here. Selection
// order: the PDFVET_FIXTURE environment variable, then the first .pdf in
// the fixtures directory in lexical listing order.
package fixture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvOverride is the environment variable naming the fixture to use.
const EnvOverride = "PDFVET_FIXTURE"

// Fixture is one input PDF on disk.
type Fixture struct {
	// Name is the base filename, e.g. "sample-2page.pdf".
	Name string
	// Path is the absolute or directory-relative path to the file.
	Path string
}

// Stem returns the name without the .pdf extension, used to derive
// baseline filenames.
func (f Fixture) Stem() string {
	return strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
}

// Bytes reads the fixture file.
func (f Fixture) Bytes() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("fixture: read %s: %w", f.Path, err)
	}
	return data, nil
}

// Pick selects the fixture to render from dir. The PDFVET_FIXTURE
// environment variable wins; otherwise the first .pdf in lexical
// directory order is used. A missing override file or an empty
// directory is a hard error naming the path — no fallback.
func Pick(dir string) (Fixture, error) {
	if name := os.Getenv(EnvOverride); name != "" {
		return Named(dir, name)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Fixture{}, fmt.Errorf("fixture: list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return Fixture{}, fmt.Errorf("fixture: no .pdf files in %s", dir)
	}
	sort.Strings(names)

	return Fixture{Name: names[0], Path: filepath.Join(dir, names[0])}, nil
}

// Named returns the fixture with the given base name, verifying it exists.
func Named(dir, name string) (Fixture, error) {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return Fixture{}, fmt.Errorf("fixture: %s not found: %w", path, err)
	}
	if info.IsDir() {
		return Fixture{}, fmt.Errorf("fixture: %s is a directory", path)
	}
	return Fixture{Name: name, Path: path}, nil
}

// ForExtraction selects the fixture for the extraction flow: the
// PDFVET_FIXTURE override if set, else the named default.
func ForExtraction(dir, defaultName string) (Fixture, error) {
	if name := os.Getenv(EnvOverride); name != "" {
		return Named(dir, name)
	}
	return Named(dir, defaultName)
}
