// Package snapshot stores baseline screenshots and diffs candidates
// against them.
//
// A baseline is captured once under update mode and persisted; a
// candidate is captured during a normal run and compared, never written
// over the baseline. Paths are deterministic so the same (test,
// artifact) pair always maps to the same file across runs and machines
// of the same platform.
package snapshot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

// Artifact kinds captured per render session.
const (
	ArtifactFull    = "full"
	ArtifactContent = "content"
)

// ArtifactPage returns the artifact name for page n (1-based).
func ArtifactPage(n int) string {
	return fmt.Sprintf("page%d", n)
}

// MissingBaselineError reports a comparison attempted before a baseline
// exists. Never a silent pass and never auto-created: the message names
// the expected path and the remediation command.
type MissingBaselineError struct {
	Path string
}

func (e *MissingBaselineError) Error() string {
	return fmt.Sprintf("snapshot: no baseline at %s — run `pdfvet -update` (or the update test) to create it", e.Path)
}

// Store reads and writes baseline PNGs under a single directory.
type Store struct {
	dir       string
	qualifier string
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithQualifier overrides the platform qualifier suffix. Default:
// "chromium-<GOOS>".
func WithQualifier(q string) Option {
	return func(s *Store) { s.qualifier = q }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store rooted at dir.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:       dir,
		qualifier: "chromium-" + runtime.GOOS,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the deterministic baseline path for (name, artifact):
// <dir>/<name>-<artifact>-<qualifier>.png.
func (s *Store) Path(name, artifact string) string {
	return filepath.Join(s.dir,
		fmt.Sprintf("%s-%s-%s.png", name, artifact, s.qualifier))
}

// Write stores png as the baseline for (name, artifact), overwriting
// any prior file. Update mode only; never called on the compare path.
func (s *Store) Write(name, artifact string, png []byte) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("snapshot: create %s: %w", s.dir, err)
	}
	path := s.Path(name, artifact)
	if err := os.WriteFile(path, png, 0644); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	s.logger.Info("snapshot: baseline written", "path", path, "bytes", len(png))
	return nil
}

// Exists checks up front that a baseline is present for (name,
// artifact), returning *MissingBaselineError when it is not. Compare
// performs the same check, but callers use Exists to fail fast before
// paying for a browser launch.
func (s *Store) Exists(name, artifact string) error {
	path := s.Path(name, artifact)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &MissingBaselineError{Path: path}
		}
		return fmt.Errorf("snapshot: stat %s: %w", path, err)
	}
	return nil
}

// Compare diffs candidate against the stored baseline for (name,
// artifact). The baseline must exist, else *MissingBaselineError. The
// candidate is never persisted.
func (s *Store) Compare(name, artifact string, candidate []byte, opts CompareOptions) (*DiffResult, error) {
	path := s.Path(name, artifact)

	baseline, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MissingBaselineError{Path: path}
		}
		return nil, fmt.Errorf("snapshot: read baseline %s: %w", path, err)
	}

	res, err := Diff(baseline, candidate, opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: diff against %s: %w", path, err)
	}

	if !res.Pass() {
		return res, &DiffError{Path: path, Result: res}
	}
	s.logger.Debug("snapshot: artifact matches baseline",
		"path", path, "diff_pixels", res.DiffPixels)
	return res, nil
}
