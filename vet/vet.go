// Package vet orchestrates the two pdfvet flows: render-and-compare
// (serve the fixture, drive the browser, capture, diff against
// baselines) and extraction-and-validate. The flows never interact.
package vet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pdfvet/config"
	"github.com/hazyhaar/pdfvet/fixture"
	"github.com/hazyhaar/pdfvet/harness"
	"github.com/hazyhaar/pdfvet/idgen"
	"github.com/hazyhaar/pdfvet/render"
	"github.com/hazyhaar/pdfvet/runlog"
	"github.com/hazyhaar/pdfvet/snapshot"
	"github.com/hazyhaar/pdfvet/textscan"
)

// Runner executes render/compare/extract runs against one configuration.
type Runner struct {
	cfg    *config.Config
	mgr    *render.Manager
	store  *snapshot.Store
	hist   *runlog.Store
	logger *slog.Logger
	runID  string
}

// New creates a Runner. The browser is launched lazily on the first run
// that needs it; the runlog store opens immediately when configured.
func New(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cfg: cfg,
		mgr: render.NewManager(render.ManagerConfig{
			RemoteURL: cfg.Browser.Remote,
			Logger:    logger,
		}),
		store:  snapshot.New(cfg.Snapshots.Dir, snapshot.WithLogger(logger)),
		logger: logger,
		runID:  idgen.Prefixed("run_", idgen.Default)(),
	}

	if cfg.Runlog.DBPath != "" {
		hist, err := runlog.Open(cfg.Runlog.DBPath)
		if err != nil {
			return nil, err
		}
		r.hist = hist
	}
	return r, nil
}

// RunID returns this runner's run identifier, shared by all its runlog
// entries.
func (r *Runner) RunID() string { return r.runID }

// Close releases the browser and the runlog store.
func (r *Runner) Close() error {
	var errs []error
	if err := r.mgr.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.hist != nil {
		if err := r.hist.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// artifact is one captured screenshot target.
type artifact struct {
	name string
	png  []byte
	max  int
}

// Update runs creation mode: render the fixture and write every
// artifact's baseline unconditionally. No comparison is performed.
// Intended to be triggered explicitly, never as part of default
// regression runs.
func (r *Runner) Update(ctx context.Context, fx fixture.Fixture) error {
	arts, err := r.renderAndCapture(ctx, fx)
	if err != nil {
		return err
	}

	for _, a := range arts {
		start := time.Now()
		if err := r.store.Write(fx.Stem(), a.name, a.png); err != nil {
			return err
		}
		r.record(fx, a.name, "update", 0, true, time.Since(start))
	}
	return nil
}

// Compare runs comparison mode: baselines for the fixed artifact kinds
// are required up front, then every captured artifact is diffed
// independently — one artifact exceeding its bounds never stops the
// siblings, including later pages in the per-page loop.
func (r *Runner) Compare(ctx context.Context, fx fixture.Fixture) error {
	// Fail fast on clearly missing baselines before paying for a
	// browser launch. Per-page baselines are checked in the loop since
	// the page count is only known after rendering.
	for _, kind := range []string{snapshot.ArtifactFull, snapshot.ArtifactContent} {
		if err := r.store.Exists(fx.Stem(), kind); err != nil {
			return err
		}
	}

	arts, err := r.renderAndCapture(ctx, fx)
	if err != nil {
		return err
	}

	var failures []error
	for _, a := range arts {
		start := time.Now()
		res, cmpErr := r.store.Compare(fx.Stem(), a.name, a.png, snapshot.CompareOptions{
			Threshold:     r.cfg.Snapshots.Threshold,
			MaxDiffPixels: a.max,
		})
		diffPixels := 0
		if res != nil {
			diffPixels = res.DiffPixels
		}
		r.record(fx, a.name, "compare", diffPixels, cmpErr == nil, time.Since(start))

		if cmpErr != nil {
			r.logger.Error("vet: artifact mismatch",
				"fixture", fx.Name, "artifact", a.name, "error", cmpErr)
			failures = append(failures, cmpErr)
			continue
		}
		r.logger.Info("vet: artifact ok",
			"fixture", fx.Name, "artifact", a.name, "diff_pixels", diffPixels)
	}
	return errors.Join(failures...)
}

// Extract runs the extraction-and-validate flow.
func (r *Runner) Extract(ctx context.Context, fx fixture.Fixture) (*textscan.Report, error) {
	rep, err := textscan.New(textscan.Config{Logger: r.logger}).Scan(ctx, fx.Path)
	if err != nil {
		r.record(fx, "text", "extract", 0, false, 0)
		return nil, err
	}
	r.record(fx, "text", "extract", 0, true, 0)
	return rep, nil
}

// renderAndCapture serves the fixture, drives the browser through the
// stabilization protocol, and captures all artifact kinds. The server
// and tab are released on every exit path.
func (r *Runner) renderAndCapture(ctx context.Context, fx fixture.Fixture) ([]artifact, error) {
	srv, err := harness.Start(fx, harness.Config{
		PortMin: r.cfg.Server.PortMin,
		PortMax: r.cfg.Server.PortMax,
		Scale:   r.cfg.Browser.Scale,
		Logger:  r.logger,
	})
	if err != nil {
		return nil, err
	}
	defer srv.Close()

	if _, err := r.mgr.Start(ctx); err != nil {
		return nil, err
	}

	sess, err := render.Open(ctx, r.mgr, srv.URL(), render.Config{
		ViewportWidth:  r.cfg.Browser.ViewportWidth,
		ViewportHeight: r.cfg.Browser.ViewportHeight,
		Wait: render.WaitConfig{
			CompleteTimeout:  r.cfg.Wait.CompleteTimeout,
			DimensionTimeout: r.cfg.Wait.DimensionTimeout,
			PollInterval:     r.cfg.Wait.PollInterval,
			SettleDelay:      r.cfg.Wait.SettleDelay,
			LayoutPasses:     r.cfg.Wait.LayoutPasses,
			LayoutPause:      r.cfg.Wait.LayoutPause,
			GuardBand:        r.cfg.Wait.GuardBand,
		},
		Logger: r.logger,
	})
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	if err := sess.WaitStable(ctx); err != nil {
		return nil, fmt.Errorf("vet: %s: %w", fx.Name, err)
	}
	pages := sess.PageCount()
	r.logger.Info("vet: render stable", "fixture", fx.Name, "pages", pages)

	var arts []artifact

	full, err := sess.CaptureFull()
	if err != nil {
		return nil, err
	}
	arts = append(arts, artifact{
		name: snapshot.ArtifactFull, png: full, max: r.cfg.Snapshots.MaxDiffFull})

	for i := 1; i <= pages; i++ {
		png, err := sess.CapturePage(i)
		if err != nil {
			return nil, err
		}
		arts = append(arts, artifact{
			name: snapshot.ArtifactPage(i), png: png, max: r.cfg.Snapshots.MaxDiffPage})
	}

	content, err := sess.CaptureContent()
	if err != nil {
		return nil, err
	}
	arts = append(arts, artifact{
		name: snapshot.ArtifactContent, png: content, max: r.cfg.Snapshots.MaxDiffContent})

	return arts, nil
}

func (r *Runner) record(fx fixture.Fixture, art, mode string, diffPixels int, pass bool, d time.Duration) {
	if r.hist == nil {
		return
	}
	r.hist.RecordAsync(&runlog.Entry{
		RunID:      r.runID,
		Fixture:    fx.Name,
		Artifact:   art,
		Mode:       mode,
		DiffPixels: diffPixels,
		Pass:       pass,
		Duration:   d,
	})
}
