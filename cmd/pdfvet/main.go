// Command pdfvet drives the PDF render regression harness.
//
// Usage:
//
//	pdfvet                          # compare mode against stored baselines
//	pdfvet -update                  # (re)write baselines, no comparison
//	pdfvet -extract-only            # text extraction flow only
//	pdfvet -fixture sample-2page.pdf -config pdfvet.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/pdfvet/config"
	"github.com/hazyhaar/pdfvet/fixture"
	"github.com/hazyhaar/pdfvet/vet"
)

func main() {
	configPath := flag.String("config", "", "path to pdfvet.yaml config file")
	fixturesDir := flag.String("fixtures", "", "fixtures directory (overrides config)")
	snapshotsDir := flag.String("snapshots", "", "snapshots directory (overrides config)")
	fixtureName := flag.String("fixture", "", "fixture file name (overrides PDFVET_FIXTURE and listing order)")
	remote := flag.String("remote", "", "WebSocket URL of an external Chrome (overrides config)")
	update := flag.Bool("update", false, "write baselines instead of comparing")
	extractOnly := flag.Bool("extract-only", false, "run only the text extraction flow")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *fixturesDir, *snapshotsDir, *remote)
	if err != nil {
		logger.Error("pdfvet: config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, logger, cfg, *fixtureName, *update, *extractOnly); err != nil {
		logger.Error("pdfvet: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, fixturesDir, snapshotsDir, remote string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = loaded
	}
	if fixturesDir != "" {
		cfg.Fixtures.Dir = fixturesDir
	}
	if snapshotsDir != "" {
		cfg.Snapshots.Dir = snapshotsDir
	}
	if remote != "" {
		cfg.Browser.Remote = remote
	}
	return cfg, nil
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, fixtureName string, update, extractOnly bool) error {
	runner, err := vet.New(cfg, logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	if extractOnly {
		return runExtract(ctx, logger, cfg, runner, fixtureName)
	}

	fx, err := pickRenderFixture(cfg, fixtureName)
	if err != nil {
		return err
	}
	logger.Info("pdfvet: fixture selected", "name", fx.Name, "run_id", runner.RunID())

	if update {
		if err := runner.Update(ctx, fx); err != nil {
			return err
		}
		logger.Info("pdfvet: baselines written", "fixture", fx.Name)
		return nil
	}

	var failures []error
	if err := runner.Compare(ctx, fx); err != nil {
		failures = append(failures, err)
	} else {
		logger.Info("pdfvet: comparison passed", "fixture", fx.Name)
	}

	if err := runExtract(ctx, logger, cfg, runner, fixtureName); err != nil {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

func pickRenderFixture(cfg *config.Config, name string) (fixture.Fixture, error) {
	if name != "" {
		return fixture.Named(cfg.Fixtures.Dir, name)
	}
	return fixture.Pick(cfg.Fixtures.Dir)
}

func runExtract(ctx context.Context, logger *slog.Logger, cfg *config.Config, runner *vet.Runner, fixtureName string) error {
	var fx fixture.Fixture
	var err error
	if fixtureName != "" {
		fx, err = fixture.Named(cfg.Fixtures.Dir, fixtureName)
	} else {
		fx, err = fixture.ForExtraction(cfg.Fixtures.Dir, cfg.Fixtures.ExtractionDefault)
	}
	if err != nil {
		return err
	}

	rep, err := runner.Extract(ctx, fx)
	if err != nil {
		return err
	}
	logger.Info("pdfvet: extraction validated",
		"fixture", fx.Name,
		"pages", rep.PageCount,
		"chars", rep.CharCount,
		"words", rep.WordCount,
		"emails", len(rep.Emails))
	return nil
}
