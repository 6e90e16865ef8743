// Package config handles pdfvet configuration from YAML files.
//
// Every timing constant in the stabilization protocol lives here: the
// delays are empirically tuned against observed flakiness, not derived,
// so they must stay configurable rather than buried in code.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level pdfvet configuration.
type Config struct {
	Fixtures  FixturesConfig  `yaml:"fixtures"`
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Wait      WaitConfig      `yaml:"wait"`
	Snapshots SnapshotsConfig `yaml:"snapshots"`
	Runlog    RunlogConfig    `yaml:"runlog"`
}

// FixturesConfig locates input PDFs.
type FixturesConfig struct {
	Dir               string `yaml:"dir"`
	ExtractionDefault string `yaml:"extraction_default"`
}

// ServerConfig controls the local content server.
type ServerConfig struct {
	// PortMin/PortMax bound the random port range. A random port per run
	// avoids collisions across parallel test workers.
	PortMin int `yaml:"port_min"`
	PortMax int `yaml:"port_max"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via the rod launcher.
	Remote         string `yaml:"remote"`
	ViewportWidth  int    `yaml:"viewport_width"`
	ViewportHeight int    `yaml:"viewport_height"`
	// Scale is the integer render scale the harness applies per page.
	// Integer so canvas dimensions stay whole pixels across runs.
	Scale int `yaml:"scale"`
}

// WaitConfig holds the stabilization protocol timings.
type WaitConfig struct {
	CompleteTimeout  time.Duration `yaml:"complete_timeout"`
	DimensionTimeout time.Duration `yaml:"dimension_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	LayoutPasses     int           `yaml:"layout_passes"`
	LayoutPause      time.Duration `yaml:"layout_pause"`
	GuardBand        time.Duration `yaml:"guard_band"`
}

// SnapshotsConfig controls the baseline store and diff bounds.
type SnapshotsConfig struct {
	Dir string `yaml:"dir"`
	// Threshold is the normalized per-pixel channel distance (0–1) above
	// which a pixel counts as differing.
	Threshold float64 `yaml:"threshold"`
	// Max differing pixels tolerated per artifact kind.
	MaxDiffFull    int `yaml:"max_diff_full"`
	MaxDiffPage    int `yaml:"max_diff_page"`
	MaxDiffContent int `yaml:"max_diff_content"`
}

// RunlogConfig controls the run history store.
type RunlogConfig struct {
	// DBPath of the SQLite history database. Empty disables recording.
	DBPath string `yaml:"db_path"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	var cfg Config
	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills zero fields with the tuned defaults.
func (c *Config) ApplyDefaults() {
	if c.Fixtures.Dir == "" {
		c.Fixtures.Dir = "testdata/fixtures"
	}
	if c.Fixtures.ExtractionDefault == "" {
		c.Fixtures.ExtractionDefault = "sample.pdf"
	}
	if c.Server.PortMin <= 0 {
		c.Server.PortMin = 20000
	}
	if c.Server.PortMax <= 0 || c.Server.PortMax < c.Server.PortMin {
		c.Server.PortMax = 29999
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 2000
	}
	if c.Browser.Scale <= 0 {
		c.Browser.Scale = 2
	}
	if c.Wait.CompleteTimeout <= 0 {
		c.Wait.CompleteTimeout = 30 * time.Second
	}
	if c.Wait.DimensionTimeout <= 0 {
		c.Wait.DimensionTimeout = 15 * time.Second
	}
	if c.Wait.PollInterval <= 0 {
		c.Wait.PollInterval = 100 * time.Millisecond
	}
	if c.Wait.SettleDelay <= 0 {
		c.Wait.SettleDelay = 500 * time.Millisecond
	}
	if c.Wait.LayoutPasses <= 0 {
		c.Wait.LayoutPasses = 3
	}
	if c.Wait.LayoutPause <= 0 {
		c.Wait.LayoutPause = 100 * time.Millisecond
	}
	if c.Wait.GuardBand <= 0 {
		c.Wait.GuardBand = 250 * time.Millisecond
	}
	if c.Snapshots.Dir == "" {
		c.Snapshots.Dir = "testdata/snapshots"
	}
	if c.Snapshots.Threshold <= 0 {
		c.Snapshots.Threshold = 0.3
	}
	if c.Snapshots.MaxDiffFull <= 0 {
		c.Snapshots.MaxDiffFull = 1000
	}
	if c.Snapshots.MaxDiffPage <= 0 {
		c.Snapshots.MaxDiffPage = 500
	}
	if c.Snapshots.MaxDiffContent <= 0 {
		c.Snapshots.MaxDiffContent = 1000
	}
}
