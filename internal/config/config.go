// Package config holds the run configuration assembled from flags and
// SEQGRAB_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Env carries settings that come from the environment only: credentials
// and machine-local paths that do not belong on a command line.
type Env struct {
	UserAgent   string `envconfig:"USER_AGENT"`
	Referer     string `envconfig:"REFERER"`
	CookiesFile string `envconfig:"COOKIES_FILE"`

	// Browser controls the challenge bypass: "off" disables it.
	Browser string `envconfig:"BROWSER" default:"auto"`

	// BrowserWS attaches the bypass to a remote DevTools endpoint.
	BrowserWS string `envconfig:"BROWSER_WS"`

	YtdlpPath  string `envconfig:"YTDLP_PATH" default:"yt-dlp"`
	FFmpegPath string `envconfig:"FFMPEG_PATH" default:"ffmpeg"`
}

// Config is the full run configuration.
type Config struct {
	BaseURL string
	Start   int
	End     int
	Season  int
	Dest    string

	MaxHeight   int
	PreferWorst bool
	MaxSize     int64
	CRF         int
	Preset      string

	Workers            int
	Delay              time.Duration
	PageTimeout        time.Duration
	DownloadTimeout    time.Duration
	SegmentConcurrency int

	AudioOnly  bool
	Quiet      bool
	JSON       bool
	TUI        bool
	DebugHTML  bool
	NoCompress bool

	Env Env
}

// LoadEnv populates cfg.Env from SEQGRAB_-prefixed variables.
func (c *Config) LoadEnv() error {
	if err := envconfig.Process("seqgrab", &c.Env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	return nil
}

// BrowserEnabled reports whether the challenge bypass may run.
func (c *Config) BrowserEnabled() bool {
	return c.Env.Browser != "off"
}

// Validate checks the configuration and the external tools before any
// network traffic. Failures here are fatal; nothing has started yet.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("-base is required")
	}
	if c.Start < 1 {
		return fmt.Errorf("-start must be at least 1, got %d", c.Start)
	}
	if c.End < c.Start {
		return fmt.Errorf("-end (%d) must not precede -start (%d)", c.End, c.Start)
	}
	if c.MaxHeight < 0 {
		return fmt.Errorf("-max-height must not be negative")
	}
	if c.Workers < 1 {
		return fmt.Errorf("-workers must be at least 1, got %d", c.Workers)
	}

	if _, err := exec.LookPath(c.Env.YtdlpPath); err != nil {
		return fmt.Errorf("yt-dlp not found (%s): install it or set SEQGRAB_YTDLP_PATH", c.Env.YtdlpPath)
	}
	if _, err := exec.LookPath(c.Env.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): install it or set SEQGRAB_FFMPEG_PATH", c.Env.FFmpegPath)
	}

	if err := os.MkdirAll(c.Dest, 0o755); err != nil {
		return fmt.Errorf("destination %s not usable: %w", c.Dest, err)
	}
	probe := filepath.Join(c.Dest, ".seqgrab-write-test")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return fmt.Errorf("destination %s not writable: %w", c.Dest, err)
	}
	os.Remove(probe)

	if c.Env.CookiesFile != "" {
		if _, err := os.Stat(c.Env.CookiesFile); err != nil {
			return fmt.Errorf("cookies file %s: %w", c.Env.CookiesFile, err)
		}
	}
	return nil
}
