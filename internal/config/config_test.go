package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		BaseURL:   "https://v.example.test/show-{n}",
		Start:     1,
		End:       8,
		Dest:      t.TempDir(),
		MaxHeight: 240,
		Workers:   3,
		Delay:     3 * time.Second,
		Env: Env{
			// Present on any unix system, so LookPath succeeds without
			// the real tools installed.
			YtdlpPath:  "sh",
			FFmpegPath: "sh",
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig(t).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RequiresBaseURL(t *testing.T) {
	cfg := validConfig(t)
	cfg.BaseURL = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "-base") {
		t.Fatalf("expected base URL error, got %v", err)
	}
}

func TestValidate_RejectsReversedRange(t *testing.T) {
	cfg := validConfig(t)
	cfg.Start, cfg.End = 5, 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected range error")
	}
}

func TestValidate_MissingTool(t *testing.T) {
	cfg := validConfig(t)
	cfg.Env.YtdlpPath = "definitely-not-a-real-binary-xyz"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "yt-dlp") {
		t.Fatalf("expected yt-dlp error, got %v", err)
	}
}

func TestValidate_MissingCookiesFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.Env.CookiesFile = "/nonexistent/cookies.txt"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "cookies") {
		t.Fatalf("expected cookies error, got %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("SEQGRAB_USER_AGENT", "custom-agent")
	t.Setenv("SEQGRAB_BROWSER", "off")

	var cfg Config
	if err := cfg.LoadEnv(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env.UserAgent != "custom-agent" {
		t.Fatalf("user agent not read: %q", cfg.Env.UserAgent)
	}
	if cfg.BrowserEnabled() {
		t.Fatal("SEQGRAB_BROWSER=off must disable the bypass")
	}
	if cfg.Env.YtdlpPath != "yt-dlp" {
		t.Fatalf("default tool path not applied: %q", cfg.Env.YtdlpPath)
	}
}

func TestValidate_CreatesDest(t *testing.T) {
	cfg := validConfig(t)
	cfg.Dest = cfg.Dest + "/nested/downloads"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(cfg.Dest); err != nil {
		t.Fatalf("destination not created: %v", err)
	}
}
