// Command seqgrab downloads an episode range from a streaming site at the
// lowest acceptable quality, transcoding anything that arrives oversized.
//
// Usage:
//
//	seqgrab -base https://site.example/show-{n} -start 1 -end 8 -dest ./downloads
//
// The base URL may contain {n} or {nn} for the episode number. Credentials
// and machine-local paths come from SEQGRAB_-prefixed environment
// variables, never from flags.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/seqgrab/seqgrab/internal/batch"
	"github.com/seqgrab/seqgrab/internal/config"
	"github.com/seqgrab/seqgrab/internal/download"
	"github.com/seqgrab/seqgrab/internal/fetch"
	"github.com/seqgrab/seqgrab/internal/locate"
	"github.com/seqgrab/seqgrab/internal/media"
	"github.com/seqgrab/seqgrab/internal/pipeline"
	"github.com/seqgrab/seqgrab/internal/ui"
	"github.com/seqgrab/seqgrab/internal/ytdlp"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := parseFlags()

	if err := cfg.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	items, err := batch.BuildItems(batch.Spec{
		BaseURL: cfg.BaseURL,
		Start:   cfg.Start,
		End:     cfg.End,
		Season:  cfg.Season,
		DestDir: cfg.Dest,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}

	scratch := filepath.Join(os.TempDir(), "seqgrab-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return pipeline.CategoryExitCode(pipeline.CategoryFilesystem)
	}
	defer os.RemoveAll(scratch)

	printer := ui.NewPrinter(os.Stderr)
	printer.Quiet = cfg.Quiet
	if cfg.JSON {
		// Machine-readable results go to stdout; warnings stay on stderr.
		printer = ui.NewPrinter(os.Stdout)
		printer.JSON = true
	}

	runner := buildRunner(cfg, scratch, printer)

	orch := &batch.Orchestrator{
		Processor: runner,
		Workers:   cfg.Workers,
		Delay:     cfg.Delay,
	}

	var report batch.Report
	if cfg.TUI {
		// bubbletea owns the terminal in raw mode, so Ctrl+C arrives
		// as a key, not a signal; the quit keys cancel this context.
		runCtx, cancelRun := context.WithCancel(ctx)
		defer cancelRun()
		dash := ui.NewDashboard(len(items), cancelRun)
		orch.Observer = dash
		done := make(chan batch.Report, 1)
		go func() { done <- orch.Run(runCtx, items) }()
		if err := dash.Run(); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		report = <-done
		if runCtx.Err() != nil {
			return pipeline.CategoryExitCode(pipeline.CategoryCancelled)
		}
	} else {
		orch.Observer = printer
		report = orch.Run(ctx, items)
	}

	if ctx.Err() != nil {
		return pipeline.CategoryExitCode(pipeline.CategoryCancelled)
	}
	if report.Failed > 0 {
		return failureExitCode(report)
	}
	return 0
}

// failureExitCode picks the highest category code among the failed items,
// so a run that only hit challenges exits differently from one that hit
// server errors.
func failureExitCode(report batch.Report) int {
	code := 1
	for _, f := range report.Failures {
		if c := pipeline.CategoryExitCode(pipeline.Category(f.Category)); c > code && c != 130 {
			code = c
		}
	}
	return code
}

func buildRunner(cfg *config.Config, scratch string, printer *ui.Printer) *pipeline.Runner {
	userAgent := cfg.Env.UserAgent
	if userAgent == "" {
		userAgent = fetch.DefaultUserAgent
	}

	var bypass fetch.ChallengeBypasser
	if cfg.BrowserEnabled() {
		bypass = &fetch.BrowserBypass{
			WSURL:     cfg.Env.BrowserWS,
			UserAgent: userAgent,
		}
	}

	fetcher := fetch.New(fetch.Options{
		UserAgent: userAgent,
		Referer:   cfg.Env.Referer,
		Timeout:   cfg.PageTimeout,
		Bypass:    bypass,
	})

	tool := ytdlp.New(ytdlp.Options{
		Binary:      cfg.Env.YtdlpPath,
		UserAgent:   userAgent,
		Referer:     cfg.Env.Referer,
		CookiesFile: cfg.Env.CookiesFile,
		Timeout:     cfg.DownloadTimeout,
		Concurrency: cfg.SegmentConcurrency,
	})

	executor := &download.Executor{
		HTTP:               &http.Client{Timeout: cfg.DownloadTimeout},
		Tool:               tool,
		UserAgent:          userAgent,
		Referer:            cfg.Env.Referer,
		Ceiling:            cfg.MaxHeight,
		SegmentConcurrency: cfg.SegmentConcurrency,
		ScratchDir:         scratch,
	}

	var compressor pipeline.Compressor
	if !cfg.NoCompress {
		compressor = &media.Compressor{
			Runner:       media.FFmpeg{},
			TargetHeight: cfg.MaxHeight,
			MaxSize:      cfg.MaxSize,
			CRF:          cfg.CRF,
			Preset:       cfg.Preset,
			AudioBitrate: "64k",
			MonoAudio:    true,
		}
	}

	var debugDir string
	if cfg.DebugHTML {
		debugDir = filepath.Join(cfg.Dest, "debug-html")
	}

	return &pipeline.Runner{
		Fetcher:      fetcher,
		Resolver:     &locate.Resolver{Fetcher: fetcher},
		Downloader:   executor,
		Prober:       tool,
		Compressor:   compressor,
		Media:        media.FFmpeg{},
		Ceiling:      cfg.MaxHeight,
		PreferWorst:  cfg.PreferWorst,
		AudioMode:    cfg.AudioOnly,
		WriteSidecar: true,
		DebugDir:     debugDir,
		Warnf:        printer.Warnf,
	}
}

func parseFlags() *config.Config {
	cfg := &config.Config{}

	flag.StringVar(&cfg.BaseURL, "base", "", "episode page URL template; {n} or {nn} marks the episode number")
	flag.IntVar(&cfg.Start, "start", 1, "first episode number")
	flag.IntVar(&cfg.End, "end", 1, "last episode number")
	flag.IntVar(&cfg.Season, "season", 0, "season number for sNNeNN file naming")
	flag.StringVar(&cfg.Dest, "dest", "./downloads", "destination directory")

	flag.IntVar(&cfg.MaxHeight, "max-height", 240, "highest acceptable rendition height")
	flag.BoolVar(&cfg.PreferWorst, "prefer-worst", false, "always take the smallest rendition")
	maxSizeMB := flag.Int64("max-size", 550, "transcode files larger than this many MB, 0 disables")
	flag.IntVar(&cfg.CRF, "crf", 28, "x264 quality for transcodes")
	flag.StringVar(&cfg.Preset, "preset", "veryfast", "x264 preset for transcodes")
	flag.BoolVar(&cfg.NoCompress, "no-compress", false, "never transcode downloads")

	flag.IntVar(&cfg.Workers, "workers", 3, "parallel episodes; 1 runs sequentially")
	flag.DurationVar(&cfg.Delay, "delay", 3*time.Second, "pause between episodes in sequential mode")
	flag.DurationVar(&cfg.PageTimeout, "page-timeout", 20*time.Second, "timeout for each page request")
	flag.DurationVar(&cfg.DownloadTimeout, "download-timeout", 30*time.Minute, "timeout for each episode download")
	flag.IntVar(&cfg.SegmentConcurrency, "segment-concurrency", 8, "parallel HLS segment downloads per episode")

	flag.BoolVar(&cfg.AudioOnly, "audio", false, "also extract an mp3 of each episode")
	flag.BoolVar(&cfg.Quiet, "quiet", false, "summary only")
	flag.BoolVar(&cfg.JSON, "json", false, "machine-readable progress lines")
	flag.BoolVar(&cfg.TUI, "tui", false, "live dashboard instead of line output")
	flag.BoolVar(&cfg.DebugHTML, "debug-html", false, "save pages where no stream was found")

	flag.Parse()

	cfg.MaxSize = *maxSizeMB << 20
	return cfg
}
