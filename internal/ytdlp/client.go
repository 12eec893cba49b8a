// Package ytdlp shells out to yt-dlp for format probing and for downloads
// of streams the native paths cannot handle.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/seqgrab/seqgrab/internal/rendition"
)

// DefaultBinary is resolved through PATH unless overridden.
const DefaultBinary = "yt-dlp"

// Client invokes yt-dlp. The zero value is not usable; construct with New.
type Client struct {
	bin         string
	userAgent   string
	referer     string
	cookiesFile string
	timeout     time.Duration
	concurrency int
	retries     int
}

// Options configures a Client.
type Options struct {
	Binary      string
	UserAgent   string
	Referer     string
	CookiesFile string
	// Timeout caps a single yt-dlp invocation. Zero means 30 minutes.
	Timeout time.Duration
	// Concurrency is passed as -N for fragmented downloads.
	Concurrency int
	Retries     int
}

func New(opts Options) *Client {
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Retries <= 0 {
		opts.Retries = 5
	}
	return &Client{
		bin:         opts.Binary,
		userAgent:   opts.UserAgent,
		referer:     opts.Referer,
		cookiesFile: opts.CookiesFile,
		timeout:     opts.Timeout,
		concurrency: opts.Concurrency,
		retries:     opts.Retries,
	}
}

// ToolError carries yt-dlp's stderr tail alongside the exec failure so
// callers can classify and report it without re-running the command.
type ToolError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("yt-dlp failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("yt-dlp failed: %v", e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// probeOutput is the slice of yt-dlp -J output we care about.
type probeOutput struct {
	Title    string        `json:"title"`
	Duration float64       `json:"duration"`
	Formats  []probeFormat `json:"formats"`
}

type probeFormat struct {
	FormatID       string  `json:"format_id"`
	Height         int     `json:"height"`
	TBR            float64 `json:"tbr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
}

// ListFormats probes url and returns its video renditions. Audio-only
// formats are dropped.
func (c *Client) ListFormats(ctx context.Context, url string) ([]rendition.Descriptor, error) {
	out, err := c.run(ctx, c.probeArgs(url))
	if err != nil {
		return nil, err
	}
	return parseFormats(out)
}

func parseFormats(raw []byte) ([]rendition.Descriptor, error) {
	var probe probeOutput
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parsing yt-dlp probe output: %w", err)
	}
	descs := make([]rendition.Descriptor, 0, len(probe.Formats))
	for _, f := range probe.Formats {
		if f.VCodec == "none" {
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		descs = append(descs, rendition.Descriptor{
			ID:       f.FormatID,
			Height:   f.Height,
			Bitrate:  f.TBR,
			Filesize: size,
			Ext:      f.Ext,
		})
	}
	return descs, nil
}

// Download fetches url with the given -f selector into outPath.
func (c *Client) Download(ctx context.Context, url, selector, outPath string) error {
	_, err := c.run(ctx, c.downloadArgs(url, selector, outPath))
	return err
}

// ProbeURL resolves a page URL to its underlying media URL via -g. Used as
// a last-chance strategy when page scraping finds nothing.
func (c *Client) ProbeURL(ctx context.Context, pageURL string) (string, error) {
	out, err := c.run(ctx, c.directURLArgs(pageURL))
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if line == "" {
		return "", fmt.Errorf("yt-dlp returned no URL for %s", pageURL)
	}
	return line, nil
}

func (c *Client) probeArgs(url string) []string {
	args := []string{"-J", "--no-playlist", "--no-warnings"}
	args = append(args, c.commonArgs()...)
	return append(args, url)
}

func (c *Client) downloadArgs(url, selector, outPath string) []string {
	args := []string{
		"--no-playlist",
		"--newline",
		"-f", selector,
		"-N", strconv.Itoa(c.concurrency),
		"--retries", strconv.Itoa(c.retries),
		"--fragment-retries", "10",
		"-o", outPath,
	}
	args = append(args, c.commonArgs()...)
	return append(args, url)
}

func (c *Client) directURLArgs(pageURL string) []string {
	args := []string{"-g", "--no-playlist", "--no-warnings"}
	args = append(args, c.commonArgs()...)
	return append(args, pageURL)
}

func (c *Client) commonArgs() []string {
	var args []string
	if c.userAgent != "" {
		args = append(args, "--user-agent", c.userAgent)
	}
	if c.referer != "" {
		args = append(args, "--referer", c.referer)
	}
	if c.cookiesFile != "" {
		args = append(args, "--cookies", c.cookiesFile)
	}
	return args
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ToolError{Args: args, Stderr: stderrTail(stderr.String()), Err: err}
	}
	return stdout.Bytes(), nil
}

// stderrTail keeps the last few lines; yt-dlp puts the useful error there.
func stderrTail(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return strings.Join(lines, " | ")
}
