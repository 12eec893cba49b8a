// Package pipeline processes one episode end to end: fetch the watch
// page, resolve its stream, pick a rendition, download, and post-process.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seqgrab/seqgrab/internal/batch"
	"github.com/seqgrab/seqgrab/internal/download"
	"github.com/seqgrab/seqgrab/internal/fetch"
	"github.com/seqgrab/seqgrab/internal/locate"
	"github.com/seqgrab/seqgrab/internal/media"
	"github.com/seqgrab/seqgrab/internal/rendition"
)

// PageFetcher retrieves watch pages.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// StreamResolver locates a stream on a fetched page.
type StreamResolver interface {
	Resolve(ctx context.Context, page *fetch.Page) (locate.Reference, error)
}

// Downloader probes and downloads a located stream.
type Downloader interface {
	Renditions(ctx context.Context, ref locate.Reference) ([]rendition.Descriptor, error)
	Download(ctx context.Context, ref locate.Reference, desc rendition.Descriptor, destPath string) download.Result
}

// Compressor post-processes a downloaded file.
type Compressor interface {
	Compress(ctx context.Context, path string) (media.Outcome, error)
}

// URLProber resolves a page URL to a media URL through the external tool.
// It is the last-resort locate strategy for pages whose players defeat
// scraping.
type URLProber interface {
	ProbeURL(ctx context.Context, pageURL string) (string, error)
}

// Runner wires the stages together. It implements batch.Processor.
type Runner struct {
	Fetcher    PageFetcher
	Resolver   StreamResolver
	Downloader Downloader
	Compressor Compressor

	// Prober is consulted when every scraping strategy misses. Nil
	// disables the fallback.
	Prober URLProber

	// Media handles audio extraction when AudioMode is set.
	Media media.Runner

	Ceiling     int
	PreferWorst bool

	// AudioMode extracts an mp3 next to the video after download.
	AudioMode    bool
	AudioBitrate string
	AlbumTitle   string

	// WriteSidecar emits a .json metadata file next to each download.
	WriteSidecar bool

	// DebugDir, when set, receives the HTML of pages where no stream
	// was found.
	DebugDir string

	// Warnf reports non-fatal trouble (failed probes, failed
	// compression). Nil discards.
	Warnf func(format string, args ...any)
}

func (r *Runner) warnf(format string, args ...any) {
	if r.Warnf != nil {
		r.Warnf(format, args...)
	}
}

// Process runs the full pipeline for one item.
func (r *Runner) Process(ctx context.Context, item batch.Item) batch.ItemResult {
	res, err := r.process(ctx, item)
	if err != nil {
		return batch.ItemResult{
			Item:     item,
			Reason:   err.Error(),
			Category: string(CategoryOf(err)),
		}
	}
	return res
}

func (r *Runner) process(ctx context.Context, item batch.Item) (batch.ItemResult, error) {
	page, err := r.Fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return batch.ItemResult{}, classifyFetchError(err)
	}

	ref, err := r.Resolver.Resolve(ctx, page)
	if err != nil {
		if !errors.Is(err, locate.ErrNotFound) {
			return batch.ItemResult{}, classifyFetchError(err)
		}
		ref, err = r.probeFallback(ctx, item, page, err)
		if err != nil {
			r.dumpDebugHTML(item, page)
			return batch.ItemResult{}, err
		}
	}

	desc := r.selectRendition(ctx, ref)

	dl := r.Downloader.Download(ctx, ref, desc, item.DestPath)
	if !dl.Success && ctx.Err() == nil && !desc.IsSentinel() {
		// One more try with the coarse worst-under-ceiling selector
		// before giving up on the item.
		r.warnf("%s: download as %s failed (%s), retrying with the coarse selector",
			item.Title, desc, dl.Reason)
		dl = r.Downloader.Download(ctx, ref, rendition.Sentinel, item.DestPath)
	}
	if !dl.Success {
		if ctx.Err() != nil {
			return batch.ItemResult{}, wrapCategory(CategoryCancelled, ctx.Err())
		}
		return batch.ItemResult{}, classifyDownloadReason(dl.Reason)
	}

	finalPath := dl.Path
	finalBytes := dl.Bytes
	if r.Compressor != nil {
		outcome, err := r.Compressor.Compress(ctx, finalPath)
		if err != nil {
			if ctx.Err() != nil {
				return batch.ItemResult{}, wrapCategory(CategoryCancelled, ctx.Err())
			}
			// The un-transcoded file is still a valid result.
			r.warnf("%s: compression failed, keeping original: %v", item.Title, err)
		} else if outcome.Performed {
			finalPath = outcome.Path
			finalBytes = outcome.FinalSize
		}
	}

	if r.AudioMode {
		if err := r.extractAudio(ctx, item, finalPath); err != nil {
			r.warnf("%s: audio extraction failed: %v", item.Title, err)
		}
	}

	if r.WriteSidecar {
		if err := r.writeSidecar(item, page, ref, dl, finalPath, finalBytes); err != nil {
			r.warnf("%s: writing sidecar: %v", item.Title, err)
		}
	}

	return batch.ItemResult{
		Item:    item,
		Success: true,
		Bytes:   finalBytes,
		Elapsed: dl.Elapsed,
	}, nil
}

// probeFallback is the last locate strategy: hand the settled page URL to
// the external tool and let its own extractors find the stream. notFound
// is returned (categorized) when the prober is absent or also misses.
func (r *Runner) probeFallback(ctx context.Context, item batch.Item, page *fetch.Page, notFound error) (locate.Reference, error) {
	if r.Prober == nil {
		return locate.Reference{}, wrapCategory(CategoryNotFound, notFound)
	}
	mediaURL, err := r.Prober.ProbeURL(ctx, page.FinalURL)
	if err != nil {
		if ctx.Err() != nil {
			return locate.Reference{}, wrapCategory(CategoryCancelled, ctx.Err())
		}
		r.warnf("%s: tool probe of %s failed: %v", item.Title, page.FinalURL, err)
		return locate.Reference{}, wrapCategory(CategoryNotFound, notFound)
	}
	return locate.ClassifyURL(mediaURL), nil
}

// classifyDownloadReason maps a downloader failure string to a category.
// The tool's "Unsupported URL" marker is the one reliably actionable
// signal in there.
func classifyDownloadReason(reason string) error {
	cat := CategoryTool
	if strings.Contains(reason, "Unsupported URL") {
		cat = CategoryUnsupported
	}
	return wrapCategory(cat, fmt.Errorf("download failed: %s", reason))
}

// selectRendition probes the stream and applies the ceiling policy. Probe
// failure degrades to the sentinel instead of failing the item; the
// downloader's coarse selector still enforces the ceiling.
func (r *Runner) selectRendition(ctx context.Context, ref locate.Reference) rendition.Descriptor {
	descs, err := r.Downloader.Renditions(ctx, ref)
	if err != nil {
		r.warnf("probing %s: %v", ref.URL, err)
		return rendition.Sentinel
	}
	return rendition.Select(descs, r.Ceiling, r.PreferWorst)
}

func (r *Runner) extractAudio(ctx context.Context, item batch.Item, videoPath string) error {
	if r.Media == nil {
		return fmt.Errorf("no media runner configured")
	}
	bitrate := r.AudioBitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	audioPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".mp3"
	if err := r.Media.ExtractAudio(ctx, videoPath, audioPath, bitrate); err != nil {
		return err
	}
	return media.WriteTags(audioPath, media.TrackTags{
		Title: item.Title,
		Album: r.AlbumTitle,
		Track: item.Index,
	})
}

// sidecar is the metadata written next to each completed download.
type sidecar struct {
	Status         string    `json:"status"`
	PageURL        string    `json:"page_url"`
	FinalURL       string    `json:"final_url"`
	StreamURL      string    `json:"stream_url"`
	StreamKind     string    `json:"stream_kind"`
	Rendition      string    `json:"rendition"`
	Bytes          int64     `json:"bytes"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	DownloadedAt   time.Time `json:"downloaded_at"`
}

func (r *Runner) writeSidecar(item batch.Item, page *fetch.Page, ref locate.Reference, dl download.Result, finalPath string, finalBytes int64) error {
	meta := sidecar{
		Status:         "ok",
		PageURL:        item.URL,
		FinalURL:       page.FinalURL,
		StreamURL:      ref.URL,
		StreamKind:     string(ref.Kind),
		Rendition:      dl.Rendition.String(),
		Bytes:          finalBytes,
		ElapsedSeconds: dl.Elapsed.Seconds(),
		DownloadedAt:   time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	sidecarPath := strings.TrimSuffix(finalPath, filepath.Ext(finalPath)) + ".json"
	return os.WriteFile(sidecarPath, data, 0o644)
}

func (r *Runner) dumpDebugHTML(item batch.Item, page *fetch.Page) {
	if r.DebugDir == "" {
		return
	}
	if err := os.MkdirAll(r.DebugDir, 0o755); err != nil {
		r.warnf("creating debug directory: %v", err)
		return
	}
	path := filepath.Join(r.DebugDir, fmt.Sprintf("%s.html", sanitizeName(item.Title)))
	if err := os.WriteFile(path, page.Body, 0o644); err != nil {
		r.warnf("writing debug HTML: %v", err)
		return
	}
	r.warnf("%s: no stream found, page saved to %s", item.Title, path)
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// classifyFetchError maps fetch-layer failures onto the category taxonomy.
func classifyFetchError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return wrapCategory(CategoryCancelled, err)
	case errors.Is(err, fetch.ErrChallenge):
		return wrapCategory(CategoryChallenge, err)
	}

	var parseErr *url.Error
	if errors.As(err, &parseErr) && parseErr.Op == "parse" {
		return wrapCategory(CategoryInvalidURL, err)
	}

	var httpErr *fetch.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case http.StatusNotFound, http.StatusGone:
			return wrapCategory(CategoryNotFound, err)
		case http.StatusForbidden, http.StatusUnauthorized, http.StatusPaymentRequired:
			return wrapCategory(CategoryRestricted, err)
		default:
			return wrapCategory(CategoryNetwork, err)
		}
	}

	var netErr *fetch.NetworkError
	if errors.As(err, &netErr) {
		return wrapCategory(CategoryNetwork, err)
	}
	return wrapCategory(CategoryTool, err)
}
