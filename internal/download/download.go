// Package download fetches a located stream to disk. It downloads direct
// files and clear HLS playlists natively and hands everything else
// (embed pages, encrypted playlists, YouTube-hosted embeds with no usable
// native stream) to yt-dlp.
package download

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/seqgrab/seqgrab/internal/locate"
	"github.com/seqgrab/seqgrab/internal/rendition"
	"github.com/seqgrab/seqgrab/internal/ytdlp"
)

// Result reports one download attempt. A failed attempt carries Reason
// instead of an error so batch accounting can aggregate without unwrapping.
type Result struct {
	Success   bool
	Path      string
	Bytes     int64
	Elapsed   time.Duration
	Rendition rendition.Descriptor
	Reason    string
}

func failure(desc rendition.Descriptor, format string, args ...any) Result {
	return Result{Rendition: desc, Reason: fmt.Sprintf(format, args...)}
}

// Executor downloads stream references.
type Executor struct {
	// HTTP is used for direct files and HLS segments.
	HTTP *http.Client

	// Tool handles everything the native paths cannot.
	Tool *ytdlp.Client

	UserAgent string
	Referer   string

	// Ceiling feeds the coarse selector used when rendition metadata is
	// unavailable.
	Ceiling int

	// SegmentConcurrency is the HLS segment pool size.
	SegmentConcurrency int

	// ScratchDir holds partial segment files. Empty uses the destination
	// directory.
	ScratchDir string
}

// Renditions probes ref for its encoding options. A direct file has
// exactly one, carrying whatever quality hint its URL exposed.
func (e *Executor) Renditions(ctx context.Context, ref locate.Reference) ([]rendition.Descriptor, error) {
	switch {
	case isYouTubeURL(ref.URL):
		return e.youtubeFormats(ctx, ref.URL)
	case ref.Kind == locate.KindHLSPlaylist:
		return e.hlsVariants(ctx, ref.URL)
	case ref.Kind == locate.KindDirectFile:
		return []rendition.Descriptor{{
			ID:     ref.URL,
			Height: ref.QualityHint,
			Ext:    urlExt(ref.URL),
		}}, nil
	default:
		return e.Tool.ListFormats(ctx, ref.URL)
	}
}

// Download fetches ref's stream at the chosen rendition into destPath.
// It never returns an error; failures come back in the Result.
func (e *Executor) Download(ctx context.Context, ref locate.Reference, desc rendition.Descriptor, destPath string) Result {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return failure(desc, "creating destination directory: %v", err)
	}

	var res Result
	switch {
	case isYouTubeURL(ref.URL):
		res = e.downloadYouTube(ctx, ref.URL, desc, destPath)
	case ref.Kind == locate.KindDirectFile:
		res = e.downloadDirect(ctx, ref.URL, desc, destPath)
	case ref.Kind == locate.KindHLSPlaylist:
		res = e.downloadHLS(ctx, ref, desc, destPath)
	default:
		res = e.downloadWithTool(ctx, ref.URL, desc, destPath)
	}

	res.Elapsed = time.Since(start)
	res.Rendition = desc
	if res.Success && res.Bytes == 0 {
		if fi, err := os.Stat(res.Path); err == nil {
			res.Bytes = fi.Size()
		}
	}
	return res
}

// downloadWithTool shells out with the coarse worst-under-ceiling selector
// when desc is the sentinel, or the probe's format id otherwise.
func (e *Executor) downloadWithTool(ctx context.Context, url string, desc rendition.Descriptor, destPath string) Result {
	selector := rendition.SelectorString(desc, e.Ceiling)
	if err := e.Tool.Download(ctx, url, selector, destPath); err != nil {
		return failure(desc, "yt-dlp: %v", err)
	}
	fi, err := os.Stat(destPath)
	if err != nil || fi.Size() == 0 {
		return failure(desc, "yt-dlp reported success but produced no file")
	}
	return Result{Success: true, Path: destPath, Bytes: fi.Size()}
}

func (e *Executor) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	if e.UserAgent != "" {
		req.Header.Set("User-Agent", e.UserAgent)
	}
	if e.Referer != "" {
		req.Header.Set("Referer", e.Referer)
	}
	return req, nil
}

func (e *Executor) httpClient() *http.Client {
	if e.HTTP != nil {
		return e.HTTP
	}
	return http.DefaultClient
}

func (e *Executor) scratchDir(destPath string) string {
	if e.ScratchDir != "" {
		return e.ScratchDir
	}
	return filepath.Dir(destPath)
}

func (e *Executor) segmentConcurrency() int {
	if e.SegmentConcurrency > 0 {
		return e.SegmentConcurrency
	}
	return 8
}

func urlExt(raw string) string {
	path := raw
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsRune(path[i:], '/') {
		return strings.ToLower(path[i+1:])
	}
	return ""
}

func isYouTubeURL(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.Contains(lower, "youtube.com/watch") ||
		strings.Contains(lower, "youtube.com/embed/") ||
		strings.Contains(lower, "youtu.be/")
}
