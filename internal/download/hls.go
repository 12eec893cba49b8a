package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/grafov/m3u8"

	"github.com/seqgrab/seqgrab/internal/locate"
	"github.com/seqgrab/seqgrab/internal/rendition"
)

const segmentRetries = 10

// hlsVariants fetches a playlist URL and reports its variants as
// renditions. A media playlist (no variants) yields a single descriptor
// carrying the URL's own quality hint, if any.
func (e *Executor) hlsVariants(ctx context.Context, playlistURL string) ([]rendition.Descriptor, error) {
	playlist, kind, err := e.fetchPlaylist(ctx, playlistURL)
	if err != nil {
		return nil, err
	}

	if kind == m3u8.MEDIA {
		return []rendition.Descriptor{{
			ID:     playlistURL,
			Height: qualityHintFromURL(playlistURL),
			Ext:    "m3u8",
		}}, nil
	}

	master := playlist.(*m3u8.MasterPlaylist)
	base, err := url.Parse(playlistURL)
	if err != nil {
		return nil, fmt.Errorf("invalid playlist URL: %w", err)
	}

	descs := make([]rendition.Descriptor, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		abs, err := resolveURL(base, v.URI)
		if err != nil {
			continue
		}
		descs = append(descs, rendition.Descriptor{
			ID:      abs,
			Height:  resolutionHeight(v.Resolution),
			Bitrate: float64(v.Bandwidth) / 1000,
			Ext:     "m3u8",
		})
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("master playlist %s has no usable variants", playlistURL)
	}
	return descs, nil
}

// downloadHLS assembles the media playlist's segments into destPath in
// order, fetching them with a bounded worker pool. Encrypted playlists go
// through yt-dlp instead.
func (e *Executor) downloadHLS(ctx context.Context, ref locate.Reference, desc rendition.Descriptor, destPath string) Result {
	mediaURL := ref.URL
	if !desc.IsSentinel() && desc.ID != "" {
		mediaURL = desc.ID
	}

	playlist, kind, err := e.fetchPlaylist(ctx, mediaURL)
	if err != nil {
		return failure(desc, "fetching playlist: %v", err)
	}
	if kind == m3u8.MASTER {
		// A master slipped through rendition selection; take its first
		// variant rather than fail the item.
		master := playlist.(*m3u8.MasterPlaylist)
		if len(master.Variants) == 0 || master.Variants[0].URI == "" {
			return failure(desc, "master playlist has no variants")
		}
		base, _ := url.Parse(mediaURL)
		abs, err := resolveURL(base, master.Variants[0].URI)
		if err != nil {
			return failure(desc, "resolving variant URL: %v", err)
		}
		mediaURL = abs
		playlist, kind, err = e.fetchPlaylist(ctx, mediaURL)
		if err != nil {
			return failure(desc, "fetching media playlist: %v", err)
		}
		if kind != m3u8.MEDIA {
			return failure(desc, "variant did not resolve to a media playlist")
		}
	}

	media := playlist.(*m3u8.MediaPlaylist)
	if media.Key != nil && media.Key.URI != "" {
		return e.downloadWithTool(ctx, mediaURL, rendition.Sentinel, destPath)
	}

	base, err := url.Parse(mediaURL)
	if err != nil {
		return failure(desc, "invalid media playlist URL: %v", err)
	}
	var segmentURLs []string
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		if seg.Key != nil && seg.Key.URI != "" {
			return e.downloadWithTool(ctx, mediaURL, rendition.Sentinel, destPath)
		}
		abs, err := resolveURL(base, seg.URI)
		if err != nil {
			return failure(desc, "resolving segment URL: %v", err)
		}
		segmentURLs = append(segmentURLs, abs)
	}
	if len(segmentURLs) == 0 {
		return failure(desc, "media playlist has no segments")
	}

	segDir, err := os.MkdirTemp(e.scratchDir(destPath), "segments-*")
	if err != nil {
		return failure(desc, "creating segment directory: %v", err)
	}
	defer os.RemoveAll(segDir)

	segPaths, err := e.fetchSegments(ctx, segmentURLs, segDir)
	if err != nil {
		return failure(desc, "downloading segments: %v", err)
	}

	total, err := assembleSegments(segPaths, destPath)
	if err != nil {
		return failure(desc, "assembling segments: %v", err)
	}
	return Result{Success: true, Path: destPath, Bytes: total}
}

// fetchSegments downloads every URL concurrently, preserving order in the
// returned paths. The first failure cancels the rest.
func (e *Executor) fetchSegments(ctx context.Context, urls []string, segDir string) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	paths := make([]string, len(urls))
	tasks := make(chan int)
	var firstErr atomic.Value
	var wg sync.WaitGroup

	workers := e.segmentConcurrency()
	if workers > len(urls) {
		workers = len(urls)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				path := filepath.Join(segDir, fmt.Sprintf("%06d.ts", i))
				if err := e.fetchSegment(ctx, urls[i], path); err != nil {
					firstErr.CompareAndSwap(nil, fmt.Errorf("segment %d: %w", i, err))
					cancel()
					return
				}
				paths[i] = path
			}
		}()
	}

dispatch:
	for i := range urls {
		select {
		case tasks <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if err, ok := firstErr.Load().(error); ok {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

func (e *Executor) fetchSegment(ctx context.Context, url, path string) error {
	var lastErr error
	for attempt := 0; attempt < segmentRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = e.fetchSegmentOnce(ctx, url, path)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (e *Executor) fetchSegmentOnce(ctx context.Context, url, path string) error {
	req, err := e.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return err
	}
	resp, err := e.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

// assembleSegments concatenates segment files in order into destPath via a
// .part file renamed on success.
func assembleSegments(segPaths []string, destPath string) (int64, error) {
	partPath := destPath + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, p := range segPaths {
		seg, err := os.Open(p)
		if err != nil {
			out.Close()
			os.Remove(partPath)
			return 0, err
		}
		n, err := io.Copy(out, seg)
		seg.Close()
		if err != nil {
			out.Close()
			os.Remove(partPath)
			return 0, err
		}
		total += n
	}
	if err := out.Close(); err != nil {
		os.Remove(partPath)
		return 0, err
	}
	if total == 0 {
		os.Remove(partPath)
		return 0, fmt.Errorf("no segment data written")
	}
	return total, os.Rename(partPath, destPath)
}

func (e *Executor) fetchPlaylist(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, error) {
	req, err := e.newRequest(ctx, http.MethodGet, playlistURL)
	if err != nil {
		return nil, 0, err
	}
	resp, err := e.httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("playlist request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, err
	}
	playlist, kind, err := m3u8.Decode(*bytes.NewBuffer(body), true)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing playlist: %w", err)
	}
	return playlist, kind, nil
}

func resolveURL(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(parsed).String(), nil
}

// resolutionHeight parses the HEIGHT half of a RESOLUTION attribute.
func resolutionHeight(resolution string) int {
	for i := 0; i < len(resolution); i++ {
		if resolution[i] == 'x' || resolution[i] == 'X' {
			h, err := strconv.Atoi(resolution[i+1:])
			if err != nil {
				return 0
			}
			return h
		}
	}
	return 0
}

// qualityHintFromURL finds a "NNNp" height token in a playlist URL.
func qualityHintFromURL(raw string) int {
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			j := i
			for j < len(raw) && raw[j] >= '0' && raw[j] <= '9' {
				j++
			}
			if j < len(raw) && raw[j] == 'p' && j-i >= 3 && j-i <= 4 {
				if h, err := strconv.Atoi(raw[i:j]); err == nil && h >= 100 && h <= 4320 {
					return h
				}
			}
			i = j
		}
	}
	return 0
}
