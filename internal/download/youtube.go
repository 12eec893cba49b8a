package download

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	yt "github.com/kkdai/youtube/v2"

	"github.com/seqgrab/seqgrab/internal/rendition"
)

// youtubeFormats lists the progressive (video+audio) formats of a
// YouTube-hosted embed.
func (e *Executor) youtubeFormats(ctx context.Context, videoURL string) ([]rendition.Descriptor, error) {
	client := e.youtubeClient()
	video, err := client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("resolving youtube video: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	descs := make([]rendition.Descriptor, 0, len(formats))
	for _, f := range formats {
		descs = append(descs, rendition.Descriptor{
			ID:       strconv.Itoa(f.ItagNo),
			Height:   f.Height,
			Bitrate:  float64(f.Bitrate) / 1000,
			Filesize: f.ContentLength,
			Ext:      mimeExt(f.MimeType),
		})
	}
	if len(descs) == 0 {
		return nil, fmt.Errorf("youtube video %s has no progressive formats", videoURL)
	}
	return descs, nil
}

func (e *Executor) downloadYouTube(ctx context.Context, videoURL string, desc rendition.Descriptor, destPath string) Result {
	client := e.youtubeClient()
	video, err := client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return failure(desc, "resolving youtube video: %v", err)
	}

	format := pickYouTubeFormat(video.Formats.WithAudioChannels(), desc)
	if format == nil {
		return failure(desc, "no matching youtube format for %s", desc)
	}

	stream, _, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return failure(desc, "opening youtube stream: %v", err)
	}
	defer stream.Close()

	partPath := destPath + ".part"
	written, err := writePart(partPath, 0, stream)
	if err != nil {
		return failure(desc, "writing youtube stream: %v", err)
	}
	if written == 0 {
		os.Remove(partPath)
		return failure(desc, "youtube stream was empty")
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return failure(desc, "finalizing file: %v", err)
	}
	return Result{Success: true, Path: destPath, Bytes: written}
}

// pickYouTubeFormat matches desc's itag, or the lowest-height progressive
// format when desc is the sentinel.
func pickYouTubeFormat(formats yt.FormatList, desc rendition.Descriptor) *yt.Format {
	if len(formats) == 0 {
		return nil
	}
	if !desc.IsSentinel() {
		if itag, err := strconv.Atoi(desc.ID); err == nil {
			for i := range formats {
				if formats[i].ItagNo == itag {
					return &formats[i]
				}
			}
		}
		return nil
	}
	lowest := &formats[0]
	for i := range formats {
		if formats[i].Height > 0 && (lowest.Height == 0 || formats[i].Height < lowest.Height) {
			lowest = &formats[i]
		}
	}
	return lowest
}

func mimeExt(mimeType string) string {
	// "video/mp4; codecs=..." -> "mp4"
	main := mimeType
	if i := strings.IndexByte(main, ';'); i >= 0 {
		main = main[:i]
	}
	if i := strings.IndexByte(main, '/'); i >= 0 {
		return strings.TrimSpace(main[i+1:])
	}
	return ""
}

func (e *Executor) youtubeClient() *yt.Client {
	c := &yt.Client{}
	if e.HTTP != nil {
		c.HTTPClient = e.HTTP
	}
	return c
}
