package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Compressor downscales files that exceed the height or size thresholds.
type Compressor struct {
	Runner Runner

	// TargetHeight is the output height and the trigger threshold.
	TargetHeight int

	// MaxSize triggers a transcode even at an acceptable height. Zero
	// disables the size trigger.
	MaxSize int64

	CRF    int
	Preset string

	// AudioBitrate for the transcoded track, e.g. "64k".
	AudioBitrate string
	MonoAudio    bool
}

// Outcome reports what Compress did.
type Outcome struct {
	// Performed is false when the file already met the thresholds.
	Performed    bool
	Path         string
	OriginalSize int64
	FinalSize    int64
	Height       int
}

// Compress transcodes path in place when it exceeds the thresholds. The
// original is never touched until the transcode has fully succeeded; on
// any failure it remains on disk and the error describes what went wrong.
func (c *Compressor) Compress(ctx context.Context, path string) (Outcome, error) {
	info, err := c.Runner.Probe(ctx, path)
	if err != nil {
		return Outcome{Path: path}, fmt.Errorf("probe before transcode: %w", err)
	}

	out := Outcome{
		Path:         path,
		OriginalSize: info.Size,
		FinalSize:    info.Size,
		Height:       info.Height,
	}

	withinHeight := info.Height > 0 && info.Height <= c.TargetHeight
	withinSize := c.MaxSize <= 0 || info.Size <= c.MaxSize
	if withinHeight && withinSize {
		return out, nil
	}

	tmpPath := encodeTempPath(path)
	defer os.Remove(tmpPath)

	err = c.Runner.Encode(ctx, path, tmpPath, EncodeOptions{
		TargetHeight: c.TargetHeight,
		CRF:          c.CRF,
		Preset:       c.Preset,
		AudioBitrate: c.AudioBitrate,
		MonoAudio:    c.MonoAudio,
	})
	if err != nil {
		return out, fmt.Errorf("transcode: %w", err)
	}

	fi, err := os.Stat(tmpPath)
	if err != nil || fi.Size() == 0 {
		return out, fmt.Errorf("transcode produced no output for %s", path)
	}

	finalPath := withMP4Ext(path)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return out, fmt.Errorf("replacing original: %w", err)
	}
	if finalPath != path {
		os.Remove(path)
	}

	out.Performed = true
	out.Path = finalPath
	out.FinalSize = fi.Size()
	out.Height = c.TargetHeight
	return out, nil
}

func encodeTempPath(path string) string {
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(dir, base+".enc.tmp.mp4")
}

// withMP4Ext keeps the transcoded container consistent regardless of what
// the source stream arrived as.
func withMP4Ext(path string) string {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".mp4") {
		return path
	}
	return strings.TrimSuffix(path, ext) + ".mp4"
}
