// Package media wraps ffmpeg for probing, downscale transcoding, and
// audio extraction.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ProbeInfo is the subset of ffprobe output the pipeline decides on.
type ProbeInfo struct {
	Width    int
	Height   int
	Duration float64
	Size     int64
}

// EncodeOptions parameterize a downscale transcode.
type EncodeOptions struct {
	TargetHeight int
	CRF          int
	Preset       string
	AudioBitrate string
	MonoAudio    bool
}

// Runner abstracts the ffmpeg invocations so the compress policy can be
// tested without a binary.
type Runner interface {
	Probe(ctx context.Context, path string) (ProbeInfo, error)
	Encode(ctx context.Context, inPath, outPath string, opts EncodeOptions) error
	ExtractAudio(ctx context.Context, inPath, outPath, bitrate string) error
}

// FFmpeg runs the real binary.
type FFmpeg struct{}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

func (FFmpeg) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("probing %s: %w", path, err)
	}
	var parsed probeResult
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return ProbeInfo{}, fmt.Errorf("parsing probe output for %s: %w", path, err)
	}

	info := ProbeInfo{}
	for _, s := range parsed.Streams {
		if s.CodecType == "video" && s.Height > 0 {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	info.Duration, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	info.Size, _ = strconv.ParseInt(parsed.Format.Size, 10, 64)
	if info.Size == 0 {
		if fi, err := os.Stat(path); err == nil {
			info.Size = fi.Size()
		}
	}
	return info, nil
}

func (FFmpeg) Encode(ctx context.Context, inPath, outPath string, opts EncodeOptions) error {
	kwargs := ffmpeg.KwArgs{
		"vf":       fmt.Sprintf("scale=-2:%d", opts.TargetHeight),
		"c:v":      "libx264",
		"crf":      strconv.Itoa(opts.CRF),
		"preset":   opts.Preset,
		"c:a":      "aac",
		"b:a":      opts.AudioBitrate,
		"movflags": "+faststart",
	}
	if opts.MonoAudio {
		kwargs["ac"] = "1"
	}
	cmd := ffmpeg.Input(inPath).
		Output(outPath, kwargs).
		OverWriteOutput().
		Silent(true).
		Compile()
	return runCmd(ctx, cmd)
}

func (FFmpeg) ExtractAudio(ctx context.Context, inPath, outPath, bitrate string) error {
	cmd := ffmpeg.Input(inPath).
		Output(outPath, ffmpeg.KwArgs{
			"vn":  "",
			"c:a": "libmp3lame",
			"b:a": bitrate,
		}).
		OverWriteOutput().
		Silent(true).
		Compile()
	return runCmd(ctx, cmd)
}

// runCmd runs an already-built command under ctx, killing the process on
// cancellation.
func runCmd(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return nil
	}
}
