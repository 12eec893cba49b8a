package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeRunner struct {
	info       ProbeInfo
	probeErr   error
	encodeErr  error
	encodes    int
	lastOpts   EncodeOptions
	encodeBody []byte
}

func (f *fakeRunner) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	return f.info, f.probeErr
}

func (f *fakeRunner) Encode(ctx context.Context, inPath, outPath string, opts EncodeOptions) error {
	f.encodes++
	f.lastOpts = opts
	if f.encodeErr != nil {
		return f.encodeErr
	}
	body := f.encodeBody
	if body == nil {
		body = []byte("encoded")
	}
	return os.WriteFile(outPath, body, 0o644)
}

func (f *fakeRunner) ExtractAudio(ctx context.Context, inPath, outPath, bitrate string) error {
	return nil
}

func writeSource(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ep1.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCompress_NoOpWhenWithinThresholds(t *testing.T) {
	path := writeSource(t, 1000)
	runner := &fakeRunner{info: ProbeInfo{Height: 240, Size: 1000}}
	c := &Compressor{Runner: runner, TargetHeight: 240, MaxSize: 10000, CRF: 28, Preset: "fast"}

	out, err := c.Compress(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Performed {
		t.Fatal("compliant file must not be transcoded")
	}
	if runner.encodes != 0 {
		t.Fatalf("encoder invoked %d times on a compliant file", runner.encodes)
	}
	data, _ := os.ReadFile(path)
	if len(data) != 1000 {
		t.Fatal("original modified by a no-op")
	}
}

func TestCompress_HeightTrigger(t *testing.T) {
	path := writeSource(t, 1000)
	runner := &fakeRunner{info: ProbeInfo{Height: 720, Size: 1000}}
	c := &Compressor{Runner: runner, TargetHeight: 240, CRF: 28, Preset: "fast", AudioBitrate: "64k", MonoAudio: true}

	out, err := c.Compress(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Performed {
		t.Fatal("oversized file must be transcoded")
	}
	if runner.lastOpts.TargetHeight != 240 || runner.lastOpts.CRF != 28 {
		t.Fatalf("encode options not passed through: %+v", runner.lastOpts)
	}
	data, _ := os.ReadFile(out.Path)
	if string(data) != "encoded" {
		t.Fatalf("original not replaced: %q", data)
	}
}

func TestCompress_SizeTriggerDespiteHeight(t *testing.T) {
	path := writeSource(t, 1000)
	runner := &fakeRunner{info: ProbeInfo{Height: 240, Size: 900000}}
	c := &Compressor{Runner: runner, TargetHeight: 240, MaxSize: 500000, CRF: 28, Preset: "fast"}

	out, err := c.Compress(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Performed {
		t.Fatal("size threshold must trigger a transcode at compliant height")
	}
}

func TestCompress_FailureKeepsOriginal(t *testing.T) {
	path := writeSource(t, 1000)
	runner := &fakeRunner{
		info:      ProbeInfo{Height: 720, Size: 1000},
		encodeErr: errors.New("encoder exploded"),
	}
	c := &Compressor{Runner: runner, TargetHeight: 240, CRF: 28, Preset: "fast"}

	out, err := c.Compress(context.Background(), path)
	if err == nil {
		t.Fatal("expected error from failed encode")
	}
	if out.Performed {
		t.Fatal("failed encode must not report performed")
	}
	data, readErr := os.ReadFile(path)
	if readErr != nil || len(data) != 1000 {
		t.Fatal("original must survive a failed transcode")
	}
	if _, statErr := os.Stat(encodeTempPath(path)); !os.IsNotExist(statErr) {
		t.Fatal("temp encode output left behind")
	}
}

func TestCompress_EmptyOutputIsFailure(t *testing.T) {
	path := writeSource(t, 1000)
	runner := &fakeRunner{
		info:       ProbeInfo{Height: 720, Size: 1000},
		encodeBody: []byte{},
	}
	c := &Compressor{Runner: runner, TargetHeight: 240, CRF: 28, Preset: "fast"}

	if _, err := c.Compress(context.Background(), path); err == nil {
		t.Fatal("zero-byte encode output must be an error")
	}
	if data, _ := os.ReadFile(path); len(data) != 1000 {
		t.Fatal("original must survive an empty encode")
	}
}

func TestCompress_RenamesContainerToMP4(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ep1.webm")
	if err := os.WriteFile(path, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{info: ProbeInfo{Height: 720, Size: 100}}
	c := &Compressor{Runner: runner, TargetHeight: 240, CRF: 28, Preset: "fast"}

	out, err := c.Compress(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Ext(out.Path) != ".mp4" {
		t.Fatalf("expected .mp4 output, got %s", out.Path)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("source container not removed after successful transcode")
	}
}

func TestWithMP4Ext(t *testing.T) {
	if p := withMP4Ext("/a/b/ep1.mp4"); p != "/a/b/ep1.mp4" {
		t.Fatalf("mp4 path must be unchanged, got %s", p)
	}
	if p := withMP4Ext("/a/b/ep1.webm"); p != "/a/b/ep1.mp4" {
		t.Fatalf("expected .mp4 swap, got %s", p)
	}
}
