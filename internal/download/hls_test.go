package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seqgrab/seqgrab/internal/locate"
	"github.com/seqgrab/seqgrab/internal/rendition"
)

func hlsTestServer(t *testing.T, segments []string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=426x240
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
high/index.m3u8
`)
	})
	mux.HandleFunc("/low/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n")
		for i := range segments {
			fmt.Fprintf(&b, "#EXTINF:10.0,\nseg%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		fmt.Fprint(w, b.String())
	})
	for i, content := range segments {
		content := content
		mux.HandleFunc(fmt.Sprintf("/low/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, content)
		})
	}
	return srv
}

func TestHLSVariants(t *testing.T) {
	srv := hlsTestServer(t, []string{"a"})
	e := &Executor{}

	descs, err := e.hlsVariants(context.Background(), srv.URL+"/master.m3u8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(descs))
	}
	if descs[0].Height != 240 {
		t.Fatalf("expected 240p first, got %d", descs[0].Height)
	}
	if !strings.HasSuffix(descs[0].ID, "/low/index.m3u8") {
		t.Fatalf("variant URI not absolutized: %s", descs[0].ID)
	}
	if descs[1].Height != 720 {
		t.Fatalf("expected 720p second, got %d", descs[1].Height)
	}
}

func TestDownloadHLS_AssemblesSegmentsInOrder(t *testing.T) {
	segments := []string{"first-", "second-", "third"}
	srv := hlsTestServer(t, segments)

	dest := filepath.Join(t.TempDir(), "ep1.mp4")
	e := &Executor{SegmentConcurrency: 2}
	res := e.Download(context.Background(),
		locate.Reference{Kind: locate.KindHLSPlaylist, URL: srv.URL + "/master.m3u8"},
		rendition.Descriptor{ID: srv.URL + "/low/index.m3u8", Height: 240}, dest)

	if !res.Success {
		t.Fatalf("download failed: %s", res.Reason)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "first-second-third" {
		t.Fatalf("segments out of order or incomplete: %q", data)
	}
}

func TestDownloadHLS_SentinelFallsBackToFirstVariant(t *testing.T) {
	segments := []string{"only"}
	srv := hlsTestServer(t, segments)

	dest := filepath.Join(t.TempDir(), "ep1.mp4")
	e := &Executor{}
	res := e.Download(context.Background(),
		locate.Reference{Kind: locate.KindHLSPlaylist, URL: srv.URL + "/master.m3u8"},
		rendition.Sentinel, dest)

	if !res.Success {
		t.Fatalf("download failed: %s", res.Reason)
	}
	data, _ := os.ReadFile(dest)
	if string(data) != "only" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestDownloadHLS_SegmentFailureReported(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nmissing.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/missing.ts", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	dest := filepath.Join(t.TempDir(), "ep1.mp4")
	e := &Executor{}
	res := e.Download(context.Background(),
		locate.Reference{Kind: locate.KindHLSPlaylist, URL: srv.URL + "/index.m3u8"},
		rendition.Descriptor{ID: srv.URL + "/index.m3u8"}, dest)

	if res.Success {
		t.Fatal("expected failure when a segment 404s")
	}
	if !strings.Contains(res.Reason, "segment") {
		t.Fatalf("reason should mention the segment: %s", res.Reason)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatal("destination must not exist after failure")
	}
}

func TestResolutionHeight(t *testing.T) {
	if h := resolutionHeight("1280x720"); h != 720 {
		t.Fatalf("expected 720, got %d", h)
	}
	if h := resolutionHeight(""); h != 0 {
		t.Fatalf("expected 0 for empty, got %d", h)
	}
}

func TestAssembleSegments_EmptyFails(t *testing.T) {
	dir := t.TempDir()
	seg := filepath.Join(dir, "000000.ts")
	if err := os.WriteFile(seg, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := assembleSegments([]string{seg}, filepath.Join(dir, "out.mp4")); err == nil {
		t.Fatal("expected error for zero-byte assembly")
	}
}
