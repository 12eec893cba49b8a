// Package locate extracts a playable stream reference from a watch page.
// It runs a fixed chain of strategies, from most to least precise, and
// classifies what it finds as a direct file, an HLS playlist, or another
// embed page that needs a further resolution pass.
package locate

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Kind classifies a located stream reference.
type Kind string

const (
	KindDirectFile  Kind = "direct_file"
	KindHLSPlaylist Kind = "hls_playlist"
	KindEmbedPage   Kind = "embed_page"
)

// Reference is a located stream. URL is always absolute.
type Reference struct {
	Kind Kind
	URL  string

	// QualityHint is a height in pixels parsed from the URL, zero when
	// the URL carries no quality token.
	QualityHint int
}

func (r Reference) String() string {
	if r.QualityHint > 0 {
		return fmt.Sprintf("%s %s (%dp)", r.Kind, r.URL, r.QualityHint)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.URL)
}

// ErrNotFound means no strategy produced a candidate.
var ErrNotFound = errors.New("no stream found")

var (
	// directMediaRe matches media URLs embedded anywhere in the page
	// source, quoted or not.
	directMediaRe = regexp.MustCompile(`https?://[^\s"'<>\\]+?\.(?:m3u8|mp4|webm|mov|m4v|ts)(?:\?[^\s"'<>\\]*)?`)

	// playerConfigRe matches the file/source assignments of the common
	// JS player setups (jwplayer, playerjs, video.js inline configs).
	playerConfigRe = regexp.MustCompile(`(?:file|source|src|videoUrl)\s*:\s*["']([^"']+)["']`)

	qualityRe = regexp.MustCompile(`(\d{3,4})p`)
)

// lowTokenRe matches a "low" marker at the start of a path or name
// segment; plain substring search would also hit words like "follow"
// and "slow".
var lowTokenRe = regexp.MustCompile(`(?i)(?:^|[^a-z])low`)

// Locate runs the strategy chain over the page body. pageURL anchors
// relative references. It returns ErrNotFound when every strategy misses.
func Locate(pageURL string, body []byte) (Reference, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Reference{}, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
	}

	text := string(body)
	doc, docErr := goquery.NewDocumentFromReader(strings.NewReader(text))

	if ref, ok := fromDirectMedia(text); ok {
		return ref, nil
	}
	if ref, ok := fromPlayerConfig(base, text); ok {
		return ref, nil
	}
	if docErr == nil {
		if ref, ok := fromIframe(base, doc); ok {
			return ref, nil
		}
		if ref, ok := fromVideoTag(base, doc); ok {
			return ref, nil
		}
	}

	return Reference{}, ErrNotFound
}

// fromDirectMedia scans raw page text for media URLs. When several match,
// one carrying a low-quality token wins; otherwise the first occurrence.
func fromDirectMedia(text string) (Reference, bool) {
	matches := directMediaRe.FindAllString(text, -1)
	if len(matches) == 0 {
		return Reference{}, false
	}
	candidate := matches[0]
	for _, m := range matches {
		if hasLowQualityToken(m) {
			candidate = m
			break
		}
	}
	return ClassifyURL(candidate), true
}

func fromPlayerConfig(base *url.URL, text string) (Reference, bool) {
	for _, m := range playerConfigRe.FindAllStringSubmatch(text, -1) {
		raw := strings.TrimSpace(m[1])
		if !looksLikeMediaPath(raw) {
			continue
		}
		if abs := absolutize(base, raw); abs != "" {
			return ClassifyURL(abs), true
		}
	}
	return Reference{}, false
}

// embedHostTokens mark iframe sources worth a second resolution pass.
var embedHostTokens = []string{"player", "embed", "video", "vid", "stream", "watch"}

func fromIframe(base *url.URL, doc *goquery.Document) (Reference, bool) {
	var found string
	doc.Find("iframe[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		abs := absolutize(base, src)
		if abs == "" {
			return true
		}
		lower := strings.ToLower(abs)
		for _, token := range embedHostTokens {
			if strings.Contains(lower, token) {
				found = abs
				return false
			}
		}
		return true
	})
	if found == "" {
		return Reference{}, false
	}
	ref := ClassifyURL(found)
	if ref.Kind == KindDirectFile && !looksLikeMediaPath(found) {
		ref.Kind = KindEmbedPage
	}
	return ref, true
}

func fromVideoTag(base *url.URL, doc *goquery.Document) (Reference, bool) {
	var found string
	doc.Find("video[src], video source[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		if abs := absolutize(base, src); abs != "" {
			found = abs
			return false
		}
		return true
	})
	if found == "" {
		return Reference{}, false
	}
	return ClassifyURL(found), true
}

// ClassifyURL maps a URL to a reference kind by its path extension. URLs
// without a media extension are embed pages.
func ClassifyURL(raw string) Reference {
	ref := Reference{URL: raw, QualityHint: qualityHint(raw)}
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	switch strings.ToLower(pathExt(path)) {
	case ".m3u8":
		ref.Kind = KindHLSPlaylist
	case ".mp4", ".webm", ".mov", ".m4v", ".ts":
		ref.Kind = KindDirectFile
	default:
		ref.Kind = KindEmbedPage
	}
	return ref
}

func pathExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsRune(path[i:], '/') {
		return path[i:]
	}
	return ""
}

func looksLikeMediaPath(raw string) bool {
	lower := strings.ToLower(raw)
	if strings.HasSuffix(lower, ".js") || strings.HasSuffix(lower, ".css") ||
		strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".jpg") ||
		strings.HasSuffix(lower, ".svg") {
		return false
	}
	for _, ext := range []string{".m3u8", ".mp4", ".webm", ".mov", ".m4v", ".ts"} {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// hasLowQualityToken reports whether a URL advertises a small rendition:
// any "NNNp" height token at or under 480, or a standalone "low" marker.
func hasLowQualityToken(raw string) bool {
	for _, m := range qualityRe.FindAllStringSubmatch(raw, -1) {
		if h, err := strconv.Atoi(m[1]); err == nil && h <= 480 {
			return true
		}
	}
	return lowTokenRe.MatchString(raw)
}

func qualityHint(raw string) int {
	m := qualityRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h < 100 || h > 4320 {
		return 0
	}
	return h
}

// absolutize resolves raw against base, accepting scheme-relative and
// path-relative forms. Non-http results are dropped.
func absolutize(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "javascript:") {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
