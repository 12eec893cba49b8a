// Package batch expands an episode range into work items and runs them
// through a processor, sequentially or with a worker pool.
package batch

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Item is one episode to process.
type Item struct {
	// Index is the episode number within the range, 1-based as given.
	Index int

	// URL is the fully expanded page URL.
	URL string

	// Title labels progress output, e.g. "show-name E04".
	Title string

	// DestPath is the deterministic final file path. Its existence is
	// the skip signal on re-runs.
	DestPath string
}

// Spec describes a range expansion.
type Spec struct {
	// BaseURL contains {n} or {nn} placeholders for the episode number.
	// Without a placeholder the number is appended to the path.
	BaseURL string

	Start int
	End   int

	// Season, when positive, adds sNNeNN to file names.
	Season int

	// DestDir receives the output files.
	DestDir string

	// Ext is the expected container extension, default "mp4".
	Ext string
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// BuildItems expands spec into one item per episode.
func BuildItems(spec Spec) ([]Item, error) {
	if spec.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if spec.Start < 1 || spec.End < spec.Start {
		return nil, fmt.Errorf("invalid episode range %d-%d", spec.Start, spec.End)
	}
	ext := spec.Ext
	if ext == "" {
		ext = "mp4"
	}
	slug := slugFromURL(spec.BaseURL)

	items := make([]Item, 0, spec.End-spec.Start+1)
	for n := spec.Start; n <= spec.End; n++ {
		name := episodeName(slug, spec.Season, n)
		items = append(items, Item{
			Index:    n,
			URL:      ExpandURL(spec.BaseURL, n),
			Title:    name,
			DestPath: filepath.Join(spec.DestDir, name+"."+ext),
		})
	}
	return items, nil
}

// ExpandURL substitutes the episode number into a URL template. {nn}
// zero-pads to two digits, {n} does not. A template without placeholders
// gets the number appended as a path element.
func ExpandURL(template string, n int) string {
	switch {
	case strings.Contains(template, "{nn}"):
		return strings.ReplaceAll(template, "{nn}", fmt.Sprintf("%02d", n))
	case strings.Contains(template, "{n}"):
		return strings.ReplaceAll(template, "{n}", fmt.Sprintf("%d", n))
	default:
		return strings.TrimRight(template, "/") + fmt.Sprintf("/%d", n)
	}
}

func episodeName(slug string, season, n int) string {
	if season > 0 {
		return fmt.Sprintf("%s_s%02de%02d", slug, season, n)
	}
	return fmt.Sprintf("%s_e%02d", slug, n)
}

// slugFromURL derives a stable file-name stem from the deepest meaningful
// path element of the template.
func slugFromURL(template string) string {
	cleaned := template
	for _, ph := range []string{"{nn}", "{n}"} {
		cleaned = strings.ReplaceAll(cleaned, ph, "")
	}
	cleaned = strings.SplitN(cleaned, "?", 2)[0]
	cleaned = strings.TrimRight(cleaned, "/-_")

	segment := cleaned
	if i := strings.LastIndexByte(cleaned, '/'); i >= 0 {
		segment = cleaned[i+1:]
	}
	slug := slugStripRe.ReplaceAllString(strings.ToLower(segment), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "episode"
	}
	return slug
}
