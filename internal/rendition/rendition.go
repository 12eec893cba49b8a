// Package rendition models the encoding options a resolved stream offers
// and implements the low-bandwidth selection policy.
package rendition

import (
	"fmt"
	"sort"
)

// Descriptor is one encoding option of a resolved stream, as reported by
// whichever probe produced it (yt-dlp -J, an HLS master playlist, or a
// YouTube format list).
type Descriptor struct {
	// ID is the probe-specific selector token (yt-dlp format_id, HLS
	// variant URI, YouTube itag).
	ID string

	// Height in pixels. Zero means unknown.
	Height int

	// Bitrate in kbit/s, approximate. Zero means unknown.
	Bitrate float64

	// Filesize in bytes, approximate. Zero means unknown.
	Filesize int64

	// Ext is the container extension ("mp4", "m3u8", ...).
	Ext string
}

// Sentinel is returned when rendition metadata is entirely unavailable.
// Downloaders translate it into their own coarse worst-available policy
// instead of failing the item.
var Sentinel = Descriptor{ID: "worst-available"}

// IsSentinel reports whether d is the worst-available placeholder.
func (d Descriptor) IsSentinel() bool {
	return d.ID == Sentinel.ID && d.Height == 0
}

func (d Descriptor) String() string {
	if d.IsSentinel() {
		return "worst-available"
	}
	if d.Height > 0 {
		return fmt.Sprintf("%s (%dp)", d.ID, d.Height)
	}
	return d.ID
}

// Select picks a rendition under the ceiling policy:
// the largest height that does not exceed ceiling, falling back to the
// single smallest height overall when nothing fits. With preferWorst the
// global minimum wins regardless of the ceiling. Renditions without a
// known height are ignored; if none remain, Sentinel is returned.
func Select(list []Descriptor, ceiling int, preferWorst bool) Descriptor {
	known := make([]Descriptor, 0, len(list))
	for _, d := range list {
		if d.Height > 0 {
			known = append(known, d)
		}
	}
	if len(known) == 0 {
		return Sentinel
	}

	sort.SliceStable(known, func(i, j int) bool {
		if known[i].Height != known[j].Height {
			return known[i].Height < known[j].Height
		}
		return known[i].Bitrate < known[j].Bitrate
	})

	if preferWorst {
		return known[0]
	}

	best := Descriptor{}
	for _, d := range known {
		if ceiling > 0 && d.Height > ceiling {
			break
		}
		best = d
	}
	if best.Height > 0 {
		return best
	}
	// Everything exceeds the ceiling: take the smallest and let the
	// compress stage bring it down.
	return known[0]
}

// SelectorString renders a descriptor as a yt-dlp -f expression. The
// sentinel maps to the coarse worst-under-ceiling selector the original
// scripts relied on.
func SelectorString(d Descriptor, ceiling int) string {
	if d.IsSentinel() || d.ID == "" {
		if ceiling > 0 {
			return fmt.Sprintf("worst[height<=%d]/worst", ceiling)
		}
		return "worst"
	}
	return d.ID
}
