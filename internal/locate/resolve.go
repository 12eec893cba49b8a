package locate

import (
	"context"
	"fmt"

	"github.com/seqgrab/seqgrab/internal/fetch"
)

// PageFetcher is the slice of the fetch layer the resolver needs.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Page, error)
}

// DefaultMaxHops bounds how many nested embed pages the resolver will
// chase before giving up. Real player chains are one hop deep; two covers
// the occasional double wrapper.
const DefaultMaxHops = 2

// Resolver turns a fetched watch page into a downloadable stream
// reference, following nested embed pages up to MaxHops times.
type Resolver struct {
	Fetcher PageFetcher
	MaxHops int
}

// Resolve locates a stream on page, fetching and re-locating through embed
// pages. It returns ErrNotFound when the chain bottoms out in another
// embed page or a page with no stream at all.
func (r *Resolver) Resolve(ctx context.Context, page *fetch.Page) (Reference, error) {
	maxHops := r.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}

	ref, err := Locate(page.FinalURL, page.Body)
	if err != nil {
		return Reference{}, err
	}

	for hop := 0; ref.Kind == KindEmbedPage; hop++ {
		if hop >= maxHops {
			return Reference{}, fmt.Errorf("embed chain deeper than %d hops at %s: %w", maxHops, ref.URL, ErrNotFound)
		}
		embedPage, err := r.Fetcher.Fetch(ctx, ref.URL)
		if err != nil {
			return Reference{}, fmt.Errorf("fetching embed page %s: %w", ref.URL, err)
		}
		next, err := Locate(embedPage.FinalURL, embedPage.Body)
		if err != nil {
			return Reference{}, fmt.Errorf("locating inside embed %s: %w", ref.URL, err)
		}
		if next.URL == ref.URL {
			return Reference{}, fmt.Errorf("embed page %s points at itself: %w", ref.URL, ErrNotFound)
		}
		ref = next
	}

	return ref, nil
}
