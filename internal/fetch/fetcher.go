// Package fetch retrieves watch pages with browser-plausible headers,
// following both HTTP and client-side redirects, and falling back to a
// headless browser when a bot challenge is detected.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultUserAgent mirrors the headers the target sites are known to accept.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	// maxClientRedirects bounds meta-refresh / canonical / watch-link hops.
	maxClientRedirects = 3
	maxBodySize        = 8 << 20
)

// ErrChallenge indicates the site returned a bot-verification interstitial
// and no bypass capability was available to solve it.
var ErrChallenge = errors.New("challenge page detected")

// HTTPError is a non-2xx response that could not be interpreted as a
// redirect of any kind.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.Status, e.URL)
}

// NetworkError wraps transport-level failures (timeouts, resets) after the
// transport's own bounded retries are exhausted.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("fetching %s: %v", e.URL, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// Page is the result of fetching a content URL. FinalURL is absolute and
// reflects every redirect mechanism that fired; downstream extraction must
// resolve relative references against it, not against RequestedURL.
type Page struct {
	RequestedURL string
	FinalURL     string
	Body         []byte
	Header       http.Header
}

// Options configures a Fetcher.
type Options struct {
	UserAgent string
	Referer   string
	Timeout   time.Duration
	// Bypass solves challenge pages. Nil disables the fallback.
	Bypass ChallengeBypasser
	// Transport overrides the base transport (tests).
	Transport http.RoundTripper
}

// Fetcher issues browser-like GETs. It keeps a cookie jar across calls so
// cookies earned by one item (including those captured by the challenge
// bypass) carry over to the next.
type Fetcher struct {
	client *http.Client
	jar    http.CookieJar
	bypass ChallengeBypasser
}

type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	referer   string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	}
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if t.referer != "" && req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", t.referer)
	}
	return t.base.RoundTrip(req)
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	base := opts.Transport
	if base == nil {
		base = &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			DialContext: (&net.Dialer{
				Timeout:   15 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
		}
	}
	var transport http.RoundTripper = &headerTransport{
		base:      base,
		userAgent: opts.UserAgent,
		referer:   opts.Referer,
	}
	transport = newRetryTransport(transport, defaultRetryConfig)

	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Jar:       jar,
			Transport: transport,
		},
		jar:    jar,
		bypass: opts.Bypass,
	}
}

// Fetch GETs rawURL, resolves every redirect mechanism the sites use
// (HTTP redirects, meta refresh, canonical/og:url rewrites, the
// "?do=watch" link hop), and returns the settled page.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	current := rawURL
	visited := map[string]bool{}

	for hop := 0; hop <= maxClientRedirects; hop++ {
		visited[current] = true

		page, err := f.fetchOnce(ctx, current)
		if err != nil {
			return nil, err
		}
		page.RequestedURL = rawURL

		if isChallengeBody(page.Body) {
			if f.bypass == nil {
				return nil, fmt.Errorf("%w at %s", ErrChallenge, page.FinalURL)
			}
			rendered, settledURL, cookies, err := f.bypass.Render(ctx, page.FinalURL)
			if err != nil {
				return nil, fmt.Errorf("challenge bypass failed: %w", err)
			}
			if settledURL != "" {
				// The browser may have been redirected while solving;
				// relative stream URLs must resolve against where it
				// landed.
				page.FinalURL = settledURL
			}
			if u, err := url.Parse(page.FinalURL); err == nil {
				f.jar.SetCookies(u, cookies)
			}
			page.Body = rendered
		}

		target, ok := clientRedirectTarget(page.FinalURL, page.Body)
		if !ok || visited[target] {
			return page, nil
		}
		current = target
	}

	return nil, fmt.Errorf("too many client-side redirects starting from %s", rawURL)
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	return &Page{
		FinalURL: resp.Request.URL.String(),
		Body:     body,
		Header:   resp.Header,
	}, nil
}

// clientRedirectTarget inspects a 200 body for the client-side redirect
// mechanisms the sites use instead of HTTP redirects. Precedence follows
// observed reliability: meta refresh, then canonical/og:url rewrites, then
// the explicit watch-page link.
func clientRedirectTarget(pageURL string, body []byte) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return "", false
	}

	if content, ok := findMetaRefresh(doc); ok {
		if target := resolveRef(base, content); target != "" && target != pageURL {
			return target, true
		}
	}

	for _, sel := range []struct{ query, attr string }{
		{`link[rel="canonical"]`, "href"},
		{`meta[property="og:url"]`, "content"},
	} {
		if val, ok := doc.Find(sel.query).First().Attr(sel.attr); ok {
			if target := resolveRef(base, val); target != "" && target != pageURL {
				return target, true
			}
		}
	}

	if href, ok := findWatchLink(doc); ok {
		if target := resolveRef(base, href); target != "" && target != pageURL {
			return target, true
		}
	}

	return "", false
}

func findMetaRefresh(doc *goquery.Document) (string, bool) {
	var target string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		if i := strings.Index(strings.ToLower(content), "url="); i >= 0 {
			target = strings.Trim(strings.TrimSpace(content[i+4:]), `'"`)
			return false
		}
		return true
	})
	return target, target != ""
}

func findWatchLink(doc *goquery.Document) (string, bool) {
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		val, _ := s.Attr("href")
		if strings.Contains(val, "do=watch") {
			href = val
			return false
		}
		return true
	})
	return href, href != ""
}

func resolveRef(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
