package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChallengeBypasser renders a URL in a real browser context and returns
// the settled DOM, the URL the browser ended up on (challenges often
// redirect once solved), and any cookies the challenge handed out.
type ChallengeBypasser interface {
	Render(ctx context.Context, rawURL string) (html []byte, finalURL string, cookies []*http.Cookie, err error)
}

// challengeMarkers are substrings that identify bot-verification
// interstitials rather than real content.
var challengeMarkers = []string{
	"just a moment",
	"cf_chl_",
	"cf-challenge",
	"challenge-platform",
	"checking your browser",
	"verify you are human",
	"captcha",
}

func isChallengeBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// BrowserBypass drives headless Chrome through chromedp. If wsURL is set it
// attaches to a remote DevTools endpoint; otherwise it launches a local
// browser per call.
type BrowserBypass struct {
	// WSURL is a remote DevTools websocket endpoint. Empty launches locally.
	WSURL string

	// UserAgent applied to the browser session.
	UserAgent string

	// Timeout for the whole render. Challenges routinely take 10-15s.
	Timeout time.Duration
}

func (b *BrowserBypass) Render(ctx context.Context, rawURL string) ([]byte, string, []*http.Cookie, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if b.WSURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, b.WSURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", "new"),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		if b.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(b.UserAgent))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	}
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var html, location string
	var cdpCookies []*network.Cookie
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Give the interstitial time to solve itself and redirect.
		chromedp.Sleep(6*time.Second),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cdpCookies, err = network.GetCookies().Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, "", nil, fmt.Errorf("browser render of %s: %w", rawURL, err)
	}

	if isChallengeBody([]byte(html)) {
		return nil, "", nil, fmt.Errorf("challenge at %s not solved within %s", rawURL, timeout)
	}

	cookies := make([]*http.Cookie, 0, len(cdpCookies))
	for _, c := range cdpCookies {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}
	return []byte(html), location, cookies, nil
}
