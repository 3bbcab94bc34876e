// Package resolver turns share-page links into direct media URLs.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"media-proxy-go/internal/config"
)

// ErrNoMediaURL is returned when a page has no recognizable video URL.
var ErrNoMediaURL = errors.New("no media url found in page")

var (
	shareIDPattern  = regexp.MustCompile(`/s/([a-zA-Z0-9]+)`)
	mediaURLPattern = regexp.MustCompile(`https?://[^"']+\.mp4`)
)

// Fetcher issues GET requests. *client.UpstreamClient satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
}

// ShareID returns the identifier from the first /s/<id> path segment of link.
func ShareID(link string) (string, bool) {
	m := shareIDPattern.FindStringSubmatch(link)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractMediaURL scans an HTML page for a video URL. It prefers the src of
// the first <video> that has one, then the first <video><source src>, then
// any absolute .mp4 URL in the raw markup.
func ExtractMediaURL(page io.Reader) (string, error) {
	raw, err := io.ReadAll(page)
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	for _, selector := range []string{"video[src]", "video source[src]"} {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src, _ := s.Attr("src")
			found = strings.TrimSpace(src)
			return found == ""
		})
		if found != "" {
			return found, nil
		}
	}

	if m := mediaURLPattern.Find(raw); m != nil {
		return string(m), nil
	}
	return "", ErrNoMediaURL
}

// ProxyURL builds the proxy link for target. A base that does not already
// end in "?url=" is treated as the proxy's origin and gets "/proxy?url=".
func ProxyURL(base, target string) string {
	if !strings.HasSuffix(base, "?url=") {
		base = strings.TrimRight(base, "/") + "/proxy?url="
	}
	return base + url.QueryEscape(target)
}

// Resolver fetches share pages and extracts their media URL.
type Resolver struct {
	fetcher      Fetcher
	proxyBase    string
	maxPageBytes int64
	logger       *slog.Logger
}

// New creates a Resolver. When resolver.proxy_base is set, pages are fetched
// through that proxy.
func New(cfg *config.Config, f Fetcher, logger *slog.Logger) *Resolver {
	return &Resolver{
		fetcher:      f,
		proxyBase:    cfg.Resolver.ProxyBase,
		maxPageBytes: cfg.Resolver.MaxPageBytes,
		logger:       logger.With("component", "resolver"),
	}
}

// Resolve fetches the page behind link and returns the direct media URL.
func (r *Resolver) Resolve(ctx context.Context, link string) (string, error) {
	pageURL := link
	if r.proxyBase != "" {
		pageURL = ProxyURL(r.proxyBase, link)
	}

	if id, ok := ShareID(link); ok {
		r.logger.Debug("resolving share link", "share_id", id)
	}

	resp, err := r.fetcher.Get(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if r.maxPageBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxPageBytes)
	}

	media, err := ExtractMediaURL(body)
	if err != nil {
		return "", err
	}
	r.logger.Info("media url found", "media_host", hostOf(media))
	return media, nil
}

// ProxiedURL returns the proxy link for a direct media URL, or "" when no
// proxy base is configured.
func (r *Resolver) ProxiedURL(direct string) string {
	if r.proxyBase == "" {
		return ""
	}
	return ProxyURL(r.proxyBase, direct)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
