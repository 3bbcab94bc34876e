// Package client provides the outbound HTTP client used to fetch proxied media.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/netguard"
)

// UpstreamClient fetches remote resources on behalf of proxy callers.
type UpstreamClient struct {
	httpClient   *http.Client
	guard        *netguard.Classifier
	userAgent    string
	readTimeout  time.Duration
	maxRedirects int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The connect, TLS handshake and response header phases are each bounded by
// upstream.timeout_seconds; the body has no overall deadline, only a stall
// timeout of the same length per read.
//
// The metrics parameter is optional; pass nil to disable upstream metrics
// recording. The guard is optional too: with nil, redirects are not
// re-validated and dialed addresses are not checked.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, guard *netguard.Classifier) *UpstreamClient {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	if guard != nil {
		dialer.Control = guard.DialControl
	}

	transport := &http.Transport{
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
		// Relay bytes as the origin sent them so Content-Length stays truthful.
		DisableCompression: true,
	}

	c := &UpstreamClient{
		guard:        guard,
		userAgent:    cfg.Upstream.UserAgent,
		readTimeout:  timeout,
		maxRedirects: cfg.Upstream.MaxRedirects,
		logger:       logger.With("component", "upstream_client"),
		metrics:      m,
	}
	c.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// Get issues a GET for rawURL and returns once response headers have arrived.
// The caller is responsible for closing the response body, which also
// releases the upstream connection.
//
// The provided context controls the lifetime of the upstream request: when
// it is canceled (e.g. the caller disconnects), the upstream request is
// canceled as well.
func (c *UpstreamClient) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("upstream request", "host", req.URL.Host)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller
	duration := time.Since(start).Seconds()

	if err != nil {
		cancel()
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues("error").Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues("ok").Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	}

	resp.Body = newStallGuard(resp.Body, c.readTimeout, cancel)
	return resp, nil
}

// checkRedirect re-validates every redirect hop against the address guard.
func (c *UpstreamClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		return fmt.Errorf("stopped after %d redirects", c.maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to unsupported scheme %q", req.URL.Scheme)
	}

	host := req.URL.Hostname()
	if c.guard != nil && c.guard.IsPrivate(req.Context(), host) {
		c.logger.Warn("blocked redirect to private address",
			"host", host,
			"url", req.URL.Redacted(),
		)
		return fmt.Errorf("redirect to %s: %w", host, netguard.ErrPrivateAddress)
	}

	c.logger.Debug("following redirect", "host", host, "hops", len(via))
	return nil
}

// stallGuard cancels the upstream request when a single body read blocks
// longer than timeout. Time spent outside Read, such as writing to a slow
// caller, is not counted.
type stallGuard struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelFunc
	stalled atomic.Bool
}

func newStallGuard(body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) io.ReadCloser {
	g := &stallGuard{body: body, timeout: timeout, cancel: cancel}
	if timeout <= 0 {
		return g
	}
	g.timer = time.AfterFunc(timeout, func() {
		g.stalled.Store(true)
		cancel()
	})
	g.timer.Stop()
	return g
}

func (g *stallGuard) Read(p []byte) (int, error) {
	if g.timer == nil {
		return g.body.Read(p)
	}
	g.timer.Reset(g.timeout)
	n, err := g.body.Read(p)
	g.timer.Stop()
	if err != nil && g.stalled.Load() {
		return n, fmt.Errorf("upstream read stalled for %s: %w", g.timeout, err)
	}
	return n, err
}

func (g *stallGuard) Close() error {
	if g.timer != nil {
		g.timer.Stop()
	}
	err := g.body.Close()
	g.cancel()
	return err
}
