package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"media-proxy-go/internal/client"
	"media-proxy-go/internal/config"
	"media-proxy-go/internal/metrics"
	"media-proxy-go/internal/model"
)

const (
	defaultChunkSize        = 16 * 1024
	defaultMaxContentLength = 1024 * 1024 * 1024
)

// ProxyService validates targets and relays upstream bodies to callers.
type ProxyService struct {
	validator        *Validator
	client           *client.UpstreamClient
	maxContentLength int64
	chunkSize        int
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(v *Validator, c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	s := &ProxyService{
		validator:        v,
		client:           c,
		maxContentLength: cfg.Relay.MaxContentLength,
		chunkSize:        cfg.Relay.ChunkSize,
		logger:           logger.With("component", "proxy_service"),
		metrics:          m,
	}
	if s.maxContentLength <= 0 {
		s.maxContentLength = defaultMaxContentLength
	}
	if s.chunkSize <= 0 {
		s.chunkSize = defaultChunkSize
	}
	return s
}

// Validate checks the raw url parameter. See Validator.Validate.
func (s *ProxyService) Validate(ctx context.Context, raw string) (*model.Target, error) {
	target, err := s.validator.Validate(ctx, raw)
	if err != nil {
		s.reject(err)
		return nil, err
	}
	return target, nil
}

// Forward opens the upstream response for target and applies the size
// ceiling to its declared length. No body bytes have been read when it
// returns. The caller is responsible for closing the response body.
func (s *ProxyService) Forward(ctx context.Context, target *model.Target) (*model.ProxyResponse, error) {
	s.logger.Debug("forwarding request", "host", target.Host)

	resp, err := s.client.Get(ctx, target.URL)
	if err != nil {
		s.reject(err)
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	header := filterResponseHeaders(resp.Header)
	if header.ContentLength > s.maxContentLength {
		_ = resp.Body.Close()
		s.logger.Info("declared length exceeds ceiling",
			"host", target.Host,
			"content_length", header.ContentLength,
			"max_content_length", s.maxContentLength,
		)
		s.reject(ErrTooLarge)
		return nil, ErrTooLarge
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("upstream returned non-success status; relaying body",
			"host", target.Host,
			"status", resp.StatusCode,
		)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       resp.Body,
	}, nil
}

// Stream copies the response body to dst one chunk at a time, reusing a
// single buffer, and returns the number of bytes written. When upstream did
// not declare a length, the stream is cut with ErrTooLarge once it passes
// the ceiling.
//
// Stream does not close the body.
func (s *ProxyService) Stream(dst io.Writer, resp *model.ProxyResponse) (int64, error) {
	var src io.Reader = resp.Body
	if resp.Header.ContentLength < 0 {
		src = &ceilingReader{r: resp.Body, remaining: s.maxContentLength}
	}

	// The wrappers hide ReaderFrom/WriterTo so the copy always goes through buf.
	buf := make([]byte, s.chunkSize)
	n, err := io.CopyBuffer(writerOnly{dst}, readerOnly{src}, buf)

	if s.metrics != nil {
		s.metrics.BytesRelayed.Add(float64(n))
	}
	if errors.Is(err, ErrTooLarge) {
		if s.metrics != nil {
			s.metrics.StreamsTruncated.Inc()
		}
		s.logger.Warn("undeclared-length stream cut at ceiling",
			"bytes", n,
			"max_content_length", s.maxContentLength,
		)
	}
	return n, err
}

func (s *ProxyService) reject(err error) {
	if s.metrics != nil {
		s.metrics.Rejections.WithLabelValues(Reason(err)).Inc()
	}
}

// filterResponseHeaders keeps Content-Type and a well-formed Content-Length.
func filterResponseHeaders(src http.Header) model.ResponseHeader {
	h := model.ResponseHeader{
		ContentType:   src.Get("Content-Type"),
		ContentLength: -1,
	}
	if v := strings.TrimSpace(src.Get("Content-Length")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			h.ContentLength = n
		}
	}
	return h
}

// ceilingReader passes through at most remaining bytes and fails with
// ErrTooLarge if the source has more.
type ceilingReader struct {
	r         io.Reader
	remaining int64
}

func (c *ceilingReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		var extra [1]byte
		n, err := c.r.Read(extra[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

type readerOnly struct{ io.Reader }

type writerOnly struct{ io.Writer }
