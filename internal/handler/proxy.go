package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"media-proxy-go/internal/service"
)

// ProxyHandler serves GET and HEAD /proxy?url=<target>. HEAD answers with
// the upstream headers and skips the body.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle validates the target, opens it upstream and streams the body back.
// The response status is always 200 once upstream has answered.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	target, err := h.service.Validate(req.Context(), c.QueryParam("url"))
	if err != nil {
		return h.mapError(c, err)
	}

	resp, err := h.service.Forward(req.Context(), target)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	if resp.Header.ContentType != "" {
		header.Set(echo.HeaderContentType, resp.Header.ContentType)
	} else {
		// A nil value keeps net/http from sniffing a type out of the first chunk.
		header[echo.HeaderContentType] = nil
	}
	if resp.Header.ContentLength >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(resp.Header.ContentLength, 10))
	}

	c.Response().WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return nil
	}

	// The status line is already out, so a failure here can only cut the
	// stream short. Aborting drops the connection instead of ending a
	// chunked body cleanly, so the caller does not mistake it for a
	// complete file.
	n, err := h.service.Stream(flushWriter{c.Response()}, resp)
	if err != nil {
		h.logger.Warn("stream interrupted",
			"err", err,
			"host", target.Host,
			"bytes", n,
			"reason", service.Reason(err),
		)
		panic(http.ErrAbortHandler)
	}

	h.logger.Debug("stream complete", "host", target.Host, "bytes", n)
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingURL):
		return c.String(http.StatusBadRequest, "Missing url parameter")
	case errors.Is(err, service.ErrBadScheme):
		return c.String(http.StatusBadRequest, "Only http/https URLs are allowed")
	case errors.Is(err, service.ErrPrivateAddress):
		return c.String(http.StatusForbidden, "Blocked access to private/internal addresses")
	case errors.Is(err, service.ErrTooLarge):
		return c.String(http.StatusRequestEntityTooLarge, "File too large to proxy")
	}

	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	detail := err.Error()
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		detail = urlErr.Error()
	}
	return c.String(http.StatusBadGateway, "Error fetching url: "+detail)
}

// flushWriter pushes every chunk to the client as soon as it is written.
type flushWriter struct {
	res *echo.Response
}

func (w flushWriter) Write(p []byte) (int, error) {
	n, err := w.res.Write(p)
	if err != nil {
		return n, err
	}
	w.res.Flush()
	return n, nil
}
