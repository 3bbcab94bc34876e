// Package model defines shared types for the proxy.
package model

import (
	"io"
)

// Target is a validated upstream URL. It only exists for input that passed
// scheme and address checks.
type Target struct {
	Scheme string // "http" or "https"
	Host   string // hostname without port, case preserved
	URL    string // decoded URL as fetched upstream
}

// ResponseHeader holds the only upstream headers forwarded to the caller.
type ResponseHeader struct {
	ContentType   string
	ContentLength int64 // -1 when upstream did not declare a length
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     ResponseHeader
	Body       io.ReadCloser
}
