// Package service implements target validation and the streaming relay.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"media-proxy-go/internal/model"
	"media-proxy-go/internal/netguard"
)

var (
	// ErrMissingURL is returned when the request carries no target URL.
	ErrMissingURL = errors.New("missing url parameter")
	// ErrBadScheme is returned for targets that are not plain http or https.
	ErrBadScheme = errors.New("only http/https URLs are allowed")
	// ErrPrivateAddress is returned when the target, a redirect, or a dialed
	// address is in private or loopback space.
	ErrPrivateAddress = netguard.ErrPrivateAddress
	// ErrTooLarge is returned when upstream declares or streams more than the ceiling.
	ErrTooLarge = errors.New("file too large to proxy")
)

// AddressClassifier reports whether a hostname points into private address space.
type AddressClassifier interface {
	IsPrivate(ctx context.Context, hostname string) bool
}

// Reason returns the bounded label for a validation or relay error, for
// logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingURL):
		return "missing_url"
	case errors.Is(err, ErrBadScheme):
		return "bad_scheme"
	case errors.Is(err, ErrPrivateAddress):
		return "private_address"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	default:
		return "upstream_unreachable"
	}
}

// Validator turns the raw url parameter into a Target.
type Validator struct {
	classifier AddressClassifier
	logger     *slog.Logger
}

// NewValidator creates a Validator.
func NewValidator(classifier AddressClassifier, logger *slog.Logger) *Validator {
	return &Validator{
		classifier: classifier,
		logger:     logger.With("component", "url_validator"),
	}
}

// Validate decodes raw and decides whether it may be fetched.
//
// raw is query-unescaped once more ("+" becomes a space) and used unmodified
// if that fails. An empty hostname is not checked against the classifier;
// such URLs fail later at fetch time.
func (v *Validator) Validate(ctx context.Context, raw string) (*model.Target, error) {
	if raw == "" {
		return nil, ErrMissingURL
	}

	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		decoded = raw
	}

	u, err := url.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadScheme, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrBadScheme
	}

	host := u.Hostname()
	if v.classifier.IsPrivate(ctx, host) {
		v.logger.Warn("blocked request to private address",
			"host", host,
			"url", decoded,
		)
		return nil, ErrPrivateAddress
	}

	return &model.Target{
		Scheme: u.Scheme,
		Host:   host,
		URL:    decoded,
	}, nil
}
