package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned for files the loader cannot read.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyContent is returned when a source yields no extractable text.
	ErrEmptyContent = errors.New("empty content")
	// ErrEmptyInput is returned when an operation receives nothing to work on.
	ErrEmptyInput = errors.New("empty input")
	// ErrDimensionMismatch is returned when vectors of different sizes meet in one collection.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrAuthentication is returned when a credential is missing or rejected.
	ErrAuthentication = errors.New("authentication error")
	// ErrRateLimited is returned when an upstream API throttles the caller.
	ErrRateLimited = errors.New("rate limited")
	// ErrNetwork covers transport failures, timeouts and upstream server errors.
	ErrNetwork = errors.New("network error")
	// ErrModelLoad is returned when a local model cannot be fetched or initialized.
	ErrModelLoad = errors.New("model load error")
	// ErrConfiguration is returned for invalid settings or calls made in the wrong state.
	ErrConfiguration = errors.New("configuration error")
	// ErrMalformedResponse is returned when an upstream answer cannot be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// FileError records why a single source could not be ingested.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *FileError) Unwrap() error { return e.Err }

// TransportError classifies a failed request. Context cancellation and
// deadlines are reported as network errors so callers see one failure kind
// for timeouts.
func TransportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrNetwork, op, ctxErr)
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, op, err)
}

// StatusError maps an HTTP status code from an upstream API to the error taxonomy.
func StatusError(op string, status int, body string) error {
	var kind error
	switch {
	case status == 401 || status == 403:
		kind = ErrAuthentication
	case status == 429:
		kind = ErrRateLimited
	default:
		kind = ErrNetwork
	}
	if body != "" {
		return fmt.Errorf("%w: %s failed with status %d: %s", kind, op, status, body)
	}
	return fmt.Errorf("%w: %s failed with status %d", kind, op, status)
}
