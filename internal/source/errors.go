package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeKo-Tech/slippymap/internal/tile"
)

// Error kinds. A *FetchError unwraps to exactly one of them.
var (
	ErrNetwork  = errors.New("network error")
	ErrDecode   = errors.New("decode error")
	ErrNotFound = errors.New("tile not found")

	// ErrClosed is delivered to requests made after Close.
	ErrClosed = errors.New("loader closed")

	errEmptyTile = errors.New("empty tile data")
)

// FetchError describes a failed tile operation.
type FetchError struct {
	Kind error // ErrNetwork, ErrDecode or ErrNotFound
	Addr tile.Address
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Addr, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Addr, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newFetchError(kind error, addr tile.Address, err error) *FetchError {
	return &FetchError{Kind: kind, Addr: addr, Err: err}
}

// NetworkError wraps err as a retryable failure for addr.
func NetworkError(addr tile.Address, err error) error {
	return newFetchError(ErrNetwork, addr, err)
}

// NotFoundError reports that no source has a tile for addr.
func NotFoundError(addr tile.Address, err error) error {
	return newFetchError(ErrNotFound, addr, err)
}

// DecodeError wraps an image decoding failure for addr.
func DecodeError(addr tile.Address, err error) error {
	return newFetchError(ErrDecode, addr, err)
}

// IsTransient reports whether err is worth retrying. Deadline expiry counts
// as a network failure; cancellation by the caller does not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDecode) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// classify turns an arbitrary fetcher error into a *FetchError. Unknown
// errors are treated as network failures.
func classify(addr tile.Address, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return newFetchError(ErrNotFound, addr, err)
	case errors.Is(err, ErrDecode):
		return newFetchError(ErrDecode, addr, err)
	default:
		return newFetchError(ErrNetwork, addr, err)
	}
}
