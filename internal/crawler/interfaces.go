package crawler

import (
	"context"
	"errors"

	"github.com/JakeFAU/housedata-crawler/internal/document"
)

// ErrUnsupported is returned by operations a fetch strategy cannot perform,
// such as POST through a browser session.
var ErrUnsupported = errors.New("operation not supported by this fetcher")

// ErrEmptyContent marks an attempt that completed but produced no content.
// The retry loop moves to the next attempt without backing off.
var ErrEmptyContent = errors.New("empty content")

// ErrRetriesExhausted reports that every attempt of a retry policy failed.
// Fetchers record it in their trace and hand the caller an absent result.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Fetcher retrieves remote pages. Implementations own their session and
// must be closed by the caller; they are not safe for concurrent use.
type Fetcher interface {
	// Fetch returns the parsed page, or nil once every attempt has failed.
	Fetch(ctx context.Context, rawURL string) *document.Document
	// Post sends a JSON POST. It returns (nil, nil) after exhausting retries
	// and ErrUnsupported when the strategy cannot issue POST requests.
	Post(ctx context.Context, req PostRequest) (*Response, error)
	// Close releases the session. Safe to call more than once.
	Close() error
}
