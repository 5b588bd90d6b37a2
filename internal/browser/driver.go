// Package browser owns the headless-browser side of the token pipeline. It
// exposes the Session Driver as a small capability interface so the rest of
// the pipeline can run against an in-memory fake without launching Chrome.
package browser

import (
	"context"

	"github.com/chromedp/cdproto/network"
)

// PageState is a snapshot of a loaded page, taken after navigation settles.
// Challenge classification works on this snapshot alone.
type PageState struct {
	URL   string
	Title string
	HTML  string
}

// Session is one exclusively-owned browser context. A session belongs to
// exactly one pipeline run and is closed when that run ends, regardless of
// outcome.
type Session interface {
	// ID returns the session's unique identifier.
	ID() string

	// Navigate loads url and returns the settled page state.
	Navigate(ctx context.Context, url string) (*PageState, error)

	// Evaluate runs a JavaScript expression in the page. When out is
	// non-nil the JSON result is unmarshaled into it.
	Evaluate(ctx context.Context, expr string, out any) error

	// Cookies returns all cookies visible to the browser context.
	Cookies(ctx context.Context) ([]*network.Cookie, error)

	// Close releases the session and its runtime slot. Idempotent, safe
	// to call after any prior failure, and never reports an error.
	Close()
}

// Driver opens sessions. One open session consumes one runtime slot until
// its Close.
type Driver interface {
	Open(ctx context.Context) (Session, error)
}
