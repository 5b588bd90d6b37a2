package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Runtime is one provisioned automation runtime: either a locally launched
// Chrome (ConnectURL empty) or a remote CDP endpoint.
type Runtime struct {
	// ConnectURL is the CDP websocket endpoint for remote runtimes.
	// Empty means the driver launches Chrome itself.
	ConnectURL string

	// UserDataDir is a throwaway profile directory, removed on Stop so
	// no state leaks between sessions.
	UserDataDir string

	stop func(ctx context.Context) error
}

// Stop tears the runtime down. Idempotent by construction: launchers install
// a stop func that tolerates repeated calls.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	return r.stop(ctx)
}

// Launcher provisions one automation runtime per session.
type Launcher interface {
	Launch(ctx context.Context, sessionID string) (*Runtime, error)
}

// ExecLauncher provisions local headless Chrome runtimes. It only prepares
// the profile directory; the driver performs the actual process launch
// through chromedp's exec allocator.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher { return &ExecLauncher{} }

func (l *ExecLauncher) Launch(_ context.Context, sessionID string) (*Runtime, error) {
	dir := filepath.Join(os.TempDir(), "chrome-profile-"+sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &Runtime{
		UserDataDir: dir,
		stop: func(context.Context) error {
			return os.RemoveAll(dir)
		},
	}, nil
}
