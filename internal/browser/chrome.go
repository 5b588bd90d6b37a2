package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChromeDriver implements Driver on top of chromedp. The Launcher decides
// where Chrome actually runs (local process or container); the driver only
// speaks CDP.
type ChromeDriver struct {
	launcher  Launcher
	headless  bool
	userAgent string
	logger    *zap.Logger
}

func NewChromeDriver(launcher Launcher, headless bool, userAgent string, logger *zap.Logger) *ChromeDriver {
	return &ChromeDriver{
		launcher:  launcher,
		headless:  headless,
		userAgent: userAgent,
		logger:    logger.Named("browser"),
	}
}

// Open provisions a runtime and attaches a fresh browser context to it. The
// given ctx bounds startup only; the session itself lives until Close.
func (d *ChromeDriver) Open(ctx context.Context) (Session, error) {
	id := uuid.NewString()

	rt, err := d.launcher.Launch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("launch runtime: %w", err)
	}

	// The session must outlive the Open ctx, so the chromedp context
	// chain hangs off Background and is cancelled explicitly in Close.
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if rt.ConnectURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), rt.ConnectURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", d.headless),
			chromedp.NoSandbox,
			chromedp.DisableGPU,
			chromedp.NoFirstRun,
			chromedp.NoDefaultBrowserCheck,
			chromedp.UserDataDir(rt.UserDataDir),
			chromedp.UserAgent(d.userAgent),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)

	sess := &chromeSession{
		id:      id,
		ctx:     taskCtx,
		runtime: rt,
		logger:  d.logger.With(zap.String("sessionId", id)),
		cancel: func() {
			cancelTask()
			cancelAlloc()
		},
	}

	// Start the browser now so a broken runtime surfaces here, not on
	// first navigation.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(taskCtx) }()
	select {
	case err := <-started:
		if err != nil {
			sess.Close()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-ctx.Done():
		sess.Close()
		return nil, fmt.Errorf("start browser: %w", ctx.Err())
	}

	sess.logger.Debug("session opened")
	return sess, nil
}

type chromeSession struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	runtime   *Runtime
	logger    *zap.Logger
	closeOnce sync.Once
}

func (s *chromeSession) ID() string { return s.id }

func (s *chromeSession) Navigate(ctx context.Context, url string) (*PageState, error) {
	var ps PageState
	err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&ps.URL),
		chromedp.Title(&ps.Title),
		chromedp.OuterHTML("html", &ps.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return &ps, nil
}

func (s *chromeSession) Evaluate(ctx context.Context, expr string, out any) error {
	if err := s.run(ctx, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (s *chromeSession) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = cs
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

func (s *chromeSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.runtime.Stop(stopCtx); err != nil {
			s.logger.Warn("runtime stop failed", zap.Error(err))
		}
		s.logger.Debug("session closed")
	})
}

// run executes chromedp actions against the session while honoring the
// caller's deadline. The chromedp context chain is rooted in Background, so
// the caller ctx is bridged in with AfterFunc.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
