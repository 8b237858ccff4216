package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Manager owns the single CDP session every other component works
// through. The page is third-party and uncontrolled, so nothing here
// caches DOM state: callers re-query on every attempt.
type Manager struct {
	Ctx context.Context

	allocCancel context.CancelFunc
	cancel      context.CancelFunc
}

func NewManager(headless bool) (*Manager, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so a missing Chrome fails at startup
	// instead of mid-queue.
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome failed: %w", err)
	}

	return &Manager{
		Ctx:         ctx,
		allocCancel: allocCancel,
		cancel:      cancel,
	}, nil
}

// WithTimeout derives a bounded context from the session context.
func (m *Manager) WithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.Ctx, d)
}

func (m *Manager) Navigate(url string) error {
	if err := chromedp.Run(m.Ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL reads the page location. Called on an interval by the
// page watcher, so it must tolerate mid-navigation states.
func (m *Manager) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := chromedp.Run(ctx, chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

// Eval runs a JS expression in the page and unmarshals the result
// into out. Pass nil when the result doesn't matter. Promises are
// awaited, so expressions may be async.
func (m *Manager) Eval(ctx context.Context, expr string, out any) error {
	return chromedp.Run(ctx, chromedp.Evaluate(expr, out,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
}

func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
}
