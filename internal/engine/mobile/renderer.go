package mobile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrRendererDisabled indicates headless rendering has been disabled via
// configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// Emulated viewport, a current mid-size phone.
const (
	deviceWidth  = 390
	deviceHeight = 844
	deviceScale  = 3.0
)

// Renderer produces the DOM of a page as a mobile browser would see it.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// RendererConfig controls the chromedp renderer.
type RendererConfig struct {
	UserAgent      string
	Timeout        time.Duration
	MaxConcurrency int
}

// ChromedpRenderer renders pages in headless Chrome with mobile device
// emulation. One browser process is shared; each Render opens a tab.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	userAgent       string
}

// NewChromedpRenderer starts the shared browser. MaxConcurrency of zero
// disables rendering.
func NewChromedpRenderer(cfg RendererConfig, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrRendererDisabled
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		timeout:         cfg.Timeout,
		userAgent:       cfg.UserAgent,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close() error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render executes the page with JavaScript enabled under mobile emulation
// and returns the DOM snapshot.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (string, error) {
	if r == nil {
		return "", ErrRendererDisabled
	}

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, r.timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var html string
	tasks := chromedp.Tasks{
		emulation.SetUserAgentOverride(r.userAgent),
		emulation.SetDeviceMetricsOverride(deviceWidth, deviceHeight, deviceScale, true),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
