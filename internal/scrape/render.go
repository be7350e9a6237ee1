package scrape

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
)

// RenderConfig controls the headless renderer.
type RenderConfig struct {
	// NavigationTimeout bounds a single page render. Default 25s.
	NavigationTimeout time.Duration

	// UserAgent overrides the browser's user agent when non-empty.
	UserAgent string
}

// Renderer fetches pages with headless Chrome via chromedp. It is the
// fallback for sites the static scraper reports as blocked or script-only.
type Renderer struct {
	cfg         RenderConfig
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRenderer creates a Renderer with a shared browser allocator. Close
// releases the browser.
func NewRenderer(cfg RenderConfig) *Renderer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 25 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Close releases the browser allocator.
func (r *Renderer) Close() {
	r.allocCancel()
}

func (r *Renderer) Name() string { return "render" }

// Scrape navigates with a headless browser, waits for the DOM, and strips
// the rendered HTML to plaintext.
func (r *Renderer) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.cfg.NavigationTimeout)
	defer cancel()

	// Stop early if the caller's context dies first.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	var html, title string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "render: %s", targetURL)
	}

	content := StripHTML(html)
	if len(content) == 0 {
		return nil, eris.Errorf("render: empty page: %s", targetURL)
	}

	return &Result{
		Content:    content,
		Title:      title,
		StatusCode: 200,
		Source:     "render",
	}, nil
}
