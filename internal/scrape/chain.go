package scrape

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/metrics"
)

// Chain is the standard scraping policy: the static scraper first, the
// headless renderer only for pages the static pass reports as blocked or
// script-only. Renders are an order of magnitude more expensive, so they
// are never the first attempt.
type Chain struct {
	static   Scraper
	renderer Scraper // nil when rendering is disabled
}

// NewChain creates a Chain. renderer may be nil.
func NewChain(static, renderer Scraper) *Chain {
	return &Chain{static: static, renderer: renderer}
}

func (c *Chain) Name() string { return "chain" }

// Scrape runs the static-then-render policy for one URL.
func (c *Chain) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	result, err := c.static.Scrape(ctx, targetURL)
	if err == nil {
		return result, nil
	}

	var blocked *BlockedError
	if !errors.As(err, &blocked) || c.renderer == nil {
		return nil, err
	}

	zap.L().Debug("static fetch blocked, rendering",
		zap.String("url", targetURL),
		zap.String("block_type", string(blocked.Type)),
	)
	metrics.RenderFallbacks.Inc()

	return c.renderer.Scrape(ctx, targetURL)
}
