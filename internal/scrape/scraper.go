// Package scrape enriches leads with the plaintext content of their
// websites: a static HTTP fetch first, a headless browser render when the
// static fetch comes back blocked or script-only.
package scrape

import "context"

// Result is the extracted content of one page.
type Result struct {
	Content    string
	Title      string
	StatusCode int
	Source     string // "static" or "render"
}

// Scraper fetches a single URL and returns its plaintext content.
type Scraper interface {
	Scrape(ctx context.Context, url string) (*Result, error)
	Name() string
}
