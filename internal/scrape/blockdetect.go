package scrape

import (
	"fmt"
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
)

// BlockedError is returned by the static scraper when the page is behind
// anti-bot protection or is a script-only shell. The chain treats it as the
// signal to try headless rendering.
type BlockedError struct {
	Type BlockType
	URL  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("scrape: blocked (%s): %s", e.Type, e.URL)
}

// DetectBlock checks an HTTP response for signs of anti-bot protection or a
// JavaScript-only shell that a static fetch cannot read.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	// Cloudflare: 403/503 with cf-* headers.
	if resp.StatusCode == 403 || resp.StatusCode == 503 {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return true, BlockCloudflare
		}
		if resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	// Cloudflare challenge page markers.
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	// Captcha markers.
	if strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") {
		return true, BlockCaptcha
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
