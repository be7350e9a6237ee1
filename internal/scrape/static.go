package scrape

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/resilience"
)

const defaultMaxPageBytes = 512 * 1024

// StaticScraper fetches HTML via net/http and converts it to plaintext.
// No browser, no API calls; it handles the large majority of small-business
// sites. Blocked or script-only pages surface as *BlockedError.
type StaticScraper struct {
	client   *http.Client
	maxBytes int64
}

// StaticOption configures a StaticScraper.
type StaticOption func(*StaticScraper)

// WithStaticHTTPClient overrides the default http.Client.
func WithStaticHTTPClient(hc *http.Client) StaticOption {
	return func(s *StaticScraper) { s.client = hc }
}

// WithMaxPageBytes caps how much of a page body is read.
func WithMaxPageBytes(n int64) StaticOption {
	return func(s *StaticScraper) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// NewStaticScraper creates a StaticScraper with sensible defaults.
func NewStaticScraper(opts ...StaticOption) *StaticScraper {
	s := &StaticScraper{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxBytes: defaultMaxPageBytes,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *StaticScraper) Name() string { return "static" }

// Scrape fetches a URL, detects blocks, and strips HTML to plaintext.
func (s *StaticScraper) Scrape(ctx context.Context, targetURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "static: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; LeadflowBot/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "static: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return nil, eris.Wrap(err, "static: read body")
	}

	if blocked, blockType := DetectBlock(resp, body); blocked {
		return nil, &BlockedError{Type: blockType, URL: targetURL}
	}

	if resp.StatusCode >= 400 {
		err := eris.Errorf("static: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	if len(body) < 100 {
		return nil, eris.New("static: empty page")
	}

	return &Result{
		Content:    StripHTML(string(body)),
		Title:      extractTitle(body),
		StatusCode: resp.StatusCode,
		Source:     "static",
	}, nil
}

var titleRe = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)

// extractTitle pulls the <title> from HTML.
func extractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// StripHTML removes scripts/styles/nav/footer, strips tags, decodes
// entities, and collapses whitespace. The result is plaintext suitable for
// the scoring model.
func StripHTML(html string) string {
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}

	tagRe := regexp.MustCompile(`<[^>]+>`)
	html = tagRe.ReplaceAllString(html, " ")

	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	html = r.Replace(html)

	spaceRe := regexp.MustCompile(`[ \t]+`)
	html = spaceRe.ReplaceAllString(html, " ")

	nlRe := regexp.MustCompile(`\n{3,}`)
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
