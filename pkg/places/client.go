// Package places is a client for the Google Places API (New) Text Search
// endpoint, the pipeline's lead discovery source.
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/resilience"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

// MaxPageSize is the largest page the Text Search endpoint will return.
const MaxPageSize = 20

// fieldMask lists the place fields the pipeline consumes. Requesting more
// raises the per-request billing tier.
const fieldMask = "places.id,places.displayName,places.nationalPhoneNumber," +
	"places.websiteUri,places.rating,places.userRatingCount,places.addressComponents," +
	"nextPageToken"

// APIError is a non-200 response from the Places API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("places: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client performs Places API operations.
type Client interface {
	// TextSearch runs one page of a text query. Pass the previous
	// response's NextPageToken to fetch the following page.
	TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
}

// TextSearchRequest is one page request of a text query.
type TextSearchRequest struct {
	Query     string
	PageSize  int
	PageToken string
}

// TextSearchResponse is one page of results. An empty NextPageToken means
// the query is exhausted.
type TextSearchResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken"`
}

// Place is a business returned by the API. ID is the globally unique place
// ID used for deduplication.
type Place struct {
	ID                  string             `json:"id"`
	DisplayName         DisplayName        `json:"displayName"`
	NationalPhoneNumber string             `json:"nationalPhoneNumber"`
	WebsiteURI          string             `json:"websiteUri"`
	Rating              float64            `json:"rating"`
	UserRatingCount     int                `json:"userRatingCount"`
	AddressComponents   []AddressComponent `json:"addressComponents"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text string `json:"text"`
}

// AddressComponent is one structured piece of the place's address.
type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText"`
	Types     []string `json:"types"`
}

// City returns the locality component, if present.
func (p *Place) City() string {
	return p.component("locality")
}

// State returns the administrative area, abbreviated when available.
func (p *Place) State() string {
	for _, c := range p.AddressComponents {
		for _, t := range c.Types {
			if t == "administrative_area_level_1" {
				if c.ShortText != "" {
					return c.ShortText
				}
				return c.LongText
			}
		}
	}
	return ""
}

func (p *Place) component(typ string) string {
	for _, c := range p.AddressComponents {
		for _, t := range c.Types {
			if t == typ {
				return c.LongText
			}
		}
	}
	return ""
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type textSearchRequest struct {
	TextQuery string `json:"textQuery"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

func (c *httpClient) TextSearch(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error) {
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	body, err := json.Marshal(textSearchRequest{
		TextQuery: req.Query,
		PageSize:  pageSize,
		PageToken: req.PageToken,
	})
	if err != nil {
		return nil, eris.Wrap(err, "places: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "places: create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Goog-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Goog-FieldMask", fieldMask)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var result TextSearchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "places: unmarshal response")
	}

	return &result, nil
}
