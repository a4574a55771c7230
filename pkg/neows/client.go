// Package neows talks to the NASA Near Earth Object Web Service feed endpoint.
package neows

import (
	"context"
	"errors"
	"strings"

	"github.com/samvad-hq/neows-harvester/pkg/httpclient"
)

// DefaultBaseURL is the public NeoWs feed route.
const DefaultBaseURL = "https://api.nasa.gov/neo/rest/v1/feed"

// Config carries the process-wide settings of a FeedClient.
type Config struct {
	BaseURL string
	APIKey  string
	// Headers are sent with every feed request (e.g. User-Agent).
	Headers map[string]string
}

// FeedClient builds feed URLs and issues one GET per call.
// It is immutable after construction and safe for concurrent use.
type FeedClient struct {
	baseURL string
	apiKey  string
	headers map[string]string
	client  httpclient.Client
}

// NewFeedClient validates cfg and binds it to client.
func NewFeedClient(cfg Config, client httpclient.Client) (*FeedClient, error) {
	if client == nil {
		return nil, errors.New("neows: http client must not be nil")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("neows: base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("neows: api key is required")
	}

	var headers map[string]string
	if len(cfg.Headers) > 0 {
		headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = v
		}
	}

	return &FeedClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		headers: headers,
		client:  client,
	}, nil
}

// FeedURL returns the request URL for the given dates.
func (c *FeedClient) FeedURL(startDate, endDate string) string {
	return BuildFeedURL(c.baseURL, c.apiKey, startDate, endDate)
}

// FetchFeed issues a single GET against the feed endpoint and returns the
// response untouched. Dates are forwarded verbatim and errors from the
// underlying client are returned as-is.
func (c *FeedClient) FetchFeed(ctx context.Context, startDate, endDate string) (httpclient.Response, error) {
	return c.client.Get(ctx, c.FeedURL(startDate, endDate), c.headers)
}

// Fetch is FetchFeed for a DateRange.
func (c *FeedClient) Fetch(ctx context.Context, rng DateRange) (httpclient.Response, error) {
	return c.FetchFeed(ctx, rng.StartDate, rng.EndDate)
}

// BuildFeedURL concatenates baseURL with start_date, end_date and api_key, in
// that order. Values are not escaped.
func BuildFeedURL(baseURL, apiKey, startDate, endDate string) string {
	var b strings.Builder
	b.Grow(len(baseURL) + len(startDate) + len(endDate) + len(apiKey) + 31)
	b.WriteString(baseURL)
	b.WriteString("?start_date=")
	b.WriteString(startDate)
	b.WriteString("&end_date=")
	b.WriteString(endDate)
	b.WriteString("&api_key=")
	b.WriteString(apiKey)
	return b.String()
}
