package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer credential for API requests. The credential
// is opaque to this package; an empty string means no credential is available.
type TokenSource func() string

// Client fetches alert records from the AccessWatch REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     zerolog.Logger
}

// NewClient creates an alerts API client. baseURL is the server root
// (e.g. "https://watch.example.com") without a trailing slash.
func NewClient(baseURL string, token TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// ListOptions are the query parameters accepted by the alert-listing endpoint.
type ListOptions struct {
	// Acknowledged filters alerts by acknowledgement state.
	Acknowledged bool

	// Hours restricts results to alerts created within the last N hours.
	// Zero means no window.
	Hours int

	// Limit caps the page size. Zero means server default.
	Limit int
}

// List fetches alerts matching the given options, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Alert, error) {
	query := url.Values{}
	query.Set("acknowledged", strconv.FormatBool(opts.Acknowledged))
	if opts.Hours > 0 {
		query.Set("hours", strconv.Itoa(opts.Hours))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	listURL := fmt.Sprintf("%s/api/v1/alerts?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create alerts request")
	}

	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "alerts request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Success - parse response below
	case http.StatusUnauthorized:
		var apiErr APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.ErrorMessage != "" {
			return nil, errors.Errorf("authentication error (HTTP 401): %s", apiErr.Error())
		}
		return nil, errors.New("authentication error (HTTP 401): credential invalid or expired")
	case http.StatusTooManyRequests:
		return nil, errors.New("rate limit exceeded (HTTP 429): too many requests")
	case http.StatusBadRequest:
		var apiErr APIError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.ErrorMessage != "" {
			return nil, errors.Errorf("bad request (HTTP 400): %s", apiErr.Error())
		}
		return nil, errors.New("bad request (HTTP 400): invalid query parameters")
	default:
		return nil, errors.Errorf("unexpected HTTP status %d", resp.StatusCode)
	}

	var listResp ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, errors.Wrap(err, "failed to parse alerts response")
	}

	c.logger.Debug().
		Int("alertCount", len(listResp.Alerts)).
		Bool("acknowledged", opts.Acknowledged).
		Int("hours", opts.Hours).
		Int("limit", opts.Limit).
		Msg("fetched alerts")

	return listResp.Alerts, nil
}
