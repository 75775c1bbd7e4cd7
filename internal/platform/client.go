package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// pageSize is the number of records requested per page.
const pageSize = 100

// Client is a creator platform API client.
type Client struct {
	// baseURL is the base URL for API requests.
	baseURL string

	// httpClient is the HTTP client for making requests.
	httpClient *http.Client

	// limiter throttles outbound requests.
	limiter *rate.Limiter
}

// Authenticate reports whether token is currently valid for the creator with the given handle.
// A rejected token is not an error.
func (c *Client) Authenticate(ctx context.Context, handle string, token string) (bool, error) {
	resp, err := c.get(ctx, c.creatorURL(handle, "me", nil), token)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, unexpectedStatus(resp)
	}

	var me authResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return false, fmt.Errorf("decoding response: %w", err)
	}

	return me.Handle == "" || me.Handle == handle, nil
}

// CreatorStats fetches aggregate statistics for a creator. Returns nil if the platform has none.
func (c *Client) CreatorStats(ctx context.Context, handle string, token string) (*Stats, error) {
	resp, err := c.get(ctx, c.creatorURL(handle, "stats", nil), token)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus(resp)
	}

	var stats Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &stats, nil
}

// Subscribers fetches the creator's full current subscriber list.
func (c *Client) Subscribers(ctx context.Context, handle string, token string) ([]Subscriber, error) {
	var all []Subscriber
	var cursor string

	for {
		var page subscribersResponse
		if err := c.fetchPage(ctx, c.creatorURL(handle, "subscribers", pageParams(cursor)), token, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return all, nil
}

// TransactionHistory fetches every transaction created at or after since.
func (c *Client) TransactionHistory(
	ctx context.Context,
	handle string,
	token string,
	since time.Time,
) ([]Transaction, error) {
	var all []Transaction
	var cursor string

	for {
		params := pageParams(cursor)
		params.Set("since", since.UTC().Format(time.RFC3339))

		var page transactionsResponse
		if err := c.fetchPage(ctx, c.creatorURL(handle, "transactions", params), token, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return all, nil
}

// creatorURL builds the URL of a creator-scoped resource.
func (c *Client) creatorURL(handle string, resource string, params url.Values) string {
	reqURL := fmt.Sprintf("%s/creators/%s/%s", c.baseURL, url.PathEscape(handle), resource)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	return reqURL
}

// fetchPage performs a GET expecting 200 and decodes the body into out.
func (c *Client) fetchPage(ctx context.Context, reqURL string, token string, out any) error {
	resp, err := c.get(ctx, reqURL, token)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// get performs an authenticated GET once the rate limiter allows it.
func (c *Client) get(ctx context.Context, reqURL string, token string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}

	return resp, nil
}

// NewClient creates a new creator platform API client.
func NewClient(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.timeout}
	}

	return &Client{
		baseURL:    o.baseURL,
		httpClient: httpClient,
		limiter:    o.limiter(),
	}, nil
}

// StatusError is returned when the platform responds with an unexpected status code.
type StatusError struct {
	// Body is the response body, for diagnostics.
	Body string

	// StatusCode is the HTTP status code.
	StatusCode int
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsUnauthorized reports whether err is a platform rejection of the access token.
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
}

func pageParams(cursor string) url.Values {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params
}

func unexpectedStatus(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &StatusError{Body: string(body), StatusCode: resp.StatusCode}
}
