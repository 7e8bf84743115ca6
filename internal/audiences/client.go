package audiences

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trafficai/internal/retry"
)

// ErrInsufficientCredits is returned when the upstream account has run out of
// lookup credits.
var ErrInsufficientCredits = errors.New("insufficient audience credits")

// Person is one enriched identity row from the upstream marketing-data API.
type Person struct {
	Email    string  `json:"email"`
	FullName *string `json:"full_name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Title    *string `json:"title,omitempty"`
	Location *string `json:"location,omitempty"`
}

// SearchQuery is the filter set forwarded to the upstream search endpoint.
type SearchQuery struct {
	Company  string `json:"company,omitempty"`
	Title    string `json:"title,omitempty"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// SearchResult is a page of people plus the total match count.
type SearchResult struct {
	People []Person `json:"people"`
	Total  int      `json:"total"`
}

// Credits reports the upstream account's remaining lookup budget.
type Credits struct {
	Remaining int `json:"remaining"`
	Total     int `json:"total"`
}

// Client talks to the upstream marketing-data API. Transient upstream
// failures are retried with backoff; 4xx responses are returned immediately.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.RetryConfig
	logger  zerolog.Logger
}

// NewClient creates an audiences API client.
func NewClient(baseURL, apiKey string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.UpstreamRetryConfig(),
		logger:  logger.With().Str("component", "audiences").Logger(),
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	var body []byte
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = data
	}

	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("upstream request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPaymentRequired:
			return ErrInsufficientCredits
		case resp.StatusCode >= 500:
			return fmt.Errorf("upstream error (status %d)", resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			data, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("upstream rejected request (status %d): %s", resp.StatusCode, string(data))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode upstream response: %w", err)
			}
		}
		return nil
	}

	// Permanent failures (4xx, exhausted credits) stop the retry loop by
	// reporting success and are surfaced afterwards.
	var permanentErr error
	result := retry.RetryWithBackoff(ctx, c.retry, func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInsufficientCredits) || (!retry.IsRetryableError(err) && !isServerError(err)) {
			permanentErr = err
			return nil
		}
		return err
	}, c.logger)

	if permanentErr != nil {
		return permanentErr
	}
	if !result.Success {
		return result.LastError
	}
	return nil
}

func isServerError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "upstream error")
}

// Search forwards a people-search query upstream.
func (c *Client) Search(ctx context.Context, query SearchQuery) (*SearchResult, error) {
	var result SearchResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/people/search", query, &result); err != nil {
		return nil, err
	}
	if result.People == nil {
		result.People = make([]Person, 0)
	}
	return &result, nil
}

// Enrich resolves a single email to an identity. Returns (nil, nil) when the
// upstream has no record for it.
func (c *Client) Enrich(ctx context.Context, email string) (*Person, error) {
	var resp struct {
		Person *Person `json:"person"`
	}
	payload := map[string]string{"email": email}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/people/enrich", payload, &resp); err != nil {
		return nil, err
	}
	return resp.Person, nil
}

// Segment is a saved audience filter maintained upstream.
type Segment struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Filter    SearchQuery `json:"filter"`
	Size      int         `json:"size"`
	CreatedAt time.Time   `json:"created_at"`
}

// ListSegments returns the account's saved segments.
func (c *Client) ListSegments(ctx context.Context) ([]Segment, error) {
	var resp struct {
		Segments []Segment `json:"segments"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/segments", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Segments == nil {
		resp.Segments = make([]Segment, 0)
	}
	return resp.Segments, nil
}

// GetSegment fetches a single segment by id.
func (c *Client) GetSegment(ctx context.Context, segmentID string) (*Segment, error) {
	var segment Segment
	if err := c.doJSON(ctx, http.MethodGet, "/v1/segments/"+segmentID, nil, &segment); err != nil {
		return nil, err
	}
	return &segment, nil
}

// CreateSegment saves a named audience filter upstream.
func (c *Client) CreateSegment(ctx context.Context, name string, filter SearchQuery) (*Segment, error) {
	payload := map[string]interface{}{
		"name":   name,
		"filter": filter,
	}
	var segment Segment
	if err := c.doJSON(ctx, http.MethodPost, "/v1/segments", payload, &segment); err != nil {
		return nil, err
	}
	return &segment, nil
}

// DeleteSegment removes a saved segment upstream.
func (c *Client) DeleteSegment(ctx context.Context, segmentID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/segments/"+segmentID, nil, nil)
}

// Credits fetches the remaining lookup budget for the account.
func (c *Client) Credits(ctx context.Context) (*Credits, error) {
	var credits Credits
	if err := c.doJSON(ctx, http.MethodGet, "/v1/credits", nil, &credits); err != nil {
		return nil, err
	}
	return &credits, nil
}
