// Package eventregistry implements the EventRegistry article API as a
// scanner strategy.
package eventregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"sha256news/internal/domain"
	"sha256news/internal/scanner"
)

const defaultEndpoint = "https://eventregistry.org/api/v1/article/getArticles"

// Client fetches mining news batches from the EventRegistry getArticles API.
type Client struct {
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
}

var _ scanner.Scanner = (*Client)(nil)

// NewClient wires an HTTP client with a retry policy for transient upstream
// failures (network errors, 5xx, 429).
func NewClient(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(200*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			if resp == nil {
				return true
			}
			return resp.StatusCode >= http.StatusInternalServerError ||
				resp.StatusCode == http.StatusTooManyRequests
		}).
		Build()

	return &Client{
		httpClient: client,
		executor:   failsafe.With(retry),
	}
}

// Name identifies the strategy inside the registry.
func (c *Client) Name() string {
	return "eventregistry"
}

type getArticlesRequest struct {
	Action        string `json:"action"`
	Keyword       string `json:"keyword"`
	ArticlesCount int    `json:"articlesCount"`
	ForceMaxDays  int    `json:"forceMaxDataTimeWindow"`
	ResultType    string `json:"resultType"`
	APIKey        string `json:"apiKey"`
}

type getArticlesResponse struct {
	Articles struct {
		Results []struct {
			URI      string `json:"uri"`
			Title    string `json:"title"`
			Body     string `json:"body"`
			URL      string `json:"url"`
			DateTime string `json:"dateTime"`
			Source   struct {
				Title string `json:"title"`
			} `json:"source"`
		} `json:"results"`
	} `json:"articles"`
}

// Scan requests one batch of articles matching the configured keyword.
func (c *Client) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsItem, error) {
	endpoint := req.Options["endpoint"]
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	apiKey := req.Options["apiKey"]
	if apiKey == "" {
		return nil, fmt.Errorf("source %s: apiKey option is required", req.SourceName)
	}
	keyword := req.Options["keyword"]
	if keyword == "" {
		keyword = "bitcoin mining"
	}

	payload := getArticlesRequest{
		Action:        "getArticles",
		Keyword:       keyword,
		ArticlesCount: req.MaxItems,
		ForceMaxDays:  req.DaysBack,
		ResultType:    "articles",
		APIKey:        apiKey,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("eventregistry error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var decoded getArticlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]domain.NewsItem, 0, len(decoded.Articles.Results))
	for _, result := range decoded.Articles.Results {
		item := domain.NewsItem{
			ExternalID: result.URI,
			Title:      result.Title,
			Body:       result.Body,
			SourceURL:  result.URL,
			Source:     result.Source.Title,
		}
		if parsed, err := time.Parse("2006-01-02T15:04:05Z", result.DateTime); err == nil {
			item.PublishedAt = parsed
		}
		if item.ExternalID == "" {
			item.ExternalID = result.URL
		}
		items = append(items, item)
	}

	if max := req.MaxItems; max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}
