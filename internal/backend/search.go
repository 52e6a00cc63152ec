package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

const (
	searchResultCount = 5
	topPageMaxChars   = 4000
)

// SearchOptions selects and configures the web search provider.
type SearchOptions struct {
	// Provider is "brave" or "google".
	Provider string
	APIKey   string
	BaseURL  string
	// GoogleCX is the Programmable Search Engine ID, required for google.
	GoogleCX string
	// FetchTopResult extracts the top hit's page as a markdown snippet.
	FetchTopResult bool
	Timeout        time.Duration
}

// SearchClient performs web searches against Brave Search or Google Custom
// Search, optionally enriching the result with a readable extract of the
// top hit.
type SearchClient struct {
	logger     *slog.Logger
	opts       SearchOptions
	httpClient *http.Client
}

func NewSearchClient(log *slog.Logger, opts SearchOptions) (*SearchClient, error) {
	if log == nil {
		log = slog.Default()
	}
	switch opts.Provider {
	case "brave":
		if opts.BaseURL == "" {
			opts.BaseURL = "https://api.search.brave.com/res/v1/web/search"
		}
	case "google":
		if opts.BaseURL == "" {
			opts.BaseURL = "https://customsearch.googleapis.com/customsearch/v1"
		}
		if opts.GoogleCX == "" {
			return nil, fmt.Errorf("google search requires cx (search engine id)")
		}
	default:
		return nil, fmt.Errorf("unknown search provider %q", opts.Provider)
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("search api_key is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &SearchClient{
		logger:     log.With(slog.String("service", "search_backend"), slog.String("provider", opts.Provider)),
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (c *SearchClient) ID() string { return IDSearch }

// Execute searches for req.Content.
func (c *SearchClient) Execute(ctx context.Context, req Request) (Result, error) {
	query := strings.TrimSpace(req.Content)
	if query == "" {
		return Result{}, Errorf(IDSearch, "empty query")
	}

	var (
		hits []SearchHit
		err  error
	)
	switch c.opts.Provider {
	case "brave":
		hits, err = c.searchBrave(ctx, query)
	case "google":
		hits, err = c.searchGoogle(ctx, query)
	}
	if err != nil {
		return Result{}, err
	}

	results := &SearchResults{
		Query:       query,
		Results:     hits,
		RetrievedAt: time.Now().UTC(),
	}
	if c.opts.FetchTopResult && len(hits) > 0 {
		page, fetchErr := c.fetchReadable(ctx, hits[0].URL)
		if fetchErr != nil {
			// The hit list alone is still a useful answer.
			c.logger.Warn("top result fetch failed",
				slog.String("url", hits[0].URL),
				slog.Any("error", fetchErr))
		} else {
			results.TopPage = page
		}
	}
	return Result{Kind: KindSearch, Search: results}, nil
}

func (c *SearchClient) searchBrave(ctx context.Context, query string) ([]SearchHit, error) {
	reqURL, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	params := reqURL.Query()
	params.Set("q", query)
	params.Set("count", fmt.Sprintf("%d", searchResultCount))
	reqURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", c.opts.APIKey)

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, Errorf(IDSearch, "invalid response: %v", err)
	}
	hits := make([]SearchHit, 0, len(raw.Web.Results))
	for _, item := range raw.Web.Results {
		hits = append(hits, SearchHit{
			Title:       item.Title,
			URL:         item.URL,
			Description: item.Description,
		})
	}
	return hits, nil
}

func (c *SearchClient) searchGoogle(ctx context.Context, query string) ([]SearchHit, error) {
	reqURL, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	params := reqURL.Query()
	params.Set("q", query)
	params.Set("cx", c.opts.GoogleCX)
	params.Set("num", fmt.Sprintf("%d", searchResultCount))
	params.Set("key", c.opts.APIKey)
	reqURL.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, Errorf(IDSearch, "invalid response: %v", err)
	}
	hits := make([]SearchHit, 0, len(raw.Items))
	for _, item := range raw.Items {
		hits = append(hits, SearchHit{
			Title:       item.Title,
			URL:         item.Link,
			Description: item.Snippet,
		})
	}
	return hits, nil
}

func (c *SearchClient) do(httpReq *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Errorf(IDSearch, "request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Errorf(IDSearch, "read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Errorf(IDSearch, "status %d: %s", resp.StatusCode, truncateBody(body))
	}
	return body, nil
}

// fetchReadable downloads pageURL, runs readability extraction, and converts
// the article body to a bounded markdown snippet.
func (c *SearchClient) fetchReadable(ctx context.Context, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("page status %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}
	markdown, err := htmltomarkdown.ConvertString(article.Content)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	if len(markdown) > topPageMaxChars {
		markdown = markdown[:topPageMaxChars] + "\n\n[truncated]"
	}
	return markdown, nil
}
