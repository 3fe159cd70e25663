// Package websearch queries a Tavily-compatible search API for
// mathematical content on curated educational domains. It is the
// fallback source when the knowledge base has no close match.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultBaseURL is the hosted Tavily endpoint.
const DefaultBaseURL = "https://api.tavily.com"

const (
	// maxSnippetLength truncates a single result's content in the
	// aggregated context blob.
	maxSnippetLength = 800

	// defaultMaxResults is requested when the config leaves it unset.
	defaultMaxResults = 3

	// maxErrorBody bounds how much of an error response is echoed
	// into the returned error.
	maxErrorBody = 512
)

// Config configures the search client.
type Config struct {
	// APIKey authenticates against the search API. Required.
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// AllowedDomains restricts results to these host suffixes.
	// Empty means no filtering.
	AllowedDomains []string

	// MaxResults caps how many results are requested.
	MaxResults int

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Result is the aggregated outcome of one search.
type Result struct {
	// Success reports whether at least one allowed result came back.
	Success bool

	// Content is the aggregated snippet text, ready to paste into a
	// generation prompt.
	Content string

	// Sources lists the result URLs, each prefixed with "[Web]".
	Sources []string

	// TotalSources counts results before domain filtering.
	TotalSources int
}

// Client calls the search API. Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	allowed    []string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a search client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("search API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	allowed := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		allowed = append(allowed, strings.ToLower(strings.TrimSpace(d)))
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		allowed:    allowed,
		maxResults: maxResults,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth"`
	MaxResults     int      `json:"max_results"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Search runs one search for a mathematical question. A transport or
// API failure returns an error; an empty result set returns
// Result{Success: false} with a nil error.
func (c *Client) Search(ctx context.Context, question string) (Result, error) {
	if strings.TrimSpace(question) == "" {
		return Result{}, fmt.Errorf("question is required")
	}

	reqBody := searchRequest{
		APIKey:         c.apiKey,
		Query:          EnhanceQuery(question),
		SearchDepth:    "basic",
		MaxResults:     c.maxResults,
		IncludeDomains: c.allowed,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("search API error (status %d): %s",
			resp.StatusCode, truncate(string(respBody), maxErrorBody))
	}

	var parsed searchResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Result{}, fmt.Errorf("unmarshaling search response: %w", err)
	}

	return c.aggregate(parsed.Results), nil
}

// aggregate filters results to allowed domains and flattens them into
// one context blob.
func (c *Client) aggregate(results []searchResult) Result {
	var (
		blob    strings.Builder
		sources []string
	)
	for _, r := range results {
		if !c.domainAllowed(r.URL) {
			c.logger.Debug("dropping search result from disallowed domain", "url", r.URL)
			continue
		}
		snippet := cleanSnippet(r.Content)
		if snippet == "" {
			continue
		}
		if blob.Len() > 0 {
			blob.WriteString("\n\n")
		}
		if r.Title != "" {
			fmt.Fprintf(&blob, "### %s\n", r.Title)
		}
		blob.WriteString(truncate(snippet, maxSnippetLength))
		sources = append(sources, "[Web] "+r.URL)
	}

	return Result{
		Success:      len(sources) > 0,
		Content:      blob.String(),
		Sources:      sources,
		TotalSources: len(results),
	}
}

// domainAllowed reports whether the result URL's host matches the
// allow-list. An empty allow-list allows everything.
func (c *Client) domainAllowed(raw string) bool {
	if len(c.allowed) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range c.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// mathQueryRe detects queries that already carry mathematical framing.
var mathQueryRe = regexp.MustCompile(`(?i)\b(math|mathematics|algebra|calculus|geometry|equation|theorem)\b`)

// EnhanceQuery biases ambiguous questions toward mathematical results
// by prefixing a domain hint.
func EnhanceQuery(question string) string {
	q := strings.TrimSpace(question)
	if mathQueryRe.MatchString(q) {
		return q
	}
	return "mathematics: " + q
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// cleanSnippet collapses whitespace runs so multi-line search snippets
// read as one paragraph.
func cleanSnippet(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// truncate cuts s at n bytes, backing up to a rune boundary so the
// result stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
