package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"ticketbot/internal/config"
	"ticketbot/internal/domain"
	"ticketbot/internal/httpx"
	"ticketbot/internal/metrics"
)

var (
	DefaultIncludeDomains = []string{"docs.atlan.com", "developer.atlan.com", "atlan.com", "support.atlan.com"}
	DefaultExcludeDomains = []string{"stackoverflow.com", "github.com", "reddit.com", "medium.com", "quora.com"}
	PrimaryDomains        = []string{"docs.atlan.com", "developer.atlan.com"}
)

// minInDomainSources is how many official sources a primary search needs
// before it is trusted without a fallback.
const minInDomainSources = 2

type searchRequest struct {
	APIKey            string   `json:"api_key"`
	Query             string   `json:"query"`
	SearchDepth       string   `json:"search_depth"`
	IncludeAnswer     bool     `json:"include_answer"`
	IncludeRawContent bool     `json:"include_raw_content"`
	MaxResults        int      `json:"max_results"`
	IncludeDomains    []string `json:"include_domains"`
	ExcludeDomains    []string `json:"exclude_domains"`
	AnswerStyle       string   `json:"answer_style,omitempty"`
	AnswerLength      string   `json:"answer_length,omitempty"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Client searches the official documentation through the Tavily API.
type Client struct {
	httpClient     *http.Client
	apiKey         string
	baseURL        string
	maxResults     int
	includeDomains []string
	excludeDomains []string
	limiter        *httpx.Limiter
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithDomains(include, exclude []string) Option {
	return func(c *Client) {
		if len(include) > 0 {
			c.includeDomains = include
		}
		if len(exclude) > 0 {
			c.excludeDomains = exclude
		}
	}
}

func WithMaxResults(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

func WithLimiter(l *httpx.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient:     httpx.ExternalClient(),
		apiKey:         apiKey,
		baseURL:        config.DefaultSearchURL,
		maxResults:     8,
		includeDomains: DefaultIncludeDomains,
		excludeDomains: DefaultExcludeDomains,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func NewFromConfig(cfg config.Config, limiter *httpx.Limiter) *Client {
	return New(cfg.SearchAPIKey,
		WithBaseURL(cfg.SearchAPIURL),
		WithMaxResults(cfg.SearchMaxResults),
		WithDomains(cfg.SearchIncludeDomains, cfg.SearchExcludeDomains),
		WithLimiter(limiter),
	)
}

// Search runs a domain-restricted search. When fewer than two results come
// from official domains it retries once with a narrower query; when that
// also finds nothing official it answers with pointers to the documentation
// roots. Only a failed primary request produces Success=false.
func (c *Client) Search(ctx context.Context, query string, topic domain.Topic) domain.SearchResult {
	if c.apiKey == "" {
		metrics.RecordSearch("primary", "error")
		return domain.SearchResult{Query: query, Error: "search API key is not configured"}
	}

	primary, err := c.post(ctx, searchRequest{
		Query:             query,
		SearchDepth:       "advanced",
		IncludeAnswer:     true,
		IncludeRawContent: false,
		MaxResults:        c.maxResults,
		IncludeDomains:    c.includeDomains,
		ExcludeDomains:    c.excludeDomains,
		AnswerStyle:       "detailed",
		AnswerLength:      "long",
	})
	if err != nil {
		log.Printf("search primary topic=%s error: %v", topic, err)
		metrics.RecordSearch("primary", "error")
		return domain.SearchResult{Query: query, Error: fmt.Sprintf("search API error: %v", err)}
	}

	result := c.toResult(primary, query, topic)
	inDomain := c.countInDomain(result.Sources)
	log.Printf("search primary topic=%s results=%d in_domain=%d", topic, len(result.Sources), inDomain)
	if inDomain >= minInDomainSources {
		metrics.RecordSearch("primary", "ok")
		return result
	}
	metrics.RecordSearch("primary", "low_relevance")

	fallbackQuery := domain.ClipQuery(fmt.Sprintf("Atlan %s: %s", topic, query))
	fallback, err := c.post(ctx, searchRequest{
		Query:          fallbackQuery,
		SearchDepth:    "basic",
		IncludeAnswer:  true,
		MaxResults:     c.maxResults,
		IncludeDomains: PrimaryDomains,
		ExcludeDomains: c.excludeDomains,
		AnswerStyle:    "detailed",
		AnswerLength:   "medium",
	})
	if err != nil {
		log.Printf("search fallback topic=%s error: %v", topic, err)
		metrics.RecordSearch("fallback", "error")
		return notFound(query)
	}

	fbResult := c.toResult(fallback, fallbackQuery, topic)
	fbInDomain := c.countInDomain(fbResult.Sources)
	log.Printf("search fallback topic=%s results=%d in_domain=%d", topic, len(fbResult.Sources), fbInDomain)
	if fbInDomain == 0 {
		metrics.RecordSearch("fallback", "not_found")
		return notFound(query)
	}
	metrics.RecordSearch("fallback", "ok")
	fbResult.UsedFallback = true
	return fbResult
}

func (c *Client) post(ctx context.Context, req searchRequest) (searchResponse, error) {
	req.APIKey = c.apiKey
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return searchResponse{}, fmt.Errorf("marshaling request: %w", err)
	}

	respBody, err := httpx.Do(ctx, c.httpClient, httpx.NoRetry(), c.limiter, func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
	if err != nil {
		return searchResponse{}, err
	}

	var resp searchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return searchResponse{}, fmt.Errorf("parsing search response: %w", err)
	}
	return resp, nil
}

func (c *Client) toResult(resp searchResponse, query string, topic domain.Topic) domain.SearchResult {
	result := domain.SearchResult{Success: true, Query: query}
	for _, r := range resp.Results {
		if r.URL == "" {
			continue
		}
		result.Sources = append(result.Sources, r.URL)
		result.Results = append(result.Results, domain.SearchHit{Title: r.Title, Content: r.Content, URL: r.URL})
	}
	result.Answer = strings.TrimSpace(resp.Answer)
	if result.Answer == "" {
		result.Answer = composeAnswer(query, result.Results, topic)
	}
	return result
}

func (c *Client) countInDomain(sources []string) int {
	n := 0
	for _, s := range sources {
		if InDomain(s, c.includeDomains) {
			n++
		}
	}
	return n
}

// InDomain reports whether rawURL's host is one of domains or a subdomain of one.
func InDomain(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// composeAnswer stitches the top results together when the API returns no answer.
func composeAnswer(query string, hits []domain.SearchHit, topic domain.Topic) string {
	var parts []string
	for i, h := range hits {
		if i == 3 {
			break
		}
		if content := strings.TrimSpace(h.Content); content != "" {
			parts = append(parts, content)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("I found some information about '%s' but couldn't generate a specific answer. Please refer to the sources below for more details.", query)
	}
	answer := strings.Join(parts, "\n\n")
	if topic == domain.TopicAPISDK {
		return answer + "\n\nFor more detailed API documentation and examples, please refer to the Atlan Developer Hub."
	}
	return answer + "\n\nFor more detailed information, please refer to the Atlan Documentation."
}

func notFound(query string) domain.SearchResult {
	return domain.SearchResult{
		Success: true,
		Answer: fmt.Sprintf("I couldn't find specific information about '%s' in the official Atlan documentation. Please check %s or %s, or contact support for more specific assistance.",
			query, domain.DocsKnowledgeBase, domain.DeveloperKnowledgeBase),
		Sources:  []string{domain.DocsKnowledgeBase, domain.DeveloperKnowledgeBase},
		Query:    query,
		NotFound: true,
	}
}
