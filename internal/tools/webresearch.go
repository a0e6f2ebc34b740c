package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

const (
	webResearchName  = "web_research"
	maxSearchResults = 10

	defaultSearchBaseURL = "https://api.duckduckgo.com"
	defaultSearchTimeout = 15 * time.Second
	maxSearchBody        = 1 << 20
)

// SearchResult is one web search hit. Fields missing from the provider
// response stay empty rather than failing the call.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Searcher finds web documents for a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// DuckDuckGoConfig tunes the search client. Zero values select the public
// endpoint with a 15s timeout.
type DuckDuckGoConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DuckDuckGoSearcher implements Searcher over the DuckDuckGo instant-answer
// API. No API key is required.
type DuckDuckGoSearcher struct {
	client  *http.Client
	baseURL string
}

var _ Searcher = (*DuckDuckGoSearcher)(nil)

// NewDuckDuckGoSearcher builds a searcher from the config.
func NewDuckDuckGoSearcher(cfg DuckDuckGoConfig) *DuckDuckGoSearcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSearchTimeout
	}
	return &DuckDuckGoSearcher{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Search runs the query and flattens the instant-answer response into at
// most maxResults hits.
func (s *DuckDuckGoSearcher) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if maxResults <= 0 || maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("no_redirect", "1")
	q.Set("kl", "jp-jp")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/?"+q.Encode(), nil)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "web search: failed to build request").WithCause(err)
	}
	req.Header.Set("User-Agent", "deepresearch/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "web search request failed").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeStepFailed, "web search returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchBody)).Decode(&payload); err != nil {
		return nil, schema.NewError(schema.ErrCodeStepFailed, "web search response is not JSON").WithCause(err)
	}
	return payload.results(maxResults), nil
}

type searchResponse struct {
	Heading       string        `json:"Heading"`
	AbstractText  string        `json:"AbstractText"`
	AbstractURL   string        `json:"AbstractURL"`
	RelatedTopics []searchTopic `json:"RelatedTopics"`
}

type searchTopic struct {
	Text     string        `json:"Text"`
	FirstURL string        `json:"FirstURL"`
	Topics   []searchTopic `json:"Topics"`
}

// results flattens the abstract plus the (possibly nested) related topics.
func (r searchResponse) results(limit int) []SearchResult {
	out := make([]SearchResult, 0, limit)
	if r.AbstractText != "" {
		out = append(out, SearchResult{Title: r.Heading, Snippet: r.AbstractText, URL: r.AbstractURL})
	}
	var walk func(topics []searchTopic)
	walk = func(topics []searchTopic) {
		for _, topic := range topics {
			if len(out) >= limit {
				return
			}
			if len(topic.Topics) > 0 {
				walk(topic.Topics)
				continue
			}
			if topic.Text == "" && topic.FirstURL == "" {
				continue
			}
			out = append(out, SearchResult{Title: topicTitle(topic.Text), Snippet: topic.Text, URL: topic.FirstURL})
		}
	}
	walk(r.RelatedTopics)
	return out
}

// topicTitle extracts the leading title from "Title - snippet" topic text.
func topicTitle(text string) string {
	if title, _, found := strings.Cut(text, " - "); found {
		return title
	}
	return text
}

// WebResearch is the web_research tool: it runs the query through the
// searcher and returns the hits as a JSON list for the model to digest.
type WebResearch struct {
	searcher Searcher
}

var _ Tool = (*WebResearch)(nil)

// NewWebResearch wires the tool to a searcher.
func NewWebResearch(searcher Searcher) *WebResearch {
	return &WebResearch{searcher: searcher}
}

func (w *WebResearch) Definition() Definition {
	return Definition{
		Name: webResearchName,
		Description: "DuckDuckGo検索を行うツールです。指定されたクエリでウェブ検索を行い、" +
			"各結果についてタイトル（title）、概要（snippet）、URL（url）を含むリストを返します。",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "検索クエリ（必須）",
				},
				"section": map[string]any{
					"type":        "string",
					"description": "この検索が関連するレポートのセクション（オプション）",
				},
				"iteration": map[string]any{
					"type":        "integer",
					"description": "現在の検索反復回数（オプション）",
				},
			},
			"required": []string{"query"},
		},
	}
}

func (w *WebResearch) Call(ctx context.Context, input map[string]any) (string, error) {
	query := stringInput(input, "query")
	if strings.TrimSpace(query) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "web_research requires a non-empty query")
	}

	results, err := w.searcher.Search(ctx, query, maxSearchResults)
	if err != nil {
		return "", err
	}
	if results == nil {
		results = []SearchResult{}
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeInternal, "web_research results are not JSON-representable").WithCause(err)
	}
	return string(raw), nil
}
