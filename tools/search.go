package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bloodtest/analyser-app/core"
	"github.com/gocolly/colly/v2"
)

const (
	SearchDuckDuckGo = "duckduckgo"
	SearchSerper     = "serper"
	SearchDisabled   = "disabled"

	defaultDuckDuckGoEndpoint = "https://html.duckduckgo.com/html/"
	defaultSerperEndpoint     = "https://google.serper.dev/search"
	defaultSearchTimeout      = 20 * time.Second
	defaultNumResults         = 5
	maxNumResults             = 10
	searchUserAgent           = "Mozilla/5.0 (compatible; blood-report-analyser/1.0)"
)

var errSearchDisabled = errors.New("web search is disabled")

// WebSearchInput represents the input parameters for the web_search tool.
type WebSearchInput struct {
	Query      string `json:"query" jsonschema_description:"The search query to look up on the web" jsonschema:"required"`
	NumResults int    `json:"num_results,omitempty" jsonschema_description:"The number of results to return, between 1 and 10 (default: 5)"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchBackend is a web search engine.
type SearchBackend interface {
	Search(ctx context.Context, query string, numResults int) ([]SearchResult, error)
}

type SearchOptions struct {
	Backend  string
	APIKey   string
	Timeout  time.Duration
	Endpoint string
	Client   *http.Client
}

// NewSearchBackend selects the backend named by opts.Backend. An empty name
// means duckduckgo.
func NewSearchBackend(opts SearchOptions) (SearchBackend, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	switch strings.ToLower(opts.Backend) {
	case "", SearchDuckDuckGo:
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = defaultDuckDuckGoEndpoint
		}
		return &DuckDuckGoSearch{Endpoint: endpoint, Timeout: timeout}, nil
	case SearchSerper:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("serper search needs an api key")
		}
		endpoint := opts.Endpoint
		if endpoint == "" {
			endpoint = defaultSerperEndpoint
		}
		client := opts.Client
		if client == nil {
			client = &http.Client{Timeout: timeout}
		}
		return &SerperSearch{Endpoint: endpoint, APIKey: opts.APIKey, Client: client}, nil
	case SearchDisabled:
		return disabledSearch{}, nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", opts.Backend)
	}
}

// WebSearch is the web_search tool handler.
type WebSearch struct {
	Backend SearchBackend
}

func (w WebSearch) Search(ctx context.Context, input WebSearchInput) ([]SearchResult, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, core.NewToolError(core.ToolInvalidInput, errors.New("query must be a non-empty string"))
	}
	n := input.NumResults
	switch {
	case n == 0:
		n = defaultNumResults
	case n < 1:
		n = 1
	case n > maxNumResults:
		n = maxNumResults
	}

	backend := w.Backend
	if backend == nil {
		backend = disabledSearch{}
	}
	results, err := backend.Search(ctx, query, n)
	if err != nil {
		return nil, core.NewToolError(core.ToolSearchUnavailable, err)
	}
	if len(results) > n {
		results = results[:n]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

type disabledSearch struct{}

func (disabledSearch) Search(context.Context, string, int) ([]SearchResult, error) {
	return nil, errSearchDisabled
}

// DuckDuckGoSearch scrapes the html endpoint of DuckDuckGo, which needs no key.
type DuckDuckGoSearch struct {
	Endpoint string
	Timeout  time.Duration
}

func (d *DuckDuckGoSearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	c := colly.NewCollector(
		colly.UserAgent(searchUserAgent),
		colly.MaxDepth(1),
		colly.StdlibContext(ctx),
	)
	if d.Timeout > 0 {
		c.SetRequestTimeout(d.Timeout)
	}

	var results []SearchResult
	c.OnHTML(".result", func(e *colly.HTMLElement) {
		if len(results) >= numResults || strings.Contains(e.Attr("class"), "result--ad") {
			return
		}
		title := strings.TrimSpace(e.ChildText(".result__a"))
		link := resolveDuckDuckGoLink(e.ChildAttr(".result__a", "href"))
		if title == "" || link == "" {
			return
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     link,
			Snippet: strings.TrimSpace(e.ChildText(".result__snippet")),
		})
	})

	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("duckduckgo returned status %d: %w", r.StatusCode, err)
	})

	if err := c.Visit(d.Endpoint + "?q=" + url.QueryEscape(query)); err != nil {
		if visitErr != nil {
			return nil, visitErr
		}
		return nil, err
	}
	if visitErr != nil {
		return nil, visitErr
	}
	return results, nil
}

// resolveDuckDuckGoLink unwraps the //duckduckgo.com/l/?uddg=<target> redirect links.
func resolveDuckDuckGoLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

// SerperSearch calls the Serper Google search API.
type SerperSearch struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

func (s *SerperSearch) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]any{"q": query, "num": numResults})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("serper returned status %d", resp.StatusCode)
	}

	var decoded serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding serper response: %w", err)
	}
	results := make([]SearchResult, 0, len(decoded.Organic))
	for _, item := range decoded.Organic {
		results = append(results, SearchResult{Title: item.Title, URL: item.Link, Snippet: item.Snippet})
	}
	return results, nil
}
