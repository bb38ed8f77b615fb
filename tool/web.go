package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/taskforge/engine/evidence"
	"github.com/taskforge/engine/internal/httpclient"
)

// ============================================================================
// WEB - the atomic web tool (search + fetch)
// ============================================================================

// WebSearchTool queries a search engine's HTML results page. It carries no
// API key requirement so the atomic tool set works out of the box; swap in
// a dedicated search API client by registering a different tool under the
// same name if one is available.
type WebSearchTool struct {
	client *httpclient.Client
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
	}
}

func (t *WebSearchTool) GetName() string        { return "web_search" }
func (t *WebSearchTool) GetDescription() string { return t.GetInfo().Description }

func (t *WebSearchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "web_search",
		Description: "Search the web and return a list of result links with short snippets",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
		},
		ServerURL: "local",
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	query, _ := args["query"].(string)
	if query == "" {
		return ToolResult{Success: false, Error: "query is required"}, nil
	}

	searchURL := "https://duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}
	req.Header.Set("User-Agent", "taskengine/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("search request failed: %v", err), ExecutionTime: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}

	results := extractResultLinks(string(body), 10)
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "%s\n%s\n\n", r.Title, r.URL)
	}

	return ToolResult{
		Success:       true,
		Content:       sb.String(),
		Output:        results,
		ToolName:      "web_search",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"query": query, "count": len(results)},
	}, nil
}

// SearchResultLink is one web_search result.
type SearchResultLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// extractResultLinks pulls anchors out of a results page with a small,
// dependency-free scan — good enough for an agent skimming titles and URLs,
// not a general HTML parser.
func extractResultLinks(html string, limit int) []SearchResultLink {
	var results []SearchResultLink
	const anchorStart = "<a "
	idx := 0
	for len(results) < limit {
		i := strings.Index(html[idx:], anchorStart)
		if i < 0 {
			break
		}
		i += idx
		end := strings.Index(html[i:], "</a>")
		if end < 0 {
			break
		}
		end += i
		tag := html[i:end]

		hrefStart := strings.Index(tag, "href=\"")
		title := stripTags(tag)
		if hrefStart >= 0 && title != "" {
			hrefStart += len("href=\"")
			hrefEnd := strings.Index(tag[hrefStart:], "\"")
			if hrefEnd > 0 {
				href := tag[hrefStart : hrefStart+hrefEnd]
				if strings.HasPrefix(href, "http") {
					results = append(results, SearchResultLink{Title: title, URL: href})
				}
			}
		}
		idx = end + len("</a>")
	}
	return results
}

func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// WebFetchTool retrieves a URL and records a fetch evidence entry
// synchronously at completion — the only trustworthy record C8 trusts.
type WebFetchTool struct {
	client *httpclient.Client
	store  *evidence.Store
}

func NewWebFetchTool(store *evidence.Store) *WebFetchTool {
	return &WebFetchTool{
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
			httpclient.WithMaxRetries(2),
		),
		store: store,
	}
}

func (t *WebFetchTool) GetName() string        { return "web_fetch" }
func (t *WebFetchTool) GetDescription() string { return t.GetInfo().Description }

func (t *WebFetchTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "web_fetch",
		Description: "Fetch a URL and return its body as text",
		Parameters: []ToolParameter{
			{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
		},
		ServerURL: "local",
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	target, _ := args["url"].(string)
	if target == "" {
		return ToolResult{Success: false, Error: "url is required"}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return ToolResult{Success: false, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}
	req.Header.Set("User-Agent", "taskengine/1.0")

	resp, reqErr := t.client.Do(req)
	entry := evidence.FetchEntry{URL: target}
	if reqErr != nil {
		entry.Success = false
		entry.ErrorIndicators = []string{reqErr.Error()}
		if t.store != nil {
			_ = t.store.RecordFetch(entry)
		}
		return ToolResult{Success: false, Error: fmt.Sprintf("fetch failed: %v", reqErr), ExecutionTime: time.Since(start)}, nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if readErr != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("failed to read response: %v", readErr), ExecutionTime: time.Since(start)}, nil
	}

	entry.FinalURL = resp.Request.URL.String()
	entry.StatusCode = resp.StatusCode
	entry.ContentType = resp.Header.Get("Content-Type")
	entry.ContentLength = len(body)
	entry.Success = resp.StatusCode < 400
	evidence.ClassifyFetch(&entry, string(body))
	if t.store != nil {
		_ = t.store.RecordFetch(entry)
	}

	result := ToolResult{
		Success:       entry.Success && !entry.IsErrorPage,
		Content:       string(body),
		ToolName:      "web_fetch",
		ExecutionTime: time.Since(start),
		Metadata: map[string]interface{}{
			"url":            target,
			"final_url":      entry.FinalURL,
			"status_code":    entry.StatusCode,
			"content_type":   entry.ContentType,
			"is_html":        entry.IsHTML,
			"is_error_page":  entry.IsErrorPage,
		},
	}
	if !result.Success {
		if entry.IsErrorPage {
			result.Error = "fetched content looks like an error page"
		} else {
			result.Error = fmt.Sprintf("HTTP %d", entry.StatusCode)
		}
	}
	return result, nil
}
