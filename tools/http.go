// URL Fetch Tool.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - HTML-to-text reduction hidden
// - Status failures surfaced as structured errors for classification

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// DefaultMaxFetchBytes caps how much of a response body is read.
const DefaultMaxFetchBytes = 512 * 1024

// StatusError is a non-2xx response from a fetched URL.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// StatusCode implements failure.Structured.
func (e *StatusError) StatusCode() int { return e.Status }

// ErrorCode implements failure.Structured.
func (e *StatusError) ErrorCode() string { return "" }

// HTTPTool fetches a page so research can cite vendor documentation or
// status pages.
type HTTPTool struct {
	client         *http.Client
	timeout        time.Duration
	maxBytes       int64
	allowedDomains []string
}

// NewHTTPTool creates a new fetch tool with the given timeout.
func NewHTTPTool(timeout time.Duration) *HTTPTool {
	return &HTTPTool{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		maxBytes: DefaultMaxFetchBytes,
	}
}

// WithAllowedDomains sets the allowed domains for requests.
func (t *HTTPTool) WithAllowedDomains(domains []string) *HTTPTool {
	t.allowedDomains = domains
	return t
}

// WithMaxBytes caps the response body size.
func (t *HTTPTool) WithMaxBytes(n int64) *HTTPTool {
	if n > 0 {
		t.maxBytes = n
	}
	return t
}

// Metadata returns the tool metadata.
func (t *HTTPTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "fetch_url",
		Description: "Fetch a web page or API document over HTTP GET and return its readable text",
		Parameters: []ToolParameter{
			{Name: "url", ParamType: "string", Description: "Absolute http(s) URL to fetch", Required: true},
		},
	}
}

type fetchArgs struct {
	URL string `json:"url"`
}

func parseFetchArgs(args json.RawMessage) (fetchArgs, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return a, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.URL) == "" {
		return a, fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return a, fmt.Errorf("url must be an absolute http(s) URL")
	}
	return a, nil
}

// Validate validates the arguments.
func (t *HTTPTool) Validate(args json.RawMessage) error {
	a, err := parseFetchArgs(args)
	if err != nil {
		return err
	}
	if !t.isDomainAllowed(a.URL) {
		return fmt.Errorf("access to domain in '%s' is not allowed", a.URL)
	}
	return nil
}

// Execute fetches the URL.
func (t *HTTPTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	a, err := parseFetchArgs(args)
	if err != nil {
		return FailureResult(err), nil
	}
	if !t.isDomainAllowed(a.URL) {
		return FailureResultf("access to domain in '%s' is not allowed", a.URL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}
	req.Header.Set("User-Agent", "tsgpipe-research/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response body: %w", err)), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return FailureResult(&StatusError{URL: a.URL, Status: resp.StatusCode, Body: string(body)}), nil
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		text = ExtractText(text)
	}
	return SuccessResult(fmt.Sprintf("Status: %s\n\n%s", resp.Status, text)), nil
}

// isDomainAllowed checks if the URL's domain is in the allowlist.
func (t *HTTPTool) isDomainAllowed(urlStr string) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// ExtractText reduces an HTML document to its visible text, one block per
// line. Script, style and head content is dropped.
func ExtractText(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head", "noscript":
				skip++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				newline(&b)
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style", "head", "noscript":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

func newline(b *strings.Builder) {
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
}
