// Language service detector.
//
// Information Hiding:
// - REST endpoint layout and api-version hidden
// - Response navigation (documents, errors) hidden behind DocumentResult
// - Service error payloads surfaced as *HTTPError

package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/richinex/tsgpipe/failure"
)

const languageAPIVersion = "2023-04-01"

// HTTPError is a non-2xx reply from the language service.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("language service returned %d", e.Status)
	}
	return fmt.Sprintf("language service returned %d: %s", e.Status, e.Message)
}

// StatusCode implements failure.Structured.
func (e *HTTPError) StatusCode() int { return e.Status }

// ErrorCode implements failure.Structured.
func (e *HTTPError) ErrorCode() string { return e.Code }

var (
	_ Detector           = (*LanguageClient)(nil)
	_ failure.Structured = (*HTTPError)(nil)
)

// LanguageClient calls the analyze-text PII endpoint.
type LanguageClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewLanguageClient creates a client for endpoint authenticated with apiKey.
func NewLanguageClient(endpoint, apiKey string) *LanguageClient {
	return &LanguageClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *LanguageClient) WithHTTPClient(client *http.Client) *LanguageClient {
	c.client = client
	return c
}

type analyzeRequest struct {
	Kind          string            `json:"kind"`
	Parameters    analyzeParameters `json:"parameters"`
	AnalysisInput analysisInput     `json:"analysisInput"`
}

type analyzeParameters struct {
	ModelVersion    string   `json:"modelVersion"`
	LoggingOptOut   bool     `json:"loggingOptOut"`
	PiiCategories   []string `json:"piiCategories,omitempty"`
	StringIndexType string   `json:"stringIndexType"`
}

type analysisInput struct {
	Documents []inputDocument `json:"documents"`
}

type inputDocument struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Recognize implements Detector.
func (c *LanguageClient) Recognize(ctx context.Context, docs []Document, categories []string) ([]DocumentResult, error) {
	reqBody := analyzeRequest{
		Kind: "PiiEntityRecognition",
		Parameters: analyzeParameters{
			ModelVersion:    "latest",
			LoggingOptOut:   true,
			PiiCategories:   categories,
			StringIndexType: "UnicodeCodePoint",
		},
	}
	for _, d := range docs {
		reqBody.AnalysisInput.Documents = append(reqBody.AnalysisInput.Documents, inputDocument{ID: d.ID, Language: "en", Text: d.Text})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/language/:analyze-text?api-version=%s", c.endpoint, languageAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("language request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("language service returned invalid JSON")
	}

	return parseResults(gjson.ParseBytes(body), docs), nil
}

func parseHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{Status: status}
	if gjson.ValidBytes(body) {
		root := gjson.ParseBytes(body)
		e.Code = root.Get("error.code").String()
		e.Message = root.Get("error.message").String()
		if inner := root.Get("error.innererror.message"); inner.Exists() && e.Message == "" {
			e.Message = inner.String()
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if len(e.Message) > 200 {
			e.Message = e.Message[:200]
		}
	}
	return e
}

// parseResults maps the response back to request order. Documents missing
// from the response are reported as document errors.
func parseResults(root gjson.Result, docs []Document) []DocumentResult {
	byID := make(map[string]DocumentResult, len(docs))

	root.Get("results.documents").ForEach(func(_, doc gjson.Result) bool {
		r := DocumentResult{
			ID:           doc.Get("id").String(),
			RedactedText: doc.Get("redactedText").String(),
		}
		doc.Get("entities").ForEach(func(_, ent gjson.Result) bool {
			r.Entities = append(r.Entities, Entity{
				Category:   ent.Get("category").String(),
				Text:       ent.Get("text").String(),
				Confidence: ent.Get("confidenceScore").Float(),
				Offset:     int(ent.Get("offset").Int()),
				Length:     int(ent.Get("length").Int()),
			})
			return true
		})
		byID[r.ID] = r
		return true
	})

	root.Get("results.errors").ForEach(func(_, e gjson.Result) bool {
		id := e.Get("id").String()
		msg := e.Get("error.message").String()
		if msg == "" {
			msg = "Unknown document error"
		}
		byID[id] = DocumentResult{ID: id, Err: &DocumentError{Code: e.Get("error.code").String(), Message: msg}}
		return true
	})

	out := make([]DocumentResult, 0, len(docs))
	for _, d := range docs {
		r, ok := byID[d.ID]
		if !ok {
			r = DocumentResult{ID: d.ID, Err: &DocumentError{Code: "Missing", Message: "document missing from response"}}
		}
		out = append(out, r)
	}
	return out
}
