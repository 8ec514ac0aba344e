// Package gate screens free text for personal data before it leaves the
// process. The gate is fail-closed: any failure to scan blocks the caller.
//
// Information Hiding:
// - Detection service protocol hidden behind the Detector interface
// - Chunking and batching hidden inside Check
// - Offset translation from chunk to input coordinates hidden

package gate

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/richinex/tsgpipe/failure"
)

// DefaultCategories is the curated category list. It is kept narrow to
// reduce false positives on technical notes.
var DefaultCategories = []string{
	"Email",
	"PhoneNumber",
	"IPAddress",
	"Person",
	"AzureDocumentDBAuthKey",
	"AzureStorageAccountKey",
	"AzureSAS",
	"AzureIoTConnectionString",
	"SQLServerConnectionString",
	"CreditCardNumber",
	"USSocialSecurityNumber",
}

const (
	DefaultThreshold         = 0.8
	DefaultChunkSize         = 5120
	DefaultMaxDocsPerRequest = 5

	errIncompleteScan = "PII check failed: could not scan all content"
	hintIncomplete    = "The Language service could not process part of the input."
	hintTransport     = "Check your Azure credentials and network connection."
)

// Finding is one detected entity. Offset and Length are in code points of
// the text passed to Check.
type Finding struct {
	Category   string  `json:"category"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Offset     int     `json:"offset"`
	Length     int     `json:"length"`
}

// Result is the outcome of a scan. A non-empty Error means the scan did not
// cover all content and the caller must block.
type Result struct {
	PIIDetected  bool      `json:"pii_detected"`
	Findings     []Finding `json:"findings"`
	RedactedText string    `json:"redacted_text"`
	Error        string    `json:"error,omitempty"`
	Hint         string    `json:"hint,omitempty"`
}

// Blocked reports whether the scanned text must not be forwarded.
func (r Result) Blocked() bool {
	return r.PIIDetected || r.Error != ""
}

// Document is one chunk sent to the detector.
type Document struct {
	ID   string
	Text string
}

// Entity is a detector finding in chunk coordinates.
type Entity struct {
	Category   string
	Text       string
	Confidence float64
	Offset     int
	Length     int
}

// DocumentError reports that a single document could not be processed.
type DocumentError struct {
	Code    string
	Message string
}

// DocumentResult is the detector's answer for one document.
type DocumentResult struct {
	ID           string
	Entities     []Entity
	RedactedText string
	Err          *DocumentError
}

// Detector recognizes entities in a batch of documents. Results must be in
// request order.
type Detector interface {
	Recognize(ctx context.Context, docs []Document, categories []string) ([]DocumentResult, error)
}

// Options configures a Gate.
type Options struct {
	Threshold         float64
	ChunkSize         int
	MaxDocsPerRequest int
	Categories        []string
	CacheTTL          time.Duration // zero disables the result cache
}

// Gate scans text through a Detector.
type Gate struct {
	detector Detector
	opts     Options
	cache    *cache.Cache
	logger   *zap.Logger
}

type cached struct {
	text   string
	result Result
}

// New creates a gate. A nil detector makes every Check fail closed.
func New(detector Detector, opts Options, logger *zap.Logger) *Gate {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxDocsPerRequest <= 0 {
		opts.MaxDocsPerRequest = DefaultMaxDocsPerRequest
	}
	if len(opts.Categories) == 0 {
		opts.Categories = DefaultCategories
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gate{detector: detector, opts: opts, logger: logger}
	if opts.CacheTTL > 0 {
		g.cache = cache.New(opts.CacheTTL, opts.CacheTTL*2)
	}
	return g
}

// Check scans text and returns the aggregated result. There is no partial
// success: a document-level error or transport failure yields an error
// result with no findings.
func (g *Gate) Check(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Findings: []Finding{}, RedactedText: text}
	}
	if g.detector == nil {
		return errorResult(text, "PII check failed: content detection is not configured",
			"Set LANGUAGE_ENDPOINT and LANGUAGE_API_KEY.")
	}

	key := cacheKey(text)
	if g.cache != nil {
		if v, ok := g.cache.Get(key); ok {
			if c := v.(cached); c.text == text {
				return c.result
			}
		}
	}

	result := g.scan(ctx, text)
	if g.cache != nil && result.Error == "" {
		g.cache.SetDefault(key, cached{text: text, result: result})
	}
	return result
}

func (g *Gate) scan(ctx context.Context, text string) Result {
	chunks := SplitChunks(text, g.opts.ChunkSize)

	// Code-point offset of each chunk within text.
	offsets := make([]int, len(chunks))
	for i := 1; i < len(chunks); i++ {
		offsets[i] = offsets[i-1] + utf8.RuneCountInString(chunks[i-1])
	}

	findings := []Finding{}
	var redacted strings.Builder

	for start := 0; start < len(chunks); start += g.opts.MaxDocsPerRequest {
		end := start + g.opts.MaxDocsPerRequest
		if end > len(chunks) {
			end = len(chunks)
		}

		docs := make([]Document, 0, end-start)
		for i := start; i < end; i++ {
			docs = append(docs, Document{ID: strconv.Itoa(i), Text: chunks[i]})
		}

		results, err := g.detector.Recognize(ctx, docs, g.opts.Categories)
		if err != nil {
			c := failure.ClassifyGate(err)
			g.logger.Warn("pii check failed", zap.Error(err), zap.String("kind", string(c.Kind)))
			hint := c.Hint
			if hint == "" {
				hint = hintTransport
			}
			return errorResult(text, "PII check failed: "+c.UserMessage, hint)
		}
		if len(results) != len(docs) {
			g.logger.Warn("pii check failed: detector returned wrong document count",
				zap.Int("sent", len(docs)), zap.Int("received", len(results)))
			return errorResult(text, errIncompleteScan, hintIncomplete)
		}

		for i, doc := range results {
			if doc.Err != nil {
				g.logger.Warn("pii check failed: document error",
					zap.String("doc_id", doc.ID), zap.String("code", doc.Err.Code), zap.String("message", doc.Err.Message))
				return errorResult(text, errIncompleteScan, hintIncomplete)
			}
			redacted.WriteString(doc.RedactedText)

			base := offsets[start+i]
			for _, e := range doc.Entities {
				if e.Confidence < g.opts.Threshold {
					continue
				}
				findings = append(findings, Finding{
					Category:   e.Category,
					Text:       e.Text,
					Confidence: e.Confidence,
					Offset:     e.Offset + base,
					Length:     e.Length,
				})
			}
		}
	}

	return Result{
		PIIDetected:  len(findings) > 0,
		Findings:     findings,
		RedactedText: redacted.String(),
	}
}

func errorResult(text, msg, hint string) Result {
	return Result{Findings: []Finding{}, RedactedText: text, Error: msg, Hint: hint}
}

func cacheKey(text string) string {
	return strconv.FormatUint(xxhash.Sum64String(text), 16)
}

// SplitChunks splits text into pieces of at most max code points, breaking
// at whitespace where possible. The whitespace character at a break starts
// the next chunk, so concatenating the chunks reproduces text exactly.
func SplitChunks(text string, max int) []string {
	// bounds[k] is the byte offset of code point k; invalid bytes count as
	// one code point each and are kept as-is.
	bounds := make([]int, 0, len(text)+1)
	for i := 0; i < len(text); {
		bounds = append(bounds, i)
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	n := len(bounds)
	bounds = append(bounds, len(text))

	if max <= 0 || n <= max {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + max
		if end >= n {
			chunks = append(chunks, text[bounds[start]:])
			break
		}

		split := end
		for split > start && !isSpaceAt(text, bounds[split]) {
			split--
		}
		if split == start {
			split = end
		}

		chunks = append(chunks, text[bounds[start]:bounds[split]])
		start = split
	}
	return chunks
}

func isSpaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}
