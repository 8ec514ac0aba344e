package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`status[_\s]?code[:=\s]+(\d{3})`),
	regexp.MustCompile(`http[_\s]?(\d{3})`),
	regexp.MustCompile(`returned\s+(\d{3})`),
	regexp.MustCompile(`error\s+(\d{3})`),
	regexp.MustCompile(`\b([45]\d{2})\b`),
}

var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"code"[:\s]*"([^"]+)"`),
	regexp.MustCompile(`'code'[:\s]*'([^']+)'`),
	regexp.MustCompile(`error_code[=:\s]+([a-z_]+)`),
	regexp.MustCompile(`\bcode[=:\s]+([a-z_]+)`),
}

// Classify maps a fault raised during stage to a Classification.
// Structured fields (HTTP status, API code) take precedence over keyword
// matching on the message text.
func Classify(stage string, err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, UserMessage: prefix(stage, "Unknown error.")}
	}
	raw := err.Error()

	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return Classification{Kind: KindCancelled, UserMessage: prefix(stage, "Run cancelled."), Raw: raw}
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		return classifyKinded(stage, kinded, raw)
	}

	var status int
	var code string
	var structured Structured
	if errors.As(err, &structured) {
		status, code = structured.StatusCode(), structured.ErrorCode()
		if c, ok := classifyStructured(stage, status, code, raw); ok {
			return c
		}
	}

	// Unrecognized structured fields still travel with the fallback result.
	c := classifyText(stage, err, raw)
	if c.HTTPStatus == 0 {
		c.HTTPStatus = status
	}
	if c.APIErrorCode == "" {
		c.APIErrorCode = strings.ToLower(strings.TrimSpace(code))
	}
	return c
}

func classifyText(stage string, err error, raw string) Classification {
	if c, ok := classifyNetwork(stage, err, raw); ok {
		return c
	}

	lower := strings.ToLower(raw)
	if c, ok := classifyStructured(stage, extractStatus(lower), extractCode(lower), raw); ok {
		return c
	}

	for _, p := range phraseTable {
		for _, pattern := range p.patterns {
			if strings.Contains(lower, pattern) {
				return build(stage, p.entry, 0, "", raw)
			}
		}
	}

	return Classification{
		Kind:        KindUnknown,
		UserMessage: prefix(stage, "failed unexpectedly. Please try again."),
		Raw:         raw,
	}
}

// ClassifyStatus classifies a bare HTTP status code using the fixed table.
func ClassifyStatus(stage string, status int) Classification {
	c, ok := classifyStructured(stage, status, "", "")
	if !ok {
		return Classification{Kind: KindUnknown, HTTPStatus: status, UserMessage: prefix(stage, fmt.Sprintf("Request failed (%d).", status))}
	}
	return c
}

// ClassifyGate classifies a content-detection failure. Gate failures are
// always terminal for the operation they guard.
func ClassifyGate(err error) Classification {
	c := Classify("", err)
	c.Kind = KindContentGateService
	c.Retryable = false
	if c.Hint == "" {
		c.Hint = HintConnection
	}
	return c
}

func classifyKinded(stage string, k Kinded, raw string) Classification {
	kind := k.FailureKind()
	c := Classification{Kind: kind, UserMessage: prefix(stage, k.Error()), Raw: raw}
	switch kind {
	case KindToolTimeout, KindStreamStall:
		c.Retryable = true
		c.Hint = HintTimeout
	case KindStructuralValidation:
		c.Hint = "The generated document did not match the required template. Try again."
	case KindCancelled:
	default:
		c.Hint = HintServiceError
	}
	return c
}

func classifyStructured(stage string, status int, code, raw string) (Classification, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if e, ok := codeTable[code]; ok {
		return build(stage, e, status, code, raw), true
	}
	if e, ok := statusTable[status]; ok {
		return build(stage, e, status, code, raw), true
	}
	switch {
	case status >= 500 && status <= 599:
		return build(stage, entry{KindService, true, fmt.Sprintf("Service error (%d).", status), HintServiceError}, status, code, raw), true
	case status >= 400 && status <= 499:
		return build(stage, entry{KindInvalidInput, false, fmt.Sprintf("Request failed (%d): %s", status, truncate(raw, 200)), ""}, status, code, raw), true
	}
	return Classification{}, false
}

func classifyNetwork(stage string, err error, raw string) (Classification, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return build(stage, entry{KindConnectivity, true, "Request timed out. Retrying...", HintTimeout}, 0, "", raw), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return build(stage, entry{KindConnectivity, true, "Connection timed out. Retrying...", HintTimeout}, 0, "", raw), true
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	var urlErr *url.Error
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) || errors.As(err, &urlErr) {
		return build(stage, entry{KindConnectivity, false, "Could not connect to the service.", HintConnection}, 0, "", raw), true
	}
	return Classification{}, false
}

func build(stage string, e entry, status int, code, raw string) Classification {
	return Classification{
		Kind:         e.kind,
		Retryable:    e.retryable,
		HTTPStatus:   status,
		APIErrorCode: code,
		UserMessage:  prefix(stage, e.message),
		Hint:         e.hint,
		Raw:          raw,
	}
}

func extractStatus(lower string) int {
	for _, re := range statusPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		code, err := strconv.Atoi(m[1])
		if err == nil && code >= 400 && code <= 599 {
			return code
		}
	}
	return 0
}

func extractCode(lower string) string {
	for _, re := range codePatterns {
		if m := re.FindStringSubmatch(lower); m != nil {
			return m[1]
		}
	}
	return ""
}

func prefix(stage, msg string) string {
	if stage == "" {
		return msg
	}
	return Title(stage) + ": " + msg
}

// Title capitalizes a stage name for display.
func Title(stage string) string {
	if stage == "" {
		return stage
	}
	return strings.ToUpper(stage[:1]) + stage[1:]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
