package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

// APIError is a failure reported by a provider's API, normalized across SDKs.
type APIError struct {
	Provider string
	Status   int
	Code     string
	Message  string
	Param    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Provider)
	b.WriteString(" API error")
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d", e.Status)
		if e.Code != "" {
			fmt.Fprintf(&b, ", code %s", e.Code)
		}
		b.WriteString(")")
	} else if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// StatusCode returns the HTTP status, or 0 when unknown.
func (e *APIError) StatusCode() int { return e.Status }

// ErrorCode returns the API error code, or "" when unknown.
func (e *APIError) ErrorCode() string { return e.Code }

// AsAPIError extracts an *APIError from err, converting SDK error types.
func AsAPIError(err error) (*APIError, bool) {
	if err == nil {
		return nil, false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}

	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		e := &APIError{Provider: "openai", Status: oaiErr.HTTPStatusCode, Message: oaiErr.Message}
		if code, ok := oaiErr.Code.(string); ok {
			e.Code = code
		}
		if e.Code == "" {
			e.Code = oaiErr.Type
		}
		if oaiErr.Param != nil {
			e.Param = *oaiErr.Param
		}
		return e, true
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if body := gjson.GetBytes(reqErr.Body, "error.message"); body.Exists() {
			msg = body.String()
		}
		return &APIError{
			Provider: "openai",
			Status:   reqErr.HTTPStatusCode,
			Code:     gjson.GetBytes(reqErr.Body, "error.code").String(),
			Message:  msg,
		}, true
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		raw := antErr.RawJSON()
		msg := gjson.Get(raw, "error.message").String()
		if msg == "" {
			msg = http.StatusText(antErr.StatusCode)
		}
		return &APIError{
			Provider: "anthropic",
			Status:   antErr.StatusCode,
			Code:     gjson.Get(raw, "error.type").String(),
			Message:  msg,
		}, true
	}

	var genErr genai.APIError
	if errors.As(err, &genErr) {
		return fromGenai(genErr), true
	}
	var genPtr *genai.APIError
	if errors.As(err, &genPtr) && genPtr != nil {
		return fromGenai(*genPtr), true
	}

	return nil, false
}

func fromGenai(e genai.APIError) *APIError {
	msg := e.Message
	if inner := gjson.Get(msg, "error.message"); inner.Exists() {
		msg = inner.String()
	}
	// Status is an RPC status name such as RESOURCE_EXHAUSTED, or the raw
	// HTTP status line when the body was not JSON.
	code := ""
	if e.Status != "" && !strings.Contains(e.Status, " ") {
		code = strings.ToLower(e.Status)
	}
	return &APIError{
		Provider: "gemini",
		Status:   e.Code,
		Code:     code,
		Message:  msg,
	}
}

// wrapError converts SDK errors to *APIError and prefixes op.
func wrapError(provider, op string, err error) error {
	if apiErr, ok := AsAPIError(err); ok {
		if apiErr.Provider != provider {
			apiErr.Provider = provider
		}
		return fmt.Errorf("%s: %w", op, apiErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}
