package failure

// Actionable hints surfaced next to user-facing messages.
const (
	HintAuth           = "Re-authenticate with the provider (check your API key) and try again."
	HintTenantMismatch = "The credentials belong to a different tenant or organization. Switch to the account that owns the project."
	HintPermission     = "Check your role assignments and API key permissions."
	HintNotFound       = "Check the configured model and endpoint names."
	HintRateLimit      = "Wait a few minutes and try again."
	HintTimeout        = "Try again with shorter input, or check your network connection."
	HintConnection     = "Check your network connection and verify the configured endpoint is correct."
	HintServiceError   = "This is usually temporary. Try again in a moment."
	HintInput          = "Try shorter or simpler notes."
	HintContentPolicy  = "Review the input for content policy violations."
	HintQuota          = "Check your subscription or billing limits."
)

type entry struct {
	kind      Kind
	retryable bool
	message   string
	hint      string
}

// statusTable is the fixed HTTP status policy.
var statusTable = map[int]entry{
	400: {KindInvalidInput, false, "Invalid request.", HintInput},
	401: {KindAuth, false, "Authentication failed.", HintAuth},
	403: {KindPermission, false, "Permission denied.", HintPermission},
	404: {KindNotFound, false, "Resource not found.", HintNotFound},
	422: {KindInvalidInput, false, "Request could not be processed.", HintInput},
	429: {KindRateLimit, true, "Rate limit exceeded.", HintRateLimit},
	500: {KindService, true, "Service error.", HintServiceError},
	502: {KindService, true, "Gateway error.", HintServiceError},
	503: {KindService, true, "Service temporarily unavailable.", HintRateLimit},
	504: {KindService, true, "Gateway timed out.", HintTimeout},
}

// codeTable maps API error codes reported by the agent service.
var codeTable = map[string]entry{
	"rate_limit_exceeded":     {KindRateLimit, true, "Rate limited. Will retry...", HintRateLimit},
	"too_many_requests":       {KindRateLimit, true, "Too many requests. Will retry...", HintRateLimit},
	"server_error":            {KindService, true, "Service error. Will retry...", HintServiceError},
	"internal_error":          {KindService, true, "Internal service error. Will retry...", HintServiceError},
	"service_unavailable":     {KindService, true, "Service temporarily unavailable. Will retry...", HintServiceError},
	"vector_store_timeout":    {KindToolTimeout, true, "Search timed out. Will retry...", HintTimeout},
	"tool_error":              {KindToolTimeout, true, "Tool call failed. Will retry...", HintServiceError},
	"timeout":                 {KindToolTimeout, true, "Request timed out. Will retry...", HintTimeout},
	"invalid_prompt":          {KindInvalidInput, false, "Input could not be processed. Try simplifying.", HintInput},
	"invalid_request":         {KindInvalidInput, false, "Invalid request format.", HintInput},
	"invalid_request_error":   {KindInvalidInput, false, "Invalid request format.", HintInput},
	"context_length_exceeded": {KindInvalidInput, false, "Input too long. Try shorter notes.", HintInput},
	"content_filter":          {KindContentPolicy, false, "Content was filtered. Review input for policy violations.", HintContentPolicy},
	"insufficient_quota":      {KindQuota, false, "Quota exceeded. Check your subscription limits.", HintQuota},
}

type phrase struct {
	patterns []string
	entry
}

// phraseTable is the keyword fallback, consulted in order.
var phraseTable = []phrase{
	{[]string{"tenant provided in token does not match", "token tenant", "does not match resource tenant"},
		entry{KindAuth, false, "Wrong tenant or subscription for this project.", HintTenantMismatch}},
	{[]string{"unauthorized", "authentication failed", "invalid credentials", "invalid api key", "incorrect api key"},
		entry{KindAuth, false, "Authentication failed.", HintAuth}},
	{[]string{"forbidden", "permission denied", "access denied"},
		entry{KindPermission, false, "Permission denied.", HintPermission}},
	{[]string{"not found", "does not exist"},
		entry{KindNotFound, false, "Resource not found.", HintNotFound}},
	{[]string{"quota exceeded", "quota limit", "exceeded quota", "insufficient quota"},
		entry{KindQuota, false, "Quota exceeded. Check your subscription limits.", HintQuota}},
	{[]string{"rate limit", "too many requests"},
		entry{KindRateLimit, true, "Rate limited. Waiting to retry...", HintRateLimit}},
	{[]string{"service unavailable", "temporarily unavailable", "overloaded"},
		entry{KindService, true, "Service temporarily unavailable.", HintServiceError}},
	{[]string{"bad gateway", "gateway timeout"},
		entry{KindService, true, "Gateway error. Please try again.", HintServiceError}},
	{[]string{"internal server error", "server error"},
		entry{KindService, true, "Service error. Please try again.", HintServiceError}},
	{[]string{"timeout", "timed out", "peer closed", "incomplete chunked", "unexpected eof"},
		entry{KindConnectivity, true, "Connection timed out. Retrying...", HintTimeout}},
	{[]string{"connection refused", "no such host", "connection reset", "network is unreachable"},
		entry{KindConnectivity, false, "Could not connect to the service.", HintConnection}},
	{[]string{"content filter", "content_filter", "content policy"},
		entry{KindContentPolicy, false, "Content was filtered. Review input for policy violations.", HintContentPolicy}},
}
