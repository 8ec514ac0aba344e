// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM      LLMConfig
	Pipeline PipelineConfig
	Gate     GateConfig
	Session  SessionConfig
	Log      LogConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32
	Temperature float64
}

// PipelineConfig holds stage supervision and retry configuration.
type PipelineConfig struct {
	ToolCallTimeout   time.Duration
	StreamIdleTimeout time.Duration
	StallTimeout      time.Duration
	KeepaliveInterval time.Duration
	EventQueueSize    int

	ResearchMaxRetries        int
	WriteMaxRetries           int
	ReviewMaxRetries          int
	ReviewStructureMaxRetries int

	BackoffBase          time.Duration
	BackoffMax           time.Duration
	RateLimitBackoffBase time.Duration

	MaxToolRounds int
}

// GateConfig holds content gate configuration.
type GateConfig struct {
	Endpoint            string
	APIKey              string
	ConfidenceThreshold float64
	ChunkSize           int
	MaxDocsPerRequest   int
	Categories          []string
}

// SessionConfig holds session persistence configuration.
type SessionConfig struct {
	TTL    time.Duration
	DBPath string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Dir     string
	Verbose bool
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// New creates settings for the specified provider, loading values from environment variables.
// An empty provider falls back to TSG_PROVIDER, then openai.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = os.Getenv("TSG_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	var s Settings
	e := &envReader{}

	s.LLM = LLMConfig{
		Provider:    provider,
		Model:       os.Getenv(info.modelEnv),
		MaxTokens:   e.uint32("LLM_MAX_TOKENS", 8192),
		Temperature: e.float64("LLM_TEMPERATURE", 0.2),
	}
	if s.LLM.Model == "" {
		s.LLM.Model = info.defaultModel
	}

	s.Pipeline = PipelineConfig{
		ToolCallTimeout:           e.duration("TOOL_CALL_TIMEOUT", 90*time.Second),
		StreamIdleTimeout:         e.duration("STREAM_IDLE_TIMEOUT", 120*time.Second),
		StallTimeout:              e.duration("STREAM_STALL_TIMEOUT", 600*time.Second),
		KeepaliveInterval:         e.duration("KEEPALIVE_INTERVAL", 30*time.Second),
		EventQueueSize:            e.int("EVENT_QUEUE_SIZE", 64),
		ResearchMaxRetries:        e.int("RESEARCH_MAX_RETRIES", 3),
		WriteMaxRetries:           e.int("WRITE_MAX_RETRIES", 2),
		ReviewMaxRetries:          e.int("REVIEW_MAX_RETRIES", 2),
		ReviewStructureMaxRetries: e.int("REVIEW_STRUCTURE_MAX_RETRIES", 2),
		BackoffBase:               e.duration("RETRY_BACKOFF_BASE", 2*time.Second),
		BackoffMax:                e.duration("RETRY_BACKOFF_MAX", 60*time.Second),
		RateLimitBackoffBase:      e.duration("RATE_LIMIT_BACKOFF_BASE", 30*time.Second),
		MaxToolRounds:             e.int("AGENT_MAX_TOOL_ROUNDS", 10),
	}

	s.Gate = GateConfig{
		Endpoint:            strings.TrimRight(os.Getenv("LANGUAGE_ENDPOINT"), "/"),
		APIKey:              os.Getenv("LANGUAGE_API_KEY"),
		ConfidenceThreshold: e.float64("PII_CONFIDENCE_THRESHOLD", 0.8),
		ChunkSize:           e.int("PII_CHUNK_SIZE", 5120),
		MaxDocsPerRequest:   e.int("PII_MAX_DOCS_PER_REQUEST", 5),
		Categories:          splitList(os.Getenv("PII_CATEGORIES")),
	}

	s.Session = SessionConfig{
		TTL:    e.duration("SESSION_TTL", time.Hour),
		DBPath: getEnvString("SESSION_DB", ".tsgpipe/tsgpipe.db"),
	}

	s.Log = LogConfig{
		Dir:     getEnvString("LOG_DIR", "logs"),
		Verbose: getEnvBool("PIPELINE_VERBOSE"),
	}

	if e.err != nil {
		return Settings{}, e.err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	p := s.Pipeline
	durations := map[string]time.Duration{
		"TOOL_CALL_TIMEOUT":       p.ToolCallTimeout,
		"STREAM_IDLE_TIMEOUT":     p.StreamIdleTimeout,
		"STREAM_STALL_TIMEOUT":    p.StallTimeout,
		"KEEPALIVE_INTERVAL":      p.KeepaliveInterval,
		"RETRY_BACKOFF_BASE":      p.BackoffBase,
		"RETRY_BACKOFF_MAX":       p.BackoffMax,
		"RATE_LIMIT_BACKOFF_BASE": p.RateLimitBackoffBase,
		"SESSION_TTL":             s.Session.TTL,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	retries := map[string]int{
		"RESEARCH_MAX_RETRIES":         p.ResearchMaxRetries,
		"WRITE_MAX_RETRIES":            p.WriteMaxRetries,
		"REVIEW_MAX_RETRIES":           p.ReviewMaxRetries,
		"REVIEW_STRUCTURE_MAX_RETRIES": p.ReviewStructureMaxRetries,
	}
	for key, n := range retries {
		if n < 0 {
			return fmt.Errorf("%s must be >= 0, got %d", key, n)
		}
	}

	if p.StallTimeout < p.StreamIdleTimeout {
		return fmt.Errorf("STREAM_STALL_TIMEOUT (%s) must be >= STREAM_IDLE_TIMEOUT (%s)", p.StallTimeout, p.StreamIdleTimeout)
	}
	if p.EventQueueSize <= 0 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be positive, got %d", p.EventQueueSize)
	}

	g := s.Gate
	if g.ConfidenceThreshold < 0 || g.ConfidenceThreshold > 1 {
		return fmt.Errorf("PII_CONFIDENCE_THRESHOLD must be in [0, 1], got %v", g.ConfidenceThreshold)
	}
	if g.ChunkSize <= 0 {
		return fmt.Errorf("PII_CHUNK_SIZE must be positive, got %d", g.ChunkSize)
	}
	if g.MaxDocsPerRequest <= 0 {
		return fmt.Errorf("PII_MAX_DOCS_PER_REQUEST must be positive, got %d", g.MaxDocsPerRequest)
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the list of supported provider names.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	return result
}

// Environment variable helpers with proper error handling.
// envReader keeps the first parse error so New can read every key in one pass.

type envReader struct {
	err error
}

func (e *envReader) int(key string, defaultVal int) int {
	v, err := getEnvInt(key, defaultVal)
	e.keep(err)
	return v
}

func (e *envReader) uint32(key string, defaultVal uint32) uint32 {
	v, err := getEnvUint32(key, defaultVal)
	e.keep(err)
	return v
}

func (e *envReader) float64(key string, defaultVal float64) float64 {
	v, err := getEnvFloat64(key, defaultVal)
	e.keep(err)
	return v
}

func (e *envReader) duration(key string, defaultVal time.Duration) time.Duration {
	v, err := getEnvDuration(key, defaultVal)
	e.keep(err)
	return v
}

func (e *envReader) keep(err error) {
	if err != nil && e.err == nil {
		e.err = err
	}
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

// getEnvDuration accepts Go duration strings ("90s", "2m") or a bare number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}

func splitList(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
