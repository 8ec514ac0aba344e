// Agent configuration types.
//
// Information Hiding:
// - Default values hidden

package agent

import "time"

// Default limits for one stage request.
const (
	DefaultMaxToolRounds = 8
	DefaultToolTimeout   = 60 * time.Second
)

// Config holds agent service configuration.
type Config struct {
	// MaxToolRounds bounds how many tool-call rounds one request may use.
	// The round after the last one is sent without tools so the model has
	// to answer.
	MaxToolRounds int

	// ToolTimeout bounds a single tool call, retries included.
	ToolTimeout time.Duration
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds: DefaultMaxToolRounds,
		ToolTimeout:   DefaultToolTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	return c
}
