package resilience

import "time"

// Circuit breaker presets.
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// The scorer sits on the detection hot path: open quickly, try again soon.
	ScorerThreshold         = 3
	ScorerResetTimeout      = 5 * time.Second
	ScorerHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // used in log lines
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before a half-open trial
	HalfOpenSuccesses int           // trial successes needed to close
}

// ScorerConfig returns settings for the remote similarity scorer.
func ScorerConfig() Config {
	return Config{
		Name:              "scorer",
		Threshold:         ScorerThreshold,
		ResetTimeout:      ScorerResetTimeout,
		HalfOpenSuccesses: ScorerHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
