package config

import "time"

// EngineConfig controls dispatch, retries and the optional lease mode.
type EngineConfig struct {
	// HandlerTimeout bounds a single handler invocation. Zero disables the bound.
	HandlerTimeout time.Duration `env:"ENGINE_HANDLER_TIMEOUT" envDefault:"30m"`

	// RetryBaseDelay is the linear backoff step: retry n waits n*RetryBaseDelay.
	RetryBaseDelay time.Duration `env:"ENGINE_RETRY_BASE_DELAY" envDefault:"60s"`

	// ConflictRetries is how often a mutation reloads after a persistence conflict.
	ConflictRetries int `env:"ENGINE_CONFLICT_RETRIES" envDefault:"3"`

	// CandidateLimit bounds how many eligible jobs one dispatch attempt examines.
	CandidateLimit int `env:"ENGINE_CANDIDATE_LIMIT" envDefault:"10"`

	// LeaseEnabled switches dispatch to claim-with-lease and enables the reaper.
	LeaseEnabled bool `env:"ENGINE_LEASE_ENABLED" envDefault:"false"`

	// LeaseDuration is how long a claimed job stays owned without a heartbeat.
	LeaseDuration time.Duration `env:"ENGINE_LEASE_DURATION" envDefault:"5m"`
}

// Sanitize applies guardrails to engine configuration values.
func (c *EngineConfig) Sanitize() {
	if c.HandlerTimeout < 0 {
		c.HandlerTimeout = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 60 * time.Second
	}
	if c.ConflictRetries < 1 {
		c.ConflictRetries = 1
	}
	if c.ConflictRetries > 20 {
		c.ConflictRetries = 20
	}
	if c.CandidateLimit < 1 {
		c.CandidateLimit = 1
	}
	if c.LeaseDuration < 5*time.Second {
		c.LeaseDuration = 5 * time.Second
	}
}
