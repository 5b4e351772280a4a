package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

func ValidProviders() []string {
	return []string{ProviderOpenAI, ProviderGemini}
}

func ValidBackends() []string {
	return []string{"memory", "file", "sqlite"}
}

func ValidTransports() []string {
	return []string{"streaming", "atomic"}
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate returns every problem found, not just the first.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateAI()...)
	errs = append(errs, c.validateRateLimit()...)
	errs = append(errs, c.validateClient()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateServer() []ValidationError {
	var errs []ValidationError
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", c.Server.Port, "must be between 1 and 65535"})
	}
	if c.Server.BodyLimitKB < 1 {
		errs = append(errs, ValidationError{"server.body_limit_kb", c.Server.BodyLimitKB, "must be positive"})
	}
	if c.Server.ShutdownSecs < 0 {
		errs = append(errs, ValidationError{"server.shutdown_secs", c.Server.ShutdownSecs, "must not be negative"})
	}
	return errs
}

func (c *Config) validateAI() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidProviders(), c.AI.Provider) {
		errs = append(errs, ValidationError{"ai.provider", c.AI.Provider, "must be one of " + strings.Join(ValidProviders(), ", ")})
	}
	if c.AI.MaxTokens < 1 {
		errs = append(errs, ValidationError{"ai.max_tokens", c.AI.MaxTokens, "must be positive"})
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 2 {
		errs = append(errs, ValidationError{"ai.temperature", c.AI.Temperature, "must be between 0 and 2"})
	}
	if c.AI.TimeoutMs < 1 {
		errs = append(errs, ValidationError{"ai.timeout_ms", c.AI.TimeoutMs, "must be positive"})
	}
	if c.AI.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.AI.BaseURL); err != nil {
			errs = append(errs, ValidationError{"ai.base_url", c.AI.BaseURL, "must be an absolute URL"})
		}
	}
	return errs
}

func (c *Config) validateRateLimit() []ValidationError {
	if !c.RateLimit.Enabled {
		return nil
	}
	var errs []ValidationError
	if c.RateLimit.WindowMs < 1 {
		errs = append(errs, ValidationError{"ratelimit.window_ms", c.RateLimit.WindowMs, "must be positive when rate limiting is enabled"})
	}
	if c.RateLimit.Max < 1 {
		errs = append(errs, ValidationError{"ratelimit.max", c.RateLimit.Max, "must be positive when rate limiting is enabled"})
	}
	return errs
}

func (c *Config) validateClient() []ValidationError {
	var errs []ValidationError
	if u, err := url.Parse(c.Client.ProxyURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{"client.proxy_url", c.Client.ProxyURL, "must be an absolute URL"})
	}
	if !slices.Contains(ValidTransports(), c.Client.Transport) {
		errs = append(errs, ValidationError{"client.transport", c.Client.Transport, "must be one of " + strings.Join(ValidTransports(), ", ")})
	}
	if c.Client.MaxRetries < 0 {
		errs = append(errs, ValidationError{"client.max_retries", c.Client.MaxRetries, "must not be negative"})
	}
	if c.Client.RetryDelayMs < 0 {
		errs = append(errs, ValidationError{"client.retry_delay_ms", c.Client.RetryDelayMs, "must not be negative"})
	}
	if c.Client.StatusClearMs < 0 {
		errs = append(errs, ValidationError{"client.status_clear_ms", c.Client.StatusClearMs, "must not be negative"})
	}
	if c.Client.RequestTimeoutMs < 0 {
		errs = append(errs, ValidationError{"client.request_timeout_ms", c.Client.RequestTimeoutMs, "must not be negative"})
	}
	return errs
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidBackends(), c.Storage.Backend) {
		errs = append(errs, ValidationError{"storage.backend", c.Storage.Backend, "must be one of " + strings.Join(ValidBackends(), ", ")})
	}
	if c.Storage.Backend != "memory" && strings.TrimSpace(c.Storage.DataDir) == "" {
		errs = append(errs, ValidationError{"storage.data_dir", c.Storage.DataDir, "is required for persistent storage"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		return []ValidationError{{"logging.level", c.Logging.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")}}
	}
	return nil
}
