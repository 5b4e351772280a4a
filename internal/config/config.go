package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete donelist configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Client    ClientConfig    `mapstructure:"client"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the completion proxy listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Env is "production" or anything else; only production enforces rate
	// limits for loopback clients.
	Env          string `mapstructure:"env"`
	BodyLimitKB  int    `mapstructure:"body_limit_kb"`
	ShutdownSecs int    `mapstructure:"shutdown_secs"`
}

// AIConfig selects and tunes the upstream model.
type AIConfig struct {
	// Provider is "openai" or "gemini".
	Provider     string  `mapstructure:"provider"`
	APIKey       string  `mapstructure:"api_key"`
	GeminiAPIKey string  `mapstructure:"gemini_api_key"`
	BaseURL      string  `mapstructure:"base_url"`
	Model        string  `mapstructure:"model"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature"`
	Streaming    bool    `mapstructure:"streaming"`
	TimeoutMs    int     `mapstructure:"timeout_ms"`
}

type RateLimitConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	WindowMs int  `mapstructure:"window_ms"`
	Max      int  `mapstructure:"max"`
}

// ClientConfig controls how the CLI talks to the proxy.
type ClientConfig struct {
	ProxyURL string `mapstructure:"proxy_url"`
	// Transport is "streaming" or "atomic".
	Transport        string `mapstructure:"transport"`
	MaxRetries       int    `mapstructure:"max_retries"`
	RetryDelayMs     int    `mapstructure:"retry_delay_ms"`
	StatusClearMs    int    `mapstructure:"status_clear_ms"`
	RequestTimeoutMs int    `mapstructure:"request_timeout_ms"`
}

type StorageConfig struct {
	// Backend is "memory", "file" or "sqlite".
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
	Owner   string `mapstructure:"owner"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "",
			Port:         3001,
			Env:          "development",
			BodyLimitKB:  512,
			ShutdownSecs: 5,
		},
		AI: AIConfig{
			Provider:    "openai",
			Model:       "",
			MaxTokens:   400,
			Temperature: 0.1,
			Streaming:   true,
			TimeoutMs:   2000,
		},
		RateLimit: RateLimitConfig{
			Enabled:  false,
			WindowMs: 60_000,
			Max:      100,
		},
		Client: ClientConfig{
			ProxyURL:         "http://localhost:3001",
			Transport:        "streaming",
			MaxRetries:       2,
			RetryDelayMs:     1000,
			StatusClearMs:    1500,
			RequestTimeoutMs: 30_000,
		},
		Storage: StorageConfig{
			Backend: "file",
			DataDir: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// legacyEnv lists the environment names the Node proxy read, kept so
// existing deployments keep working.
var legacyEnv = map[string][]string{
	"ai.api_key":          {"OPENAI_API_KEY"},
	"ai.gemini_api_key":   {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"ai.model":            {"OPENAI_MODEL"},
	"ai.max_tokens":       {"AI_MAX_TOKENS"},
	"ai.streaming":        {"AI_STREAMING"},
	"ratelimit.enabled":   {"AI_RATELIMIT_ENABLED"},
	"ratelimit.window_ms": {"AI_RATELIMIT_WINDOW_MS"},
	"ratelimit.max":       {"AI_RATELIMIT_MAX"},
	"server.port":         {"PORT"},
	"server.env":          {"NODE_ENV"},
}

// SetDefaults registers defaults and environment bindings on v. Every key is
// also reachable as DONELIST_<SECTION>_<KEY>.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("server.host", defaults.Server.Host)
	v.SetDefault("server.port", defaults.Server.Port)
	v.SetDefault("server.env", defaults.Server.Env)
	v.SetDefault("server.body_limit_kb", defaults.Server.BodyLimitKB)
	v.SetDefault("server.shutdown_secs", defaults.Server.ShutdownSecs)

	v.SetDefault("ai.provider", defaults.AI.Provider)
	v.SetDefault("ai.api_key", defaults.AI.APIKey)
	v.SetDefault("ai.gemini_api_key", defaults.AI.GeminiAPIKey)
	v.SetDefault("ai.base_url", defaults.AI.BaseURL)
	v.SetDefault("ai.model", defaults.AI.Model)
	v.SetDefault("ai.max_tokens", defaults.AI.MaxTokens)
	v.SetDefault("ai.temperature", defaults.AI.Temperature)
	v.SetDefault("ai.streaming", defaults.AI.Streaming)
	v.SetDefault("ai.timeout_ms", defaults.AI.TimeoutMs)

	v.SetDefault("ratelimit.enabled", defaults.RateLimit.Enabled)
	v.SetDefault("ratelimit.window_ms", defaults.RateLimit.WindowMs)
	v.SetDefault("ratelimit.max", defaults.RateLimit.Max)

	v.SetDefault("client.proxy_url", defaults.Client.ProxyURL)
	v.SetDefault("client.transport", defaults.Client.Transport)
	v.SetDefault("client.max_retries", defaults.Client.MaxRetries)
	v.SetDefault("client.retry_delay_ms", defaults.Client.RetryDelayMs)
	v.SetDefault("client.status_clear_ms", defaults.Client.StatusClearMs)
	v.SetDefault("client.request_timeout_ms", defaults.Client.RequestTimeoutMs)

	v.SetDefault("storage.backend", defaults.Storage.Backend)
	v.SetDefault("storage.data_dir", defaults.Storage.DataDir)
	v.SetDefault("storage.owner", defaults.Storage.Owner)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.development", defaults.Logging.Development)

	v.SetEnvPrefix("DONELIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range legacyEnv {
		prefixed := "DONELIST_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(append([]string{key, prefixed}, names...)...)
	}
}

// ReadFile loads path into v, or config.yaml from ConfigDir when path is
// empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// Load unmarshals v and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns the user's donelist config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "donelist")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".donelist"
	}
	return filepath.Join(home, ".config", "donelist")
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

func (s ServerConfig) BodyLimit() int64 {
	return int64(s.BodyLimitKB) << 10
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownSecs) * time.Second
}

func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutMs) * time.Millisecond
}

// Key returns the credential for the selected provider.
func (a AIConfig) Key() string {
	if a.Provider == ProviderGemini {
		return a.GeminiAPIKey
	}
	return a.APIKey
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

func (c ClientConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c ClientConfig) StatusClearDelay() time.Duration {
	return time.Duration(c.StatusClearMs) * time.Millisecond
}

func (c ClientConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}
