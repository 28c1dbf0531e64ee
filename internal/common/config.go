package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Logging     LoggingConfig    `toml:"logging"`
	Events      EventsConfig     `toml:"events"`
	Classifier  ClassifierConfig `toml:"classifier"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Agent       AgentConfig      `toml:"agent"`
	Storage     StorageConfig    `toml:"storage"`
	Retention   RetentionConfig  `toml:"retention"`
	Gemini      GeminiConfig     `toml:"gemini"`
	Claude      ClaudeConfig     `toml:"claude"`
	LLM         LLMConfig        `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05")
	MinEventLevel string   `toml:"min_event_level"` // Minimum level of session-correlated logs republished as events
}

// EventsConfig tunes the event bus and broadcaster
type EventsConfig struct {
	QueueSize       int `toml:"queue_size"`       // Undelivered events held before publish drops (default: 4096)
	SendConcurrency int `toml:"send_concurrency"` // Parallel sends per event (default: 16)
}

// ClassifierConfig tunes the engine log drain loop
type ClassifierConfig struct {
	DrainInterval string `toml:"drain_interval"` // Minimum spacing between drains (default: "100ms")
	Burst         int    `toml:"burst"`          // Drains allowed back to back (default: 1)
}

// WebSocketConfig contains configuration for WebSocket feeds
type WebSocketConfig struct {
	ReadBufferSize  int      `toml:"read_buffer_size"`
	WriteBufferSize int      `toml:"write_buffer_size"`
	WriteTimeout    string   `toml:"write_timeout"`   // Per-send deadline; a slow observer is pruned past it (default: "10s")
	PingInterval    string   `toml:"ping_interval"`   // Keep-alive ping period (default: "30s")
	AllowedOrigins  []string `toml:"allowed_origins"` // Empty allows all origins
}

// AgentConfig contains automation run defaults
type AgentConfig struct {
	MaxSteps      int    `toml:"max_steps"`      // Default step budget per run (default: 100)
	Headless      bool   `toml:"headless"`       // Run the browser without a window
	StartURL      string `toml:"start_url"`      // Page opened before the first step (default: "about:blank")
	ProfileDir    string `toml:"profile_dir"`    // Per-session browser profiles are created under this directory
	ArtifactsDir  string `toml:"artifacts_dir"`  // Run history and extracted elements are written here
	StepTimeout   string `toml:"step_timeout"`   // Upper bound for one planner call plus its actions (default: "2m")
	ActionWait    string `toml:"action_wait"`    // Settle time after each browser action (default: "1s")
	AnswerTimeout string `toml:"answer_timeout"` // How long an ask_human question waits (default: "10m")
	ShutdownGrace string `toml:"shutdown_grace"` // Time given to running agents on shutdown (default: "10s")
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// RetentionConfig controls pruning of finished run records
type RetentionConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // Cron schedule with seconds field (default: "0 0 * * * *")
	MaxAge   string `toml:"max_age"`  // Finished runs older than this are deleted (default: "168h")
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model for completions (default: "gemini-2.5-flash")
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model for completions (default: "claude-sonnet-4-20250514")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the completion provider
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude" (default: "claude")
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05",
			MinEventLevel: "info",
		},
		Events: EventsConfig{
			QueueSize:       4096,
			SendConcurrency: 16,
		},
		Classifier: ClassifierConfig{
			DrainInterval: "100ms",
			Burst:         1,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			WriteTimeout:    "10s",
			PingInterval:    "30s",
		},
		Agent: AgentConfig{
			MaxSteps:      100,
			Headless:      false,
			StartURL:      "about:blank",
			ProfileDir:    "./data/profiles",
			ArtifactsDir:  "./data/logs",
			StepTimeout:   "2m",
			ActionWait:    "1s",
			AnswerTimeout: "10m",
			ShutdownGrace: "10s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/runs",
			},
		},
		Retention: RetentionConfig{
			Enabled:  true,
			Schedule: "0 0 * * * *", // Hourly
			MaxAge:   "168h",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderClaude,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("AGENTSTREAM_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("AGENTSTREAM_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("AGENTSTREAM_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Logging configuration
	if level := os.Getenv("AGENTSTREAM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("AGENTSTREAM_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if o = strings.TrimSpace(o); o != "" {
				outputs = append(outputs, o)
			}
		}
		config.Logging.Output = outputs
	}
	if minEvent := os.Getenv("AGENTSTREAM_LOG_MIN_EVENT_LEVEL"); minEvent != "" {
		config.Logging.MinEventLevel = minEvent
	}

	// Events configuration
	if size := os.Getenv("AGENTSTREAM_EVENTS_QUEUE_SIZE"); size != "" {
		if s, err := strconv.Atoi(size); err == nil {
			config.Events.QueueSize = s
		}
	}

	// Agent configuration
	if maxSteps := os.Getenv("AGENTSTREAM_AGENT_MAX_STEPS"); maxSteps != "" {
		if m, err := strconv.Atoi(maxSteps); err == nil {
			config.Agent.MaxSteps = m
		}
	}
	if headless := os.Getenv("AGENTSTREAM_AGENT_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Agent.Headless = h
		}
	}
	if dir := os.Getenv("AGENTSTREAM_AGENT_ARTIFACTS_DIR"); dir != "" {
		config.Agent.ArtifactsDir = dir
	}
	if dir := os.Getenv("AGENTSTREAM_AGENT_PROFILE_DIR"); dir != "" {
		config.Agent.ProfileDir = dir
	}

	// Storage configuration
	if badgerPath := os.Getenv("AGENTSTREAM_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// LLM configuration
	if provider := os.Getenv("AGENTSTREAM_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(strings.ToLower(provider))
	}
	if model := os.Getenv("AGENTSTREAM_CLAUDE_MODEL"); model != "" {
		config.Claude.Model = model
	}
	if model := os.Getenv("AGENTSTREAM_GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ResolveAPIKey resolves an API key by name with environment variable priority
// Resolution order: environment variables → config fallback → error
func ResolveAPIKey(name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"gemini_api_key":    {"AGENTSTREAM_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic_api_key": {"AGENTSTREAM_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
		"claude_api_key":    {"AGENTSTREAM_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	}

	if envVarNames, ok := keyToEnvMapping[name]; ok {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment or config", name)
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	durations := map[string]string{
		"classifier.drain_interval": c.Classifier.DrainInterval,
		"websocket.write_timeout":   c.WebSocket.WriteTimeout,
		"websocket.ping_interval":   c.WebSocket.PingInterval,
		"agent.step_timeout":        c.Agent.StepTimeout,
		"agent.action_wait":         c.Agent.ActionWait,
		"agent.answer_timeout":      c.Agent.AnswerTimeout,
		"agent.shutdown_grace":      c.Agent.ShutdownGrace,
		"retention.max_age":         c.Retention.MaxAge,
		"claude.timeout":            c.Claude.Timeout,
		"gemini.timeout":            c.Gemini.Timeout,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q: %w", key, value, err)
		}
	}

	if c.Retention.Enabled {
		parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		if _, err := parser.Parse(c.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid retention.schedule %q: %w", c.Retention.Schedule, err)
		}
	}

	switch c.LLM.DefaultProvider {
	case LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("unsupported llm.default_provider %q", c.LLM.DefaultProvider)
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
