// Package config defines the server configuration document and its loader.
package config

import (
	"fmt"
	"strings"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// Config is the YAML configuration document read at startup.
//
// Model identifiers use the "provider/model" scheme, e.g.
// "openrouter/qwen/qwen3-32b" or "ollama/qwen3:4b".
type Config struct {
	// Models
	MainModel       string `yaml:"main_model" mapstructure:"main_model"`
	SleepAgentModel string `yaml:"sleep_agent_model" mapstructure:"sleep_agent_model"`
	EmbedModel      string `yaml:"embed_model" mapstructure:"embed_model"`

	// Token budgets
	MaxTokens           int `yaml:"max_tokens" mapstructure:"max_tokens"`
	SleepAgentContext   int `yaml:"sleep_agent_context" mapstructure:"sleep_agent_context"`
	CompressorMaxTokens int `yaml:"compressor_max_tokens" mapstructure:"compressor_max_tokens"`

	// Storage locations
	ContextDir string `yaml:"context_dir" mapstructure:"context_dir"`
	CoreDir    string `yaml:"core_dir" mapstructure:"core_dir"`
	VectorDir  string `yaml:"vector_dir" mapstructure:"vector_dir"`
	CacheFile  string `yaml:"cache_file" mapstructure:"cache_file"`
	RecallDir  string `yaml:"recall_dir" mapstructure:"recall_dir"`

	// Prompts
	PromptFile           string `yaml:"prompt_file" mapstructure:"prompt_file"`
	SleepAgentPromptPath string `yaml:"sleep_agent_prompt_path" mapstructure:"sleep_agent_prompt_path"`

	// Sandbox tool families
	UseWeb        bool `yaml:"use_web" mapstructure:"use_web"`
	UseFilesystem bool `yaml:"use_filesystem" mapstructure:"use_filesystem"`

	// Sleep-time scheduler. A trigger <= 0 disables the scheduler entirely.
	SleepAgentMessageTrigger int     `yaml:"sleep_agent_message_trigger" mapstructure:"sleep_agent_message_trigger"`
	MinSleepInterval         float64 `yaml:"min_sleep_interval" mapstructure:"min_sleep_interval"`
	MaxSleepInterval         float64 `yaml:"max_sleep_interval" mapstructure:"max_sleep_interval"`
	PauseDelayAfterMain      float64 `yaml:"pause_delay_after_main" mapstructure:"pause_delay_after_main"`
	MaxConcurrentTasks       int     `yaml:"max_concurrent_tasks" mapstructure:"max_concurrent_tasks"`

	// ApprovalRequired maps tool name -> requires user approval before running.
	ApprovalRequired map[string]bool `yaml:"approval_required" mapstructure:"approval_required"`

	Server   ServerConfig `yaml:"server" mapstructure:"server"`
	LogLevel string       `yaml:"log_level" mapstructure:"log_level"`
}

// SetDefaults fills zero-valued fields with working defaults.
func (c *Config) SetDefaults() {
	if c.MainModel == "" {
		c.MainModel = "ollama/qwen3:4b"
	}
	if c.SleepAgentModel == "" {
		c.SleepAgentModel = c.MainModel
	}
	if c.EmbedModel == "" {
		c.EmbedModel = "ollama/nomic-embed-text"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8000
	}
	if c.SleepAgentContext == 0 {
		c.SleepAgentContext = 2048
	}
	if c.CompressorMaxTokens == 0 {
		c.CompressorMaxTokens = 8000
	}
	if c.ContextDir == "" {
		c.ContextDir = "data/context.json"
	}
	if c.CoreDir == "" {
		c.CoreDir = "data/core"
	}
	if c.VectorDir == "" {
		c.VectorDir = "data/vector"
	}
	if c.CacheFile == "" {
		c.CacheFile = "data/vector/.cache.json"
	}
	if c.RecallDir == "" {
		c.RecallDir = "data/recall.db"
	}
	if c.MinSleepInterval == 0 {
		c.MinSleepInterval = 30
	}
	if c.MaxSleepInterval == 0 {
		c.MaxSleepInterval = 300
	}
	if c.PauseDelayAfterMain == 0 {
		c.PauseDelayAfterMain = 15
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = 3
	}
	if c.ApprovalRequired == nil {
		c.ApprovalRequired = map[string]bool{}
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate rejects configurations the server cannot start with.
// Configuration errors are the only fatal error class at startup.
func (c *Config) Validate() error {
	for _, m := range []struct{ key, value string }{
		{"main_model", c.MainModel},
		{"sleep_agent_model", c.SleepAgentModel},
		{"embed_model", c.EmbedModel},
	} {
		if !strings.Contains(m.value, "/") {
			return fmt.Errorf("%s must use the 'provider/model' format, got %q", m.key, m.value)
		}
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.SleepAgentContext < 1 {
		return fmt.Errorf("sleep_agent_context must be positive, got %d", c.SleepAgentContext)
	}
	if c.CompressorMaxTokens < 1 {
		return fmt.Errorf("compressor_max_tokens must be positive, got %d", c.CompressorMaxTokens)
	}
	if c.MinSleepInterval <= 0 {
		return fmt.Errorf("min_sleep_interval must be positive, got %v", c.MinSleepInterval)
	}
	if c.MaxSleepInterval < c.MinSleepInterval {
		return fmt.Errorf("max_sleep_interval (%v) must be >= min_sleep_interval (%v)",
			c.MaxSleepInterval, c.MinSleepInterval)
	}
	if c.PauseDelayAfterMain < 0 {
		return fmt.Errorf("pause_delay_after_main must not be negative, got %v", c.PauseDelayAfterMain)
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be positive, got %d", c.MaxConcurrentTasks)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	return nil
}

// SleepAgentEnabled reports whether the sleep-time scheduler should run.
func (c *Config) SleepAgentEnabled() bool {
	return c.SleepAgentMessageTrigger > 0
}
