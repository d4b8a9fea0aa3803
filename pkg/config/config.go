// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads server configuration.
// Priority: CLI flags > config file > env vars > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultConfigFileName is the config file name without extension.
const DefaultConfigFileName = "abacus"

// Config holds all configuration for the abacus server.
type Config struct {
	// DataDir is computed from ABACUS_DATA_DIR or ~/.abacus; it is not
	// loaded from the config file.
	DataDir string `mapstructure:"-"`

	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Dataset   DatasetConfig   `mapstructure:"dataset"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Evals     EvalsConfig     `mapstructure:"evals"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig holds model provider configuration.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// DatasetConfig holds the school dataset configuration.
type DatasetConfig struct {
	// Path is the SQLite database file
	Path string `mapstructure:"path"`

	// CSVPath, when set, loads school records from CSV at startup
	CSVPath string `mapstructure:"csv_path"`

	// SeedSample loads the built-in sample dataset when the store is
	// empty; meant for development
	SeedSample bool `mapstructure:"seed_sample"`
}

// AdmissionConfig holds rate-limit and budget configuration.
type AdmissionConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
	DailyTokens   int `mapstructure:"daily_tokens"`
}

// AgentConfig holds conversation loop configuration.
type AgentConfig struct {
	MaxToolRounds int    `mapstructure:"max_tool_rounds"`
	SystemPrompt  string `mapstructure:"system_prompt"`
}

// EvalsConfig holds post-processing configuration.
type EvalsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EvaluatorTimeoutSeconds int  `mapstructure:"evaluator_timeout_seconds"`
	SuggesterTimeoutSeconds int  `mapstructure:"suggester_timeout_seconds"`
}

// AuditConfig holds the audit sink configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// GetDataDir returns the abacus data directory, respecting
// ABACUS_DATA_DIR.
func GetDataDir() string {
	if dir := os.Getenv("ABACUS_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".abacus"
	}
	return filepath.Join(home, ".abacus")
}

// LoadConfig reads configuration from file, environment, and defaults.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(GetDataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/abacus/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && cfgFile != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found; using defaults + env vars + flags
	}

	viper.SetEnvPrefix("ABACUS")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	config.DataDir = GetDataDir()

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Admission.MaxRequests <= 0 {
		return fmt.Errorf("admission.max_requests must be positive")
	}
	if c.Admission.WindowSeconds <= 0 {
		return fmt.Errorf("admission.window_seconds must be positive")
	}
	if c.Admission.DailyTokens <= 0 {
		return fmt.Errorf("admission.daily_tokens must be positive")
	}
	if c.Agent.MaxToolRounds <= 0 {
		return fmt.Errorf("agent.max_tool_rounds must be positive")
	}
	if c.Evals.EvaluatorTimeoutSeconds <= 0 {
		return fmt.Errorf("evals.evaluator_timeout_seconds must be positive")
	}
	if c.Evals.SuggesterTimeoutSeconds <= 0 {
		return fmt.Errorf("evals.suggester_timeout_seconds must be positive")
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	viper.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 1.0)

	viper.SetDefault("dataset.path", filepath.Join(GetDataDir(), "schools.db"))
	viper.SetDefault("dataset.seed_sample", false)

	viper.SetDefault("admission.max_requests", 60)
	viper.SetDefault("admission.window_seconds", 60)
	viper.SetDefault("admission.daily_tokens", 200_000)

	viper.SetDefault("agent.max_tool_rounds", 5)

	viper.SetDefault("evals.enabled", true)
	viper.SetDefault("evals.evaluator_timeout_seconds", 8)
	viper.SetDefault("evals.suggester_timeout_seconds", 5)

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.path", filepath.Join(GetDataDir(), "audit.db"))

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
