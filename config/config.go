// Package config loads connection and generation settings for the exl2
// command from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	exl2 "github.com/chrisboulton/exl2-go"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound = errors.New("configuration file not found")
	ErrInvalidYAML  = errors.New("invalid YAML syntax")
	ErrInvalid      = errors.New("invalid configuration")
)

// Config is the top-level configuration.
type Config struct {
	Host  string      `yaml:"host"`
	Port  int         `yaml:"port"`
	Log   LogConfig   `yaml:"log"`
	Infer InferConfig `yaml:"infer"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// InferConfig holds default generation parameters. Fields left out of the
// file keep the server defaults.
type InferConfig struct {
	MaxNewTokens      int      `yaml:"max_new_tokens"`
	StreamFull        bool     `yaml:"stream_full"`
	TopP              float64  `yaml:"top_p"`
	TopK              int      `yaml:"top_k"`
	TopA              float64  `yaml:"top_a"`
	MinP              float64  `yaml:"min_p"`
	Typical           float64  `yaml:"typical"`
	Temperature       float64  `yaml:"temperature"`
	RepetitionPenalty float64  `yaml:"rep_pen"`
	FrequencyPenalty  float64  `yaml:"freq_pen"`
	PresencePenalty   float64  `yaml:"pres_pen"`
	SkewFactor        float64  `yaml:"skew"`
	CustomBos         string   `yaml:"custom_bos"`
	StopConditions    []string `yaml:"stop_conditions"`
	TokenHealing      bool     `yaml:"token_healing"`
	Explicit          bool     `yaml:"explicit"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	p := exl2.DefaultInferParams()
	return &Config{
		Host: "127.0.0.1",
		Port: 5001,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Infer: InferConfig{
			MaxNewTokens:      p.MaxNewTokens,
			Temperature:       p.Temperature,
			RepetitionPenalty: p.RepetitionPenalty,
		},
	}
}

// Load reads a YAML configuration file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server would reject.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalid)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if c.Infer.MaxNewTokens <= 0 {
		return fmt.Errorf("%w: infer.max_new_tokens must be positive", ErrInvalid)
	}
	if c.Infer.Temperature < 0 {
		return fmt.Errorf("%w: infer.temperature must not be negative", ErrInvalid)
	}
	return nil
}

// URL returns the server's WebSocket URL.
func (c *Config) URL() string {
	return exl2.Address(c.Host, c.Port)
}

// InferParams converts the infer section to request parameters.
func (c *Config) InferParams() exl2.InferParams {
	i := c.Infer
	return exl2.InferParams{
		MaxNewTokens:      i.MaxNewTokens,
		StreamFull:        i.StreamFull,
		TopP:              i.TopP,
		TopK:              i.TopK,
		TopA:              i.TopA,
		MinP:              i.MinP,
		Typical:           i.Typical,
		Temperature:       i.Temperature,
		RepetitionPenalty: i.RepetitionPenalty,
		FrequencyPenalty:  i.FrequencyPenalty,
		PresencePenalty:   i.PresencePenalty,
		SkewFactor:        i.SkewFactor,
		CustomBos:         i.CustomBos,
		StopConditions:    i.StopConditions,
		TokenHealing:      i.TokenHealing,
		Explicit:          i.Explicit,
	}
}
