package config

import (
	llmanthropic "github.com/aschepis/backscratcher/streamchat/llm/anthropic"
	"github.com/rs/zerolog"
)

// NewAnthropicProvider creates the Anthropic provider from the configuration.
func NewAnthropicProvider(cfg *Config, logger zerolog.Logger) (*llmanthropic.Provider, error) {
	return llmanthropic.NewProvider(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, logger)
}
