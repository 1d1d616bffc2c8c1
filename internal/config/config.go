package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Core
	DatabaseURL  string `env:"DATABASE_URL,required"`
	InferenceURL string `env:"INFERENCE_URL,required"`
	InferenceKey string `env:"INFERENCE_API_KEY,required"`

	// Server
	Port int `env:"PORT" envDefault:"3000"`

	// Usage accounting (USD per 1M tokens)
	PromptPricePer1M     float64 `env:"PROMPT_PRICE_PER_1M" envDefault:"0.25"`
	CompletionPricePer1M float64 `env:"COMPLETION_PRICE_PER_1M" envDefault:"1.0"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
