// Package config содержит логику чтения конфигурации панели.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации панели абонентской оплаты.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	AuthSecret         string `env:"AUTH_SECRET"`
	AttachmentsDir     string `env:"ATTACHMENTS_DIR"`
	AttachmentsBaseURL string `env:"ATTACHMENTS_BASE_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envAttachmentsDir := cfg.AttachmentsDir
	envAttachmentsBaseURL := cfg.AttachmentsBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.StringVar(&cfg.AttachmentsDir, "f", "attachments", "directory for payment proof files")
	flag.StringVar(&cfg.AttachmentsBaseURL, "u", "/attachments", "base URL for payment proof links")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAttachmentsDir != "" {
		cfg.AttachmentsDir = envAttachmentsDir
	}
	if envAttachmentsBaseURL != "" {
		cfg.AttachmentsBaseURL = envAttachmentsBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
