// Package config содержит логику чтения конфигурации сервиса.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса бонусных скидок.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	DatabaseURI     string `env:"DATABASE_URI"`
	VerifierAddress string `env:"VERIFIER_ADDRESS"`
	UploadDir       string `env:"UPLOAD_DIR"`
	QRBaseURL       string `env:"QR_BASE_URL"`
	AuthSecret      string `env:"AUTH_SECRET"`

	S3Bucket    string `env:"S3_BUCKET"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3BaseURL   string `env:"S3_BASE_URL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env читается при наличии, его отсутствие не является ошибкой.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envVerifierAddress := cfg.VerifierAddress
	envUploadDir := cfg.UploadDir
	envQRBaseURL := cfg.QRBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.VerifierAddress, "r", "", "plate verifier service address")
	flag.StringVar(&cfg.UploadDir, "u", "uploads", "directory for uploaded plate images")
	flag.StringVar(&cfg.QRBaseURL, "q", "http://localhost:5173", "base URL encoded into restaurant QR codes")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envVerifierAddress != "" {
		cfg.VerifierAddress = envVerifierAddress
	}
	if envUploadDir != "" {
		cfg.UploadDir = envUploadDir
	}
	if envQRBaseURL != "" {
		cfg.QRBaseURL = envQRBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.QRBaseURL == "" {
		cfg.QRBaseURL = "http://localhost:5173"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "bonyad-secret"
	}

	return cfg, nil
}
