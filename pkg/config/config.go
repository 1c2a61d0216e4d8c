// Package config reads the engine's configuration surface from the
// environment, with an optional .env file for local runs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vulnzero/remediation-engine/pkg/domain/errors"
	"github.com/vulnzero/remediation-engine/pkg/logger"
	"github.com/vulnzero/remediation-engine/pkg/sanitize"
	"github.com/vulnzero/remediation-engine/pkg/scanner"
)

// Config is everything the engine reads at startup.
type Config struct {
	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMEndpoint string

	NVDAPIKey string

	ScanSources []scanner.Config

	SandboxCPULimit float64
	SandboxMemMB    int

	EnrichConcurrency int
	CacheTTL          time.Duration

	SanitizationLevel sanitize.Level

	CircuitFailureThreshold int
	CircuitRecoverySeconds  int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present. Invalid values are fatal.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded configuration from .env")
	}

	cfg := &Config{
		LLMProvider:             getEnv("LLM_PROVIDER", "anthropic"),
		LLMModel:                os.Getenv("LLM_MODEL"),
		LLMAPIKey:               os.Getenv("LLM_API_KEY"),
		LLMEndpoint:             os.Getenv("LLM_ENDPOINT"),
		NVDAPIKey:               os.Getenv("NVD_API_KEY"),
		SandboxCPULimit:         2,
		SandboxMemMB:            4096,
		EnrichConcurrency:       5,
		CacheTTL:                24 * time.Hour,
		SanitizationLevel:       sanitize.LevelModerate,
		CircuitFailureThreshold: 5,
		CircuitRecoverySeconds:  60,
	}

	var err error
	if cfg.SandboxCPULimit, err = floatEnv("SANDBOX_CPU_LIMIT", cfg.SandboxCPULimit); err != nil {
		return nil, err
	}
	if cfg.SandboxMemMB, err = intEnv("SANDBOX_MEM_LIMIT", cfg.SandboxMemMB); err != nil {
		return nil, err
	}
	if cfg.EnrichConcurrency, err = intEnv("ENRICH_CONCURRENCY", cfg.EnrichConcurrency); err != nil {
		return nil, err
	}
	if hours, err := intEnv("CACHE_TTL_HOURS", 24); err != nil {
		return nil, err
	} else {
		cfg.CacheTTL = time.Duration(hours) * time.Hour
	}
	if cfg.CircuitFailureThreshold, err = intEnv("CIRCUIT_FAILURE_THRESHOLD", cfg.CircuitFailureThreshold); err != nil {
		return nil, err
	}
	if cfg.CircuitRecoverySeconds, err = intEnv("CIRCUIT_RECOVERY_SECONDS", cfg.CircuitRecoverySeconds); err != nil {
		return nil, err
	}

	if level := os.Getenv("SANITIZATION_LEVEL"); level != "" {
		switch sanitize.Level(level) {
		case sanitize.LevelPermissive, sanitize.LevelModerate, sanitize.LevelStrict:
			cfg.SanitizationLevel = sanitize.Level(level)
		default:
			return nil, errors.Newf(errors.CodeConfigurationInvalid, "config",
				"invalid SANITIZATION_LEVEL %q", level)
		}
	}

	if raw := os.Getenv("SCAN_SOURCES"); raw != "" {
		if err := yaml.Unmarshal([]byte(raw), &cfg.ScanSources); err != nil {
			return nil, errors.New(errors.CodeConfigurationInvalid, "config",
				"failed to parse SCAN_SOURCES", err)
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Newf(errors.CodeConfigurationInvalid, "config", "%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Newf(errors.CodeConfigurationInvalid, "config", "%s must be a number, got %q", key, v)
	}
	return f, nil
}
