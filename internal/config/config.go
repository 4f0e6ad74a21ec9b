// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values.
type Config struct {
	// Backend API
	APIBaseURL    string
	APIToken      string
	ClientTimeout time.Duration

	// Upload policy
	MaxUploadBytes    int64
	AllowedExtensions []string

	// Processing poller
	PollInterval    time.Duration
	PollMaxAttempts int

	// Mock pipeline delay bounds
	MockDelayMin time.Duration
	MockDelayMax time.Duration

	// Wizard persistence
	StateFile string
	StateTTL  time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// DefaultAllowedExtensions are the document types accepted for analysis.
var DefaultAllowedExtensions = []string{"pdf", "docx", "doc", "txt", "pptx", "md"}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present; real
// environment variables take precedence over it.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		APIBaseURL:    strings.TrimRight(getEnv("MAREPO_API_URL", "http://localhost:8000/api"), "/"),
		APIToken:      getEnv("MAREPO_API_TOKEN", ""),
		ClientTimeout: getEnvDuration("MAREPO_CLIENT_TIMEOUT", 5*time.Minute),

		MaxUploadBytes:    getEnvInt64("MAREPO_MAX_UPLOAD_BYTES", 25<<20),
		AllowedExtensions: getEnvList("MAREPO_ALLOWED_EXTENSIONS", DefaultAllowedExtensions),

		PollInterval:    getEnvDuration("MAREPO_POLL_INTERVAL", time.Second),
		PollMaxAttempts: int(getEnvInt64("MAREPO_POLL_MAX_ATTEMPTS", 180)),

		MockDelayMin: getEnvDuration("MAREPO_MOCK_DELAY_MIN", time.Second),
		MockDelayMax: getEnvDuration("MAREPO_MOCK_DELAY_MAX", 3*time.Second),

		StateFile: getEnv("MAREPO_STATE_FILE", defaultStateFile()),
		StateTTL:  getEnvDuration("MAREPO_STATE_TTL", 24*time.Hour),

		LogFile:  getEnv("MAREPO_LOG_FILE", "/tmp/marepo.log"),
		LogLevel: parseLogLevel(getEnv("MAREPO_LOG_LEVEL", "INFO")),
	}
}

// Validate checks that policy values are usable.
func (c Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, errors.New("MAREPO_API_URL is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.PollMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("poll max attempts must be positive, got %d", c.PollMaxAttempts))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes))
	}
	if c.MockDelayMin < 0 || c.MockDelayMax < c.MockDelayMin {
		errs = append(errs, fmt.Errorf("invalid mock delay bounds [%s, %s]", c.MockDelayMin, c.MockDelayMax))
	}
	if len(c.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("at least one allowed extension is required"))
	}
	return errors.Join(errs...)
}

func defaultStateFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".marepo-wizard.yaml"
	}
	return dir + string(os.PathSeparator) + "marepo" + string(os.PathSeparator) + "wizard.yaml"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
