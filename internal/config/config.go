package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	// Values from a local .env file are loaded before Load reads the environment.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	BaseURL        string // Analysis backend, e.g. http://localhost:5000
	Port           int
	DBPath         string
	RetentionDays  int
	PollInterval   time.Duration
	RequestTimeout time.Duration // 0 = no client timeout
	BannerTTL      time.Duration
	AllowedPaths   []string // Roots that watch jobs may read from (empty = unrestricted)

	// RetentionDaysFromEnv is set when CVSUBMIT_RETENTION_DAYS overrides the stored setting
	RetentionDaysFromEnv bool
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		BaseURL:        strings.TrimRight(getEnv("CVSUBMIT_BASE_URL", "http://localhost:5000"), "/"),
		Port:           getEnvInt("CVSUBMIT_PORT", 8090),
		DBPath:         ExpandPath(getEnv("CVSUBMIT_DB_PATH", "./data/cvsubmit.db")),
		RetentionDays:  getEnvInt("CVSUBMIT_RETENTION_DAYS", 30),
		PollInterval:   getEnvDuration("CVSUBMIT_POLL_INTERVAL", time.Second),
		RequestTimeout: getEnvDuration("CVSUBMIT_REQUEST_TIMEOUT", 0),
		BannerTTL:      getEnvDuration("CVSUBMIT_BANNER_TTL", 5*time.Second),
		AllowedPaths:   getEnvPaths("CVSUBMIT_WATCH_PATHS"),
	}
	cfg.RetentionDaysFromEnv = os.Getenv("CVSUBMIT_RETENTION_DAYS") != ""

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return cfg
}

// ResultsURL is where a finished analysis is shown
func (c *Config) ResultsURL() string {
	return c.BaseURL + "/analysis/"
}

// IsPathAllowed reports whether path lies under one of the allowed roots
func (c *Config) IsPathAllowed(path string) bool {
	if len(c.AllowedPaths) == 0 {
		return true
	}

	path = filepath.Clean(path)
	for _, root := range c.AllowedPaths {
		root = filepath.Clean(root)
		if root == string(filepath.Separator) || path == root {
			return true
		}
		if strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ExpandPath expands a leading ~ and cleans the path
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2")
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func getEnvPaths(key string) []string {
	var paths []string
	for _, p := range strings.Split(getEnv(key, ""), ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, ExpandPath(p))
		}
	}
	return paths
}
