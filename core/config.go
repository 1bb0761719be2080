package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultAPIBaseURL is the public Terrabia backend used when API_BASE_URL is unset.
const DefaultAPIBaseURL = "https://terrabia-backend.up.railway.app"

// Config holds runtime settings for the web process.
type Config struct {
	Port           string        // HTTP listen port (e.g., "3000")
	SessionKey     string        // Cookie signing key
	CookieSecure   bool          // Whether to set Secure flag on session cookie
	CookieSameSite string        // SameSite policy: Strict/Lax/None
	LogDir         string        // Directory to write application logs
	LogLevel       string        // trace/debug/info/warn/error
	LogPretty      bool          // human readable console output instead of JSON
	APIBaseURL     string        // Terrabia backend base URL
	APITimeout     time.Duration // per-request timeout of the gateway HTTP client
	RedisURL       string        // Redis URL (redis://host:port/db)
	StorageTTL     time.Duration // idle lifetime of persisted browser storage
	SessionIdle    time.Duration // in-memory auth sessions are evicted after this much idleness
	StartupWait    time.Duration // how long a request waits for the startup check before showing the loading view
	AllowedOrigins []string      // allowed origins for CORS/CSRF origin check
	SiteMapFile    string        // optional YAML file overriding the embedded site map
}

// Load populates Config from environment variables with sane defaults.
func Load() Config {
	return Config{
		Port:           firstNonEmpty(os.Getenv("PORT"), "3000"),
		SessionKey:     firstNonEmpty(os.Getenv("SESSION_KEY"), "change-this-session-key"),
		CookieSecure:   boolFromEnv("COOKIE_SECURE", false),
		CookieSameSite: firstNonEmpty(os.Getenv("COOKIE_SAMESITE"), "Lax"),
		LogDir:         firstNonEmpty(os.Getenv("LOG_DIR"), "./logs"),
		LogLevel:       firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"),
		LogPretty:      boolFromEnv("LOG_PRETTY", false),
		APIBaseURL:     strings.TrimRight(firstNonEmpty(os.Getenv("API_BASE_URL"), os.Getenv("VITE_API_URL"), DefaultAPIBaseURL), "/"),
		APITimeout:     time.Duration(intFromEnv("API_TIMEOUT_MS", 30000)) * time.Millisecond,
		RedisURL:       firstNonEmpty(os.Getenv("REDIS_URL"), "redis://localhost:6379/0"),
		StorageTTL:     time.Duration(intFromEnv("STORAGE_TTL_HOURS", 24*30)) * time.Hour,
		SessionIdle:    time.Duration(intFromEnv("SESSION_IDLE_MINUTES", 30)) * time.Minute,
		StartupWait:    time.Duration(intFromEnv("STARTUP_WAIT_MS", 1500)) * time.Millisecond,
		AllowedOrigins: parseCSV(os.Getenv("ALLOWED_ORIGINS")),
		SiteMapFile:    os.Getenv("SITE_MAP_FILE"),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boolFromEnv reads a boolean from env var name, falling back to defaultVal when empty or invalid.
func boolFromEnv(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// intFromEnv reads an int from env var name, falling back to defaultVal when empty or invalid.
func intFromEnv(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// parseCSV splits comma-separated list and trims spaces; empty entries are skipped.
func parseCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
