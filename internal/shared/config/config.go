package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string

	AuthMode  string
	AuthToken string

	RateLimitRPM   int
	SessionMaxRuns int
	RunWorkers     int
	RunQueueSize   int

	WorkspaceDir     string
	MaxUploadBytes   int64
	AllowedMimeTypes []string

	ArtifactTTL time.Duration
	SessionTTL  time.Duration

	ProviderPolicyFile string
	LLMBaseURL         string
	LLMAPIKey          string
	LLMModel           string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             normalizeEnv(getEnv("ENV", "dev")),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		AuthMode:  strings.ToLower(getEnv("AUTH_MODE", "none")),
		AuthToken: os.Getenv("AUTH_TOKEN"),

		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 0),
		SessionMaxRuns: getEnvInt("SESSION_MAX_RUNS", 50),
		RunWorkers:     getEnvInt("RUN_WORKERS", 4),
		RunQueueSize:   getEnvInt("RUN_QUEUE_SIZE", 256),

		WorkspaceDir:     getEnv("WORKSPACE_DIR", "./data/workspaces"),
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", 5<<20),
		AllowedMimeTypes: splitAndTrim(getEnv("ALLOWED_MIME_TYPES", "application/pdf,text/plain,text/markdown")),

		ArtifactTTL: getEnvDuration("ARTIFACT_TTL", 0),
		SessionTTL:  getEnvDuration("SESSION_TTL", 0),

		ProviderPolicyFile: os.Getenv("PROVIDER_POLICY_FILE"),
		LLMBaseURL:         getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:          os.Getenv("LLM_API_KEY"),
		LLMModel:           getEnv("LLM_MODEL", "gpt-4o-mini"),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings ("24h") or bare seconds ("3600").
func getEnvDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if parsed, err := time.ParseDuration(val); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}
