package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Route is one explicit client-model to platform binding.
type Route struct {
	ClientModel string
	PlatformID  string
	UpstreamID  string
}

type Config struct {
	Addr     string
	LogLevel string

	// API gate
	APIKey     string
	APIKeyHash string // optional bcrypt hash, takes precedence over APIKey

	// Defaults applied to incoming requests
	DefaultModel    string
	DefaultPlatform string
	DefaultStream   bool
	EnableThinking  bool
	ThinkTagsMode   string // strip | think | raw

	// Token acquisition
	UpstreamTokens      []string // static pool, from UPSTREAM_TOKEN split on |
	TokenHeaderOverride string   // request header that short-circuits the cascade
	RedisURL            string   // KV token pool and optional cache backend
	TokenPoolSecret     string   // AWS Secrets Manager secret holding pool tokens
	AWSRegion           string

	// Model routing
	Routes []Route

	// Response cache
	CacheTTL        time.Duration
	CacheMaxEntries int

	// Timeouts
	AuthTimeout      time.Duration
	SendTimeout      time.Duration
	TalkSendTimeout  time.Duration
	ShutdownTimeout  time.Duration

	// Talk-flow conversation anchors
	ZreadRepoID     string
	ZreadWikiPageID string
	ZreadWikiID     string

	// Stats / observability
	DatabaseURL   string
	StatsQueueURL string
	AlertTopicARN string
	OTLPEndpoint  string
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:                getEnv("ADDR", ":9090"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		APIKey:              getEnv("DEFAULT_KEY", "sk-your-key"),
		APIKeyHash:          getEnv("DEFAULT_KEY_HASH", ""),
		DefaultModel:        getEnv("MODEL_NAME", "GLM-4.5"),
		DefaultPlatform:     getEnv("PLATFORM_ID", "zai"),
		DefaultStream:       getBoolEnv("DEFAULT_STREAM", true),
		EnableThinking:      getBoolEnv("ENABLE_THINKING", false),
		ThinkTagsMode:       getEnv("THINK_TAGS_MODE", "strip"),
		UpstreamTokens:      splitTokens(getEnv("UPSTREAM_TOKEN", os.Getenv("ZAI_TOKEN"))),
		TokenHeaderOverride: getEnv("TOKEN_OVERRIDE_HEADER", "X-ZAI-Token"),
		RedisURL:            getEnv("REDIS_URL", os.Getenv("KV_URL")),
		TokenPoolSecret:     getEnv("TOKEN_POOL_SECRET", ""),
		AWSRegion:           getEnv("AWS_REGION", ""),
		Routes:              parseRoutes(getEnv("MODEL_MAP", "")),
		CacheTTL:            getDurationEnv("CACHE_TTL", 60*time.Second),
		CacheMaxEntries:     getIntEnv("CACHE_MAX_ENTRIES", 1000),
		AuthTimeout:         getDurationEnv("AUTH_TIMEOUT", 10*time.Second),
		SendTimeout:         getDurationEnv("SEND_TIMEOUT", 30*time.Second),
		TalkSendTimeout:     getDurationEnv("TALK_SEND_TIMEOUT", 45*time.Second),
		ShutdownTimeout:     getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		ZreadRepoID:         getEnv("ZREAD_REPO_ID", "d421b459-67dd-11f0-bb48-0e6fb57b239c"),
		ZreadWikiPageID:     getEnv("ZREAD_WIKI_PAGE_ID", "45c64cba-0529-4ca6-8cd5-e36cf26fae31"),
		ZreadWikiID:         getEnv("ZREAD_WIKI_ID", "690a5a77-fe7e-4fee-9a04-c89e71c3af04"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		StatsQueueURL:       getEnv("STATS_QUEUE_URL", ""),
		AlertTopicARN:       getEnv("ALERT_TOPIC_ARN", ""),
		OTLPEndpoint:        getEnv("OTLP_ENDPOINT", ""),
	}

	switch cfg.ThinkTagsMode {
	case "strip", "think", "raw":
	default:
		cfg.ThinkTagsMode = "strip"
	}

	if !strings.HasPrefix(cfg.Addr, ":") && !strings.Contains(cfg.Addr, ":") {
		cfg.Addr = ":" + cfg.Addr
	}

	return cfg, nil
}

// splitTokens parses the |-delimited static token pool.
func splitTokens(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// parseRoutes reads MODEL_MAP entries of the form
// "client:platform:upstreamID" (or "client:upstreamID", which binds to the
// default platform) separated by commas. Later entries win.
func parseRoutes(raw string) []Route {
	if raw == "" {
		return nil
	}
	var routes []Route
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		switch len(parts) {
		case 2:
			if parts[0] == "" || parts[1] == "" {
				continue
			}
			routes = append(routes, Route{ClientModel: parts[0], UpstreamID: parts[1]})
		case 3:
			if parts[0] == "" || parts[2] == "" {
				continue
			}
			routes = append(routes, Route{ClientModel: parts[0], PlatformID: parts[1], UpstreamID: parts[2]})
		}
	}
	return routes
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.EqualFold(value, "true")
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
