package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig limits one route. Paths ending in "/" match by prefix and all
// matching paths share one bucket per client.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int           // requests per Window
	Window time.Duration // refill period for Limit
	Burst  int           // defaults to Limit when 0
}

// Route limits. Processing a target triggers a fetch and up to three model calls,
// so it is the most tightly limited route.
const (
	processPerHour   = 10
	loginPerMinute   = 10
	reviewsPerMinute = 100
)

// LoadConfig reads the RATE_LIMIT_* environment variables. Unparseable values fall
// back to their defaults.
func LoadConfig() *Config {
	if !envValue("RATE_LIMIT_ENABLED", true, strconv.ParseBool) {
		return &Config{Enabled: false}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    envValue("RATE_LIMIT_DEFAULT_LIMIT", 1000, strconv.Atoi),
		DefaultWindow:   envValue("RATE_LIMIT_DEFAULT_WINDOW", time.Minute, time.ParseDuration),
		CleanupInterval: envValue("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute, time.ParseDuration),
		Whitelist:       clientSet(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       clientSet(os.Getenv("RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: endpointConfigs(
			envValue("RATE_LIMIT_PROCESS_PER_HOUR", processPerHour, strconv.Atoi),
			envValue("RATE_LIMIT_LOGIN_PER_MINUTE", loginPerMinute, strconv.Atoi),
			envValue("RATE_LIMIT_REVIEW_PER_MINUTE", reviewsPerMinute, strconv.Atoi),
		),
	}
}

// DefaultEndpointConfigs returns the route limits used when nothing is overridden.
// Reads use the default limit; /health and /metrics are never limited.
func DefaultEndpointConfigs() []EndpointConfig {
	return endpointConfigs(processPerHour, loginPerMinute, reviewsPerMinute)
}

func endpointConfigs(process, login, review int) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/targets/", Method: "POST", Limit: process, Window: time.Hour, Burst: min(2, process)},
		{Path: "/auth/login", Method: "POST", Limit: login, Window: time.Minute, Burst: min(5, login)},
		{Path: "/review/", Method: "POST", Limit: review, Window: time.Minute, Burst: min(10, review)},
	}
}

func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// clientSet parses a comma-separated list of client addresses.
func clientSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, c := range strings.Split(list, ",") {
		if c = strings.TrimSpace(c); c != "" {
			set[c] = true
		}
	}
	return set
}
