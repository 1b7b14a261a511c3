/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	SessionTTL    time.Duration
	AppPassword   string
	MetricsBind   string

	// Naive task times are read and written in this zone
	Timezone string
	Location *time.Location

	// AI task extraction (OpenAI-compatible chat completions)
	AIAPIKey         string
	AIAPIBaseURL     string
	AIModel          string
	AIRatePerMinute  int
	SystemPromptFile string

	// Seed data
	SpacesFile string // Optional YAML file with default spaces

	// External calendars
	CalendarDaysAhead    int
	CalendarFetchTimeout time.Duration
	CalendarCacheTTL     time.Duration

	// Automatic rescheduling
	AutoScheduleCron string // Empty disables the background runner

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"TASKPLANNER_ENV", "TP_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"TASKPLANNER_HTTP_BIND", "TP_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"TASKPLANNER_HTTP_PORT", "TP_HTTP_PORT"}, 53000),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"TASKPLANNER_DB_BACKEND", "TP_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"TASKPLANNER_DB_DSN", "TP_DB_DSN"}, "tasks.db"),
		JWTSigningKey: getEnvAny([]string{"TASKPLANNER_JWT_SIGNING_KEY", "TP_JWT_SIGNING_KEY"}, ""),
		SessionTTL:    time.Duration(getEnvIntAny([]string{"TASKPLANNER_SESSION_TTL_HOURS", "TP_SESSION_TTL_HOURS"}, 24*7)) * time.Hour,
		AppPassword:   getEnvAny([]string{"TASKPLANNER_APP_PASSWORD", "APP_PASSWORD"}, ""),
		MetricsBind:   getEnvAny([]string{"TASKPLANNER_METRICS_BIND", "TP_METRICS_BIND"}, "127.0.0.1:9000"),

		Timezone: getEnvAny([]string{"TASKPLANNER_TIMEZONE", "TP_TIMEZONE", "TZ"}, "Local"),

		AIAPIKey:         getEnvAny([]string{"TASKPLANNER_AI_API_KEY", "AI_API_KEY", "ANTHROPIC_API_KEY"}, ""),
		AIAPIBaseURL:     getEnvAny([]string{"TASKPLANNER_AI_API_BASE_URL", "AI_API_BASE_URL"}, "https://api.openai.com/v1/"),
		AIModel:          getEnvAny([]string{"TASKPLANNER_AI_MODEL", "AI_MODEL"}, "gpt-3.5-turbo"),
		AIRatePerMinute:  getEnvIntAny([]string{"TASKPLANNER_AI_RATE_PER_MINUTE", "TP_AI_RATE_PER_MINUTE"}, 20),
		SystemPromptFile: getEnvAny([]string{"TASKPLANNER_SYSTEM_PROMPT_FILE", "TP_SYSTEM_PROMPT_FILE"}, "prompt.md"),

		SpacesFile: getEnvAny([]string{"TASKPLANNER_SPACES_FILE", "TP_SPACES_FILE"}, ""),

		CalendarDaysAhead:    getEnvIntAny([]string{"TASKPLANNER_CALENDAR_DAYS_AHEAD", "TP_CALENDAR_DAYS_AHEAD"}, 30),
		CalendarFetchTimeout: getEnvDurationAny([]string{"TASKPLANNER_CALENDAR_FETCH_TIMEOUT", "TP_CALENDAR_FETCH_TIMEOUT"}, 10*time.Second),
		CalendarCacheTTL:     getEnvDurationAny([]string{"TASKPLANNER_CALENDAR_CACHE_TTL", "TP_CALENDAR_CACHE_TTL"}, 5*time.Minute),

		AutoScheduleCron: getEnvAny([]string{"TASKPLANNER_AUTOSCHEDULE_CRON", "TP_AUTOSCHEDULE_CRON"}, ""),

		LeaderElectionEnabled: getEnvBoolAny([]string{"TASKPLANNER_LEADER_ELECTION_ENABLED", "TP_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"TASKPLANNER_REDIS_ADDR", "TP_REDIS_ADDR"}, ""),
		RedisPassword:         getEnvAny([]string{"TASKPLANNER_REDIS_PASSWORD", "TP_REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"TASKPLANNER_REDIS_DB", "TP_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"TASKPLANNER_INSTANCE_ID", "TP_INSTANCE_ID"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"TASKPLANNER_TRACING_ENABLED", "TP_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TASKPLANNER_OTLP_ENDPOINT", "TP_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TASKPLANNER_TRACING_SAMPLE_RATE", "TP_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("TASKPLANNER_DB_DSN or TP_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("TASKPLANNER_JWT_SIGNING_KEY or TP_JWT_SIGNING_KEY must be provided")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if cfg.CalendarDaysAhead <= 0 {
		return nil, fmt.Errorf("calendar days ahead must be positive, got %d", cfg.CalendarDaysAhead)
	}

	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("TASKPLANNER_REDIS_ADDR is required when leader election is enabled")
	}

	if cfg.IsProduction() {
		if cfg.AppPassword == "" || cfg.AppPassword == "admin" {
			return nil, fmt.Errorf("TASKPLANNER_APP_PASSWORD must be set to a non-default value in production")
		}
	} else if cfg.AppPassword == "" {
		cfg.AppPassword = "admin"
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"SECRET_KEY":        "use TASKPLANNER_JWT_SIGNING_KEY",
		"FLASK_ENV":         "use TASKPLANNER_ENV",
		"ANTHROPIC_API_KEY": "use TASKPLANNER_AI_API_KEY (or AI_API_KEY)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// IsProduction reports whether the process runs with production settings.
func (c *Config) IsProduction() bool {
	return c != nil && strings.EqualFold(c.Environment, "production")
}

// AIEnabled reports whether natural-language task extraction is configured.
func (c *Config) AIEnabled() bool {
	return c != nil && c.AIAPIKey != ""
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go duration strings ("90s", "5m") or plain seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
