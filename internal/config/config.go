package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/joho/godotenv"

	"github.com/souravb-dev/GenAIOps-sub001/internal/executor"
	"github.com/souravb-dev/GenAIOps-sub001/internal/lifecycle"
	"github.com/souravb-dev/GenAIOps-sub001/internal/models"
	"github.com/souravb-dev/GenAIOps-sub001/internal/store"
)

// Risk assessor backends.
const (
	RiskBackendRules  = "rules"
	RiskBackendOpenAI = "openai"
	RiskBackendNone   = "none"
)

// Config holds all configuration for the remediation engine.
type Config struct {
	// Service addresses
	HTTPPort       string
	GRPCPort       string
	HealthPort     string
	NatsURL        string
	EnableEventBus bool

	// Action store
	StoreBackend  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Action execution settings
	MaxConcurrentActions int
	ActionTimeout        int // seconds
	TypeTimeouts         map[models.ActionType]time.Duration
	CLITool              string
	IaCTool              string
	OrchestratorTool     string
	ScriptShell          string
	MaxOutputBytes       int

	// Risk assessment
	RiskBackend   string
	RiskTimeout   time.Duration
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			glog.Infof("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		glog.Infof("No .env file found, using environment variables")
	}

	config := &Config{
		HTTPPort:       getEnvOrDefault("HTTP_PORT", "8084"),
		GRPCPort:       getEnvOrDefault("GRPC_PORT", "50052"),
		HealthPort:     getEnvOrDefault("HEALTH_PORT", "8082"),
		NatsURL:        getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		EnableEventBus: getEnvOrDefault("ENABLE_EVENTBUS", "true") == "true",

		StoreBackend:  getEnvOrDefault("STORE_BACKEND", store.BackendMemory),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseIntOrDefault("REDIS_DB", 0),

		MaxConcurrentActions: parseIntOrDefault("MAX_CONCURRENT_ACTIONS", 10),
		ActionTimeout:        parseIntOrDefault("ACTION_TIMEOUT_SECONDS", 600), // 10 minutes
		TypeTimeouts:         loadTypeTimeouts(),
		CLITool:              getEnvOrDefault("CLI_TOOL", "oci"),
		IaCTool:              getEnvOrDefault("IAC_TOOL", "terraform"),
		OrchestratorTool:     getEnvOrDefault("ORCHESTRATOR_TOOL", "kubectl"),
		ScriptShell:          getEnvOrDefault("SCRIPT_SHELL", "/bin/sh -c"),
		MaxOutputBytes:       parseIntOrDefault("MAX_OUTPUT_BYTES", 64*1024),

		RiskBackend:   getEnvOrDefault("RISK_BACKEND", RiskBackendRules),
		RiskTimeout:   parseDurationOrDefault("RISK_TIMEOUT", 5*time.Second),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}

	if c.GRPCPort == "" {
		return fmt.Errorf("GRPC_PORT is required")
	}

	switch c.StoreBackend {
	case store.BackendMemory:
	case store.BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case store.BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of memory, postgres, redis (got %q)", c.StoreBackend)
	}

	if c.MaxConcurrentActions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_ACTIONS must be at least 1")
	}

	if c.ActionTimeout < 1 {
		return fmt.Errorf("ACTION_TIMEOUT_SECONDS must be at least 1")
	}

	switch c.RiskBackend {
	case RiskBackendRules, RiskBackendNone:
	case RiskBackendOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai risk backend")
		}
	default:
		return fmt.Errorf("RISK_BACKEND must be one of rules, openai, none (got %q)", c.RiskBackend)
	}

	return nil
}

// ExecutorOptions maps the execution settings onto executor.Options.
func (c *Config) ExecutorOptions() executor.Options {
	return executor.Options{
		CLITool:          c.CLITool,
		IaCTool:          c.IaCTool,
		OrchestratorTool: c.OrchestratorTool,
		ScriptShell:      c.ScriptShell,
		DefaultTimeout:   time.Duration(c.ActionTimeout) * time.Second,
		Timeouts:         c.TypeTimeouts,
		MaxOutputBytes:   c.MaxOutputBytes,
	}
}

// LifecycleOptions maps the concurrency settings onto lifecycle.Options.
func (c *Config) LifecycleOptions() lifecycle.Options {
	opts := lifecycle.DefaultOptions()
	opts.MaxConcurrent = int64(c.MaxConcurrentActions)
	return opts
}

// StoreOptions maps the store settings onto store.Options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       c.StoreBackend,
		DatabaseURL:   c.DatabaseURL,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

// loadTypeTimeouts layers TIMEOUT_<TYPE> overrides, e.g. TIMEOUT_INFRA_AS_CODE=45m,
// over the executor defaults.
func loadTypeTimeouts() map[models.ActionType]time.Duration {
	timeouts := make(map[models.ActionType]time.Duration)
	for t, d := range executor.DefaultOptions().Timeouts {
		timeouts[t] = d
	}
	for _, t := range models.ActionTypes {
		key := "TIMEOUT_" + strings.ToUpper(string(t))
		if value := os.Getenv(key); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				glog.Warningf("Ignoring %s=%q: %v", key, value, err)
				continue
			}
			timeouts[t] = d
		}
	}
	return timeouts
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
