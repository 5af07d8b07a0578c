// Package config provides configuration loading for quadrad.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. This package covers the kernel budget, the reasoning
// endpoint, memory backend selection, and observability settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the complete quadrad configuration.
type Config struct {
	Kernel        KernelConfig        `koanf:"kernel"`
	Reasoning     ReasoningConfig     `koanf:"reasoning"`
	Memory        MemoryConfig        `koanf:"memory"`
	Tools         ToolsConfig         `koanf:"tools"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// KernelConfig holds the cycle budget and repair bounds.
type KernelConfig struct {
	// TTL is the default pass budget for a request.
	TTL int `koanf:"ttl"`
	// MaxRepairAttempts bounds step repair before reasoning fallback.
	MaxRepairAttempts int `koanf:"max_repair_attempts"`
	// StepTimeout bounds a single step execution.
	StepTimeout time.Duration `koanf:"step_timeout"`
}

// ReasoningConfig holds the model endpoint settings. BaseURL accepts any
// OpenAI-compatible server.
type ReasoningConfig struct {
	BaseURL     string  `koanf:"base_url"`
	Model       string  `koanf:"model"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

// MemoryConfig selects the memory backend.
type MemoryConfig struct {
	// Backend is "memory" or "nats".
	Backend string `koanf:"backend"`
	NATSURL string `koanf:"nats_url"`
	Bucket  string `koanf:"bucket"`
}

// ToolsConfig holds the MCP tool server settings.
type ToolsConfig struct {
	// MCPCommand, when set, is the stdio MCP server to spawn for the
	// tool inventory.
	MCPCommand string   `koanf:"mcp_command"`
	MCPArgs    []string `koanf:"mcp_args"`
}

// LoggingConfig holds the log level and output format. Level accepts
// trace, debug, info, warn, and error; format is "json" or "console".
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
}

// Load loads configuration from environment variables with defaults.
//
// Environment variables:
//   - KERNEL_TTL: default pass budget (default: 3)
//   - KERNEL_MAX_REPAIR_ATTEMPTS: step repair bound (default: 2)
//   - KERNEL_STEP_TIMEOUT: single step timeout (default: 2m)
//   - REASONING_BASE_URL: OpenAI-compatible endpoint
//   - REASONING_MODEL: model name (default: gpt-4o-mini)
//   - REASONING_API_KEY: endpoint credential
//   - MEMORY_BACKEND: "memory" or "nats" (default: memory)
//   - MEMORY_NATS_URL: NATS server URL (default: nats://localhost:4222)
//   - LOGGING_LEVEL: log level (default: info)
//   - LOGGING_FORMAT: "json" or "console" (default: json)
//   - OTEL_ENABLE: enable OpenTelemetry (default: true)
//   - OTEL_SERVICE_NAME: service name for traces (default: quadrad)
//
// Example:
//
//	cfg := config.Load()
//	fmt.Println("TTL budget:", cfg.Kernel.TTL)
func Load() *Config {
	return &Config{
		Kernel: KernelConfig{
			TTL:               getEnvInt("KERNEL_TTL", 3),
			MaxRepairAttempts: getEnvInt("KERNEL_MAX_REPAIR_ATTEMPTS", 2),
			StepTimeout:       getEnvDuration("KERNEL_STEP_TIMEOUT", 2*time.Minute),
		},
		Reasoning: ReasoningConfig{
			BaseURL: getEnvString("REASONING_BASE_URL", ""),
			Model:   getEnvString("REASONING_MODEL", "gpt-4o-mini"),
			APIKey:  Secret(os.Getenv("REASONING_API_KEY")),
		},
		Memory: MemoryConfig{
			Backend: getEnvString("MEMORY_BACKEND", "memory"),
			NATSURL: getEnvString("MEMORY_NATS_URL", "nats://localhost:4222"),
			Bucket:  getEnvString("MEMORY_BUCKET", "quadra_memory"),
		},
		Tools: ToolsConfig{
			MCPCommand: getEnvString("TOOLS_MCP_COMMAND", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOGGING_LEVEL", "info"),
			Format: getEnvString("LOGGING_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", true),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "quadrad"),
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - TTL budget is below 1
//   - Repair attempt bound is negative
//   - Memory backend is unknown
//   - Log level or format is unknown
//   - Service name is empty when telemetry is enabled
func (c *Config) Validate() error {
	if c.Kernel.TTL < 1 {
		return fmt.Errorf("kernel ttl must be >= 1, got %d", c.Kernel.TTL)
	}
	if c.Kernel.MaxRepairAttempts < 0 {
		return fmt.Errorf("max repair attempts must be >= 0, got %d", c.Kernel.MaxRepairAttempts)
	}
	if c.Kernel.StepTimeout <= 0 {
		return errors.New("step timeout must be positive")
	}

	switch c.Memory.Backend {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown memory backend %q (must be \"memory\" or \"nats\")", c.Memory.Backend)
	}
	if c.Memory.Backend == "nats" && c.Memory.NATSURL == "" {
		return errors.New("nats_url required when memory backend is nats")
	}

	if c.Reasoning.Model == "" {
		return errors.New("reasoning model is required")
	}

	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown log format %q (must be \"json\" or \"console\")", c.Logging.Format)
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
