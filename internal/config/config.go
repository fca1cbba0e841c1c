// Package config loads branchline's runtime configuration from an optional
// YAML file overlaid with environment variables. Environment variables
// always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GraphConfig holds the Postgres-backed graph store connection settings.
type GraphConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// DSN builds a libpq connection string from the discrete GRAPH_* settings.
func (g GraphConfig) DSN() string {
	host, port, name := g.Host, g.Port, g.Name
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	if name == "" {
		name = "branchline"
	}
	userinfo := ""
	if g.User != "" {
		userinfo = g.User
		if g.Pass != "" {
			userinfo += ":" + g.Pass
		}
		userinfo += "@"
	}
	return fmt.Sprintf("postgres://%s%s:%d/%s?sslmode=disable", userinfo, host, port, name)
}

// LLMConfig holds the provider-agnostic LLM credentials.
// Provider selects which internal/llm implementation backs the
// LLMAdapter contract ("anthropic", "openai", "google", or "mock");
// it defaults to mock so the server boots without external credentials.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// AuthConfig holds the shared-secret bearer-token settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ObsConfig configures the OpenTelemetry exporters in
// internal/observability.InitOTel. Left with an empty OTLP endpoint,
// InitOTel declines to start and the server runs without tracing/metrics.
type ObsConfig struct {
	OTLP           string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// ClickHouseConfig configures internal/telemetry's turn-analytics sink.
type ClickHouseConfig struct {
	DSN            string `yaml:"dsn"`
	Database       string `yaml:"database"`
	MetricsTable   string `yaml:"metrics_table"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Graph       GraphConfig `yaml:"graph"`
	LLM         LLMConfig   `yaml:"llm"`
	Auth        AuthConfig  `yaml:"auth"`
	Obs         ObsConfig   `yaml:"obs"`
	APIHost     string      `yaml:"api_host"`
	APIPort     int         `yaml:"api_port"`
	CORSOrigins []string    `yaml:"cors_origins"`
	LogLevel    string      `yaml:"log_level"`
	Debug       bool        `yaml:"debug"`

	// RedisAddr, KafkaBrokers, VectorDSN configure optional domain-stack
	// collaborators (cross-instance fan-out, async job dispatch,
	// embeddings). Empty disables each.
	RedisAddr    string           `yaml:"redis_addr"`
	KafkaBrokers string           `yaml:"kafka_brokers"`
	ClickHouse   ClickHouseConfig `yaml:"clickhouse"`
	VectorDSN    string           `yaml:"vector_dsn"`
}

// Load first applies .env via godotenv.Overload (its values replace
// variables already set in the environment), then reads config.yaml (if
// present), then overlays environment variables, so local development does
// not require exporting every variable by hand. example.env is not read here.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		APIHost:  "0.0.0.0",
		APIPort:  8432,
		LogLevel: "info",
		LLM:      LLMConfig{Provider: "mock"},
		Obs: ObsConfig{
			ServiceName:    "branchlined",
			ServiceVersion: "dev",
			Environment:    "development",
		},
	}

	if data, err := os.ReadFile("config.yaml"); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("GRAPH_HOST")); v != "" {
		cfg.Graph.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("GRAPH_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Graph.Port = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("GRAPH_NAME")); v != "" {
		cfg.Graph.Name = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_API_KEY")); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_MODEL")); v != "" {
		cfg.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("LLM_PROVIDER")); v != "" {
		cfg.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("API_HOST")); v != "" {
		cfg.APIHost = v
	}
	if v := strings.TrimSpace(os.Getenv("API_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.APIPort = p
		}
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGINS")); v != "" {
		cfg.CORSOrigins = parseCORSOrigins(v)
	}
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET")); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("DEBUG")); v != "" {
		cfg.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_ADDR")); v != "" {
		cfg.RedisAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DSN")); v != "" {
		cfg.ClickHouse.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("CLICKHOUSE_DATABASE")); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("VECTOR_DSN")); v != "" {
		cfg.VectorDSN = v
	}
	if v := strings.TrimSpace(os.Getenv("OTLP_ENDPOINT")); v != "" {
		cfg.Obs.OTLP = v
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")); v != "" {
		cfg.Obs.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("DEPLOY_ENVIRONMENT")); v != "" {
		cfg.Obs.Environment = v
	}

	return cfg, nil
}

// parseCORSOrigins accepts either a JSON array or a comma-separated list.
func parseCORSOrigins(v string) []string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "[") {
		var out []string
		if err := yaml.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
