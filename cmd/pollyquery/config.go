package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/alexschlessinger/pollyquery/client"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Default values from environment variables
var (
	defaultAddr          = getEnvOrDefault("POLLYQUERY_ADDR", ":8000")
	defaultDatabase      = getEnvOrDefault("POLLYQUERY_DB", "data.db")
	defaultModel         = getEnvOrDefault("POLLYQUERY_MODEL", "openai/gpt-4o-mini")
	defaultBaseURL       = getEnvOrDefault("POLLYQUERY_BASEURL", "")
	defaultTemperature   = getEnvFloat("POLLYQUERY_TEMP", 0)
	defaultMaxTokens     = getEnvInt("POLLYQUERY_MAXTOKENS", 4096)
	defaultTimeout       = getEnvDuration("POLLYQUERY_TIMEOUT", 60*time.Second)
	defaultToolTimeout   = getEnvDuration("POLLYQUERY_TOOL_TIMEOUT", 30*time.Second)
	defaultMaxIterations = getEnvInt("POLLYQUERY_MAX_ITERATIONS", 10)
	defaultThink         = getEnvOrDefault("POLLYQUERY_THINK", "off")
	defaultPolicy        = getEnvOrDefault("POLLYQUERY_POLICY", "")
	defaultRoute         = getEnvBool("POLLYQUERY_ROUTE", true)
	defaultServer        = getEnvOrDefault("POLLYQUERY_SERVER", client.DefaultBaseURL)
	defaultContext       = getEnvOrDefault("POLLYQUERY_CONTEXT", "default")
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// ServeConfig holds everything `pollyquery serve` needs
type ServeConfig struct {
	Addr          string        `yaml:"addr"`
	Database      string        `yaml:"database"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"baseurl"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"maxtokens"`
	Timeout       time.Duration `yaml:"timeout"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	MaxIterations int           `yaml:"max_iterations"`
	Think         string        `yaml:"think"`
	MCPServers    []string      `yaml:"mcp"`
	Policy        string        `yaml:"policy"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	Route         bool          `yaml:"route"`
	Debug         bool          `yaml:"debug"`
}

func defaultServeConfig() ServeConfig {
	return ServeConfig{
		Addr:          defaultAddr,
		Database:      defaultDatabase,
		Model:         defaultModel,
		BaseURL:       defaultBaseURL,
		Temperature:   defaultTemperature,
		MaxTokens:     defaultMaxTokens,
		Timeout:       defaultTimeout,
		ToolTimeout:   defaultToolTimeout,
		MaxIterations: defaultMaxIterations,
		Think:         defaultThink,
		Policy:        defaultPolicy,
		Route:         defaultRoute,
	}
}

// loadConfigFile reads a YAML config file. Keys left out keep their zero value.
func loadConfigFile(path string) (*ServeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var cfg ServeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// parseServeConfig layers the configuration: environment defaults, then the
// YAML file (non-zero values only), then flags the user actually set
func parseServeConfig(cmd *cli.Command) (*ServeConfig, error) {
	cfg := defaultServeConfig()

	if path := cmd.String("config"); path != "" {
		file, err := loadConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(&cfg, file, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	applyServeFlags(cmd, &cfg)
	return &cfg, nil
}

// applyServeFlags copies explicitly set flags over cfg. Zero values are
// honoured here, unlike in the file merge.
func applyServeFlags(cmd *cli.Command, cfg *ServeConfig) {
	if cmd.IsSet("addr") {
		cfg.Addr = cmd.String("addr")
	}
	if cmd.IsSet("db") {
		cfg.Database = cmd.String("db")
	}
	if cmd.IsSet("model") {
		cfg.Model = cmd.String("model")
	}
	if cmd.IsSet("baseurl") {
		cfg.BaseURL = cmd.String("baseurl")
	}
	if cmd.IsSet("temp") {
		cfg.Temperature = cmd.Float64("temp")
	}
	if cmd.IsSet("maxtokens") {
		cfg.MaxTokens = cmd.Int("maxtokens")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("tool-timeout") {
		cfg.ToolTimeout = cmd.Duration("tool-timeout")
	}
	if cmd.IsSet("max-iterations") {
		cfg.MaxIterations = cmd.Int("max-iterations")
	}
	if cmd.IsSet("think") {
		cfg.Think = cmd.String("think")
	}
	if cmd.IsSet("mcp") {
		cfg.MCPServers = cmd.StringSlice("mcp")
	}
	if cmd.IsSet("policy") {
		cfg.Policy = cmd.String("policy")
	}
	if cmd.IsSet("cors-origin") {
		cfg.CORSOrigins = cmd.StringSlice("cors-origin")
	}
	if cmd.IsSet("route") {
		cfg.Route = cmd.Bool("route")
	}
	if cmd.IsSet("debug") {
		cfg.Debug = cmd.Bool("debug")
	}
}
