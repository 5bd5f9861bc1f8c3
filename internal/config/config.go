package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the five tunables of spec.md §6 plus the provider
// credentials and data directory needed to run the orchestrator as a CLI.
type Config struct {
	DataDir string
	DBPath  string

	MaxContextSize     int
	DefaultChunkSize    int
	MaxRecursionDepth   int
	ExecutionTimeout    time.Duration
	DefaultModel        string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	BaseURLOverride string
}

// fileOverrides is the shape of an optional .rlmrun.yaml override file,
// following the teacher's YAML spec format (internal/spec.Parse in the
// teacher repo) for the same five settings.
type fileOverrides struct {
	MaxContextSize    *int    `yaml:"max_context_size"`
	DefaultChunkSize  *int    `yaml:"default_chunk_size"`
	MaxRecursionDepth *int    `yaml:"max_recursion_depth"`
	ExecutionTimeout  *string `yaml:"execution_timeout"`
	DefaultModel      *string `yaml:"default_model"`
}

// New builds a Config from defaults, then environment variables, then an
// optional .rlmrun.yaml in the current directory, in that precedence
// order (each later source overrides the earlier one), matching the
// teacher's getEnv-with-default pattern extended with a file layer.
func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("RLMRUN_DATA_DIR", filepath.Join(homeDir, ".rlmrun"))

	c := &Config{
		DataDir:           dataDir,
		DBPath:            filepath.Join(dataDir, "rlmrun.db"),
		MaxContextSize:    getEnvInt("MAX_CONTEXT_SIZE", 500000),
		DefaultChunkSize:  getEnvInt("DEFAULT_CHUNK_SIZE", 50000),
		MaxRecursionDepth: getEnvInt("MAX_RECURSION_DEPTH", 10),
		ExecutionTimeout:  getEnvDuration("EXECUTION_TIMEOUT", 300*time.Second),
		DefaultModel:      getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		BaseURLOverride:   os.Getenv("RLMRUN_BASE_URL"),
	}

	if err := c.applyFileOverrides(".rlmrun.yaml"); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) applyFileOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var ov fileOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if ov.MaxContextSize != nil {
		c.MaxContextSize = *ov.MaxContextSize
	}
	if ov.DefaultChunkSize != nil {
		c.DefaultChunkSize = *ov.DefaultChunkSize
	}
	if ov.MaxRecursionDepth != nil {
		c.MaxRecursionDepth = *ov.MaxRecursionDepth
	}
	if ov.ExecutionTimeout != nil {
		d, err := time.ParseDuration(*ov.ExecutionTimeout)
		if err != nil {
			return fmt.Errorf("invalid execution_timeout in %s: %w", path, err)
		}
		c.ExecutionTimeout = d
	}
	if ov.DefaultModel != nil {
		c.DefaultModel = *ov.DefaultModel
	}

	return nil
}

func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	// Bare integers are treated as seconds, matching spec.md §6's
	// "EXECUTION_TIMEOUT default 300s" convention.
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
