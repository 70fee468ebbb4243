// Package config loads application configuration from a YAML file,
// environment variables, and a local .env file, in that order of increasing
// precedence for the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App        App        `mapstructure:"app"`
	Gemini     Gemini     `mapstructure:"gemini"`
	Clustering Clustering `mapstructure:"clustering"`
	Timeline   Timeline   `mapstructure:"timeline"`
	Server     Server     `mapstructure:"server"`
	Feeds      Feeds      `mapstructure:"feeds"`
}

// App holds general application configuration.
type App struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// Gemini holds the LLM/embedding provider configuration.
type Gemini struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	BiasAnalysis   bool   `mapstructure:"bias_analysis"`
}

// Clustering holds the clustering engine parameters.
type Clustering struct {
	Dimensions     int     `mapstructure:"dimensions"`
	Threshold      float64 `mapstructure:"threshold"`
	MergeThreshold float64 `mapstructure:"merge_threshold"`
	Epsilon        float64 `mapstructure:"epsilon"`
}

// Timeline holds the aggregator's timeline projection options.
type Timeline struct {
	BucketHours int  `mapstructure:"bucket_hours"`
	DenseFill   bool `mapstructure:"dense_fill"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Feeds holds the ingestion feed set and freshness window.
type Feeds struct {
	URLs        []string `mapstructure:"urls"`
	MaxAgeHours int      `mapstructure:"max_age_hours"`
	FetchPages  bool     `mapstructure:"fetch_pages"`
}

var globalConfig *Config

// Load loads the configuration. Pass an explicit config file path, or empty
// to search the working directory and $HOME for .narrascope.yaml.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// A local .env is convenient during development (API keys).
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".narrascope")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.SetEnvPrefix("NARRASCOPE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".narrascope")

	viper.SetDefault("gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("gemini.bias_analysis", true)

	viper.SetDefault("clustering.dimensions", 768)
	viper.SetDefault("clustering.threshold", 0.75)
	viper.SetDefault("clustering.merge_threshold", 0.90)
	viper.SetDefault("clustering.epsilon", 1e-9)

	viper.SetDefault("timeline.bucket_hours", 24)
	viper.SetDefault("timeline.dense_fill", false)

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})

	viper.SetDefault("feeds.max_age_hours", 24)
	viper.SetDefault("feeds.fetch_pages", false)
}

func validate(config *Config) error {
	if config.Clustering.Dimensions <= 0 {
		return fmt.Errorf("clustering.dimensions must be positive, got %d", config.Clustering.Dimensions)
	}
	if config.Clustering.Threshold <= 0 || config.Clustering.Threshold > 1 {
		return fmt.Errorf("clustering.threshold must be in (0, 1], got %g", config.Clustering.Threshold)
	}
	if config.Clustering.MergeThreshold < config.Clustering.Threshold {
		return fmt.Errorf("clustering.merge_threshold (%g) must be at least clustering.threshold (%g)",
			config.Clustering.MergeThreshold, config.Clustering.Threshold)
	}
	if config.Timeline.BucketHours <= 0 {
		return fmt.Errorf("timeline.bucket_hours must be positive, got %d", config.Timeline.BucketHours)
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port, got %d", config.Server.Port)
	}
	return nil
}
