package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Store       StoreConfig       `mapstructure:"store"`
	Replication ReplicationConfig `mapstructure:"replication"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// StoreConfig contains log store configuration
type StoreConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	RotateBytes int64  `mapstructure:"rotate_bytes"`
}

// ReplicationConfig contains remote replication configuration
type ReplicationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Mode             string        `mapstructure:"mode"` // sync, async
	BatchSize        int           `mapstructure:"batch_size"`
	Workers          int           `mapstructure:"workers"`
	UploadTimeout    time.Duration `mapstructure:"upload_timeout"`
	BackendType      string        `mapstructure:"backend_type"` // sqlite, postgres, memory
	ConnectionString string        `mapstructure:"connection_string"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains operational logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables. Each call
// works on a fresh viper instance so repeated loads never see stale state.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	v.SetEnvPrefix("CHAINLOG")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if dataDir := os.Getenv("CHAINLOG_DATA_DIR"); dataDir != "" {
		config.Store.DataDir = dataDir
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Replication.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "chainlog")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	// Store defaults
	v.SetDefault("store.data_dir", "./logs")
	v.SetDefault("store.rotate_bytes", 100*1024*1024) // 100MB

	// Replication defaults
	v.SetDefault("replication.enabled", false)
	v.SetDefault("replication.mode", "async")
	v.SetDefault("replication.batch_size", 10)
	v.SetDefault("replication.workers", 4)
	v.SetDefault("replication.upload_timeout", "30s")
	v.SetDefault("replication.backend_type", "sqlite")
	v.SetDefault("replication.connection_string", "./data/replica.db")

	// Server defaults
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.enable_metrics", true)
	v.SetDefault("server.enable_health", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store data directory is required")
	}
	if c.Store.RotateBytes <= 0 {
		return fmt.Errorf("store rotate size must be positive")
	}
	if c.Replication.Enabled {
		if c.Replication.Mode != "sync" && c.Replication.Mode != "async" {
			return fmt.Errorf("replication mode must be sync or async")
		}
		if c.Replication.BatchSize <= 0 {
			return fmt.Errorf("replication batch size must be positive")
		}
		if c.Replication.Workers <= 0 {
			return fmt.Errorf("replication workers must be positive")
		}
		if c.Replication.ConnectionString == "" && c.Replication.BackendType != "memory" {
			return fmt.Errorf("replication connection string is required")
		}
	}
	return nil
}
