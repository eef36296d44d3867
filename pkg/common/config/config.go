package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds configuration for the pipewright server
type ServerConfig struct {
	NodeID         string
	BindAddr       string
	RESTPort       int
	GRPCPort       int
	LogLevel       string
	MongoURI       string
	Database       string
	SchemaFile     string
	RequestTimeout time.Duration
	CacheSize      int
	CacheMaxStages int64
	CacheTTL       time.Duration
	CacheCleanup   time.Duration // 0 disables the expired pipeline sweep
	Compiler       CompilerSettings
}

// LoadServerConfig loads server configuration from file, environment and
// defaults, in that order of precedence
func LoadServerConfig(cfgFile string) (*ServerConfig, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("node_id", getHostname())
	v.SetDefault("bind_addr", "0.0.0.0")
	v.SetDefault("rest_port", 9200)
	v.SetDefault("grpc_port", 9302)
	v.SetDefault("log_level", "info")
	v.SetDefault("mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("database", "pipewright")
	v.SetDefault("schema_file", "schema.yaml")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("cache.size", 1000)
	v.SetDefault("cache.max_stages", 50000)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.cleanup_interval", "1m")
	setCompilerDefaults(v)

	// Load config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pipewright")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/pipewright/")
		v.AddConfigPath("$HOME/.pipewright/")
		v.AddConfigPath(".")
	}

	// Read environment variables
	v.SetEnvPrefix("PIPEWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	settings := compilerSettingsFrom(v)
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		NodeID:         v.GetString("node_id"),
		BindAddr:       v.GetString("bind_addr"),
		RESTPort:       v.GetInt("rest_port"),
		GRPCPort:       v.GetInt("grpc_port"),
		LogLevel:       v.GetString("log_level"),
		MongoURI:       v.GetString("mongo_uri"),
		Database:       v.GetString("database"),
		SchemaFile:     v.GetString("schema_file"),
		RequestTimeout: v.GetDuration("request_timeout"),
		CacheSize:      v.GetInt("cache.size"),
		CacheMaxStages: v.GetInt64("cache.max_stages"),
		CacheTTL:       v.GetDuration("cache.ttl"),
		CacheCleanup:   v.GetDuration("cache.cleanup_interval"),
		Compiler:       settings,
	}

	return cfg, nil
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
