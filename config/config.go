package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	StorageNATS   = "nats"
	StorageMemory = "memory"
)

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

type Config struct {
	Server struct {
		Host            string    `mapstructure:"host"`
		Port            int       `mapstructure:"port"`
		TLS             TLSConfig `mapstructure:"tls"`
		ShutdownTimeout int       `mapstructure:"shutdown_timeout"` // seconds
	} `mapstructure:"server"`
	Protocol struct {
		MaxFrameSize        int    `mapstructure:"max_frame_size"`
		SubscriptionCredit  int64  `mapstructure:"subscription_credit"`
		QueryCredit         int64  `mapstructure:"query_credit"`
		WriteQueueSize      int    `mapstructure:"write_queue_size"`
		SkipUnknownFrames   bool   `mapstructure:"skip_unknown_frames"`
		SkipMalformedFrames bool   `mapstructure:"skip_malformed_frames"`
		Version             string `mapstructure:"version"`
	} `mapstructure:"protocol"`
	Storage struct {
		Provider      string    `mapstructure:"provider"`
		URL           string    `mapstructure:"url"`
		StreamStorage string    `mapstructure:"stream_storage"`
		TLS           TLSConfig `mapstructure:"tls"`
	} `mapstructure:"storage"`
	Valkey struct {
		Addr         []string `mapstructure:"addr"`
		DisableCache bool     `mapstructure:"disable_cache"`
	} `mapstructure:"valkey"`
	Auth struct {
		Tokens []string `mapstructure:"tokens"`
	} `mapstructure:"auth"`
	Health struct {
		Enabled       bool   `mapstructure:"enabled"`
		Port          int    `mapstructure:"port"`
		ReadinessPath string `mapstructure:"readiness_path"`
		LivenessPath  string `mapstructure:"liveness_path"`
		MetricsPath   string `mapstructure:"metrics_path"`
		WebSocketPath string `mapstructure:"websocket_path"`
	} `mapstructure:"health"`
	Log struct {
		File  string `mapstructure:"file"`
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7451)
	v.SetDefault("server.shutdown_timeout", 30)
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("protocol.max_frame_size", 16*1024*1024)
	v.SetDefault("protocol.subscription_credit", 1024*1024)
	v.SetDefault("protocol.query_credit", 1024*1024)
	v.SetDefault("protocol.write_queue_size", 1024)
	v.SetDefault("protocol.skip_unknown_frames", false)
	v.SetDefault("protocol.skip_malformed_frames", false)
	v.SetDefault("protocol.version", "0.1")
	v.SetDefault("storage.provider", StorageNATS)
	v.SetDefault("storage.url", "nats://127.0.0.1:4222")
	v.SetDefault("storage.stream_storage", "file")
	v.SetDefault("storage.tls.enabled", false)
	v.SetDefault("valkey.addr", []string{"127.0.0.1:6379"})
	v.SetDefault("valkey.disable_cache", false)
	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.port", 8081)
	v.SetDefault("health.readiness_path", "/health/ready")
	v.SetDefault("health.liveness_path", "/health/live")
	v.SetDefault("health.metrics_path", "/metrics")
	v.SetDefault("health.websocket_path", "/ws")
	v.SetDefault("log.file", "evwire.log")
	v.SetDefault("log.level", "info")
}

func Load(cfgFile, env string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// If config file passed via CLI flag
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Read main config
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	// Merge environment-specific config (config.prod.yaml, etc.) from the
	// directory of the main file
	if env != "" {
		used := v.ConfigFileUsed()
		v.SetConfigFile(filepath.Join(filepath.Dir(used), fmt.Sprintf("config.%s%s", env, filepath.Ext(used))))
		_ = v.MergeInConfig() // optional, ignore error if not found
	}

	// Environment overrides
	v.SetEnvPrefix("EVWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case StorageNATS, StorageMemory:
	default:
		return fmt.Errorf("invalid config: unknown storage provider %q", c.Storage.Provider)
	}
	switch c.Storage.StreamStorage {
	case "file", "memory":
	default:
		return fmt.Errorf("invalid config: unknown stream storage %q", c.Storage.StreamStorage)
	}
	if c.Protocol.MaxFrameSize <= 4 {
		return fmt.Errorf("invalid config: protocol.max_frame_size must exceed 4")
	}
	if c.Protocol.SubscriptionCredit <= 0 || c.Protocol.QueryCredit <= 0 {
		return fmt.Errorf("invalid config: credit windows must be positive")
	}
	return nil
}
