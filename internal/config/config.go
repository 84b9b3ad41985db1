package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gregtusar/arbsync/pkg/secrets"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GCP       GCPConfig       `mapstructure:"gcp"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type SocketConfig struct {
	URL               string        `mapstructure:"url"`
	Path              string        `mapstructure:"path"`
	Namespace         string        `mapstructure:"namespace"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectDelayMin time.Duration `mapstructure:"reconnect_delay_min"`
	ReconnectDelayMax time.Duration `mapstructure:"reconnect_delay_max"`
	ReconnectFactor   float64       `mapstructure:"reconnect_factor"`
}

type FreshnessConfig struct {
	StaleWindow time.Duration `mapstructure:"stale_window"`
}

type StorageConfig struct {
	Backend      string        `mapstructure:"backend"` // "file", "redis" or "memory"
	Path         string        `mapstructure:"path"`
	Key          string        `mapstructure:"key"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Redis        RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/arbsync")
	}

	// Read environment variables, e.g. ARBSYNC_SOCKET_URL
	v.SetEnvPrefix("ARBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	// Socket defaults
	v.SetDefault("socket.url", "http://localhost:5000")
	v.SetDefault("socket.path", "/socket.io/")
	v.SetDefault("socket.namespace", "/")
	v.SetDefault("socket.connect_timeout", 10*time.Second)
	v.SetDefault("socket.reconnect_delay_min", time.Second)
	v.SetDefault("socket.reconnect_delay_max", 5*time.Second)
	v.SetDefault("socket.reconnect_factor", 2.0)

	v.SetDefault("freshness.stale_window", 3*time.Second)

	// Storage defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.key", "highest_profit_data")
	v.SetDefault("storage.write_timeout", 5*time.Second)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "arbsync:")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 14)

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")
	v.SetDefault("gcp.secret_names.redis_password", secrets.DefaultSecretNames().RedisPassword)
}

func overrideFromEnv(config *Config) {
	if serverURL := os.Getenv("ARBSYNC_BACKEND_URL"); serverURL != "" {
		config.Socket.URL = serverURL
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}

	// GCP configuration from environment
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func (c *Config) Validate() error {
	if c.Socket.URL == "" {
		return fmt.Errorf("socket.url is required")
	}
	if _, err := url.Parse(c.Socket.URL); err != nil {
		return fmt.Errorf("socket.url is invalid: %w", err)
	}
	if c.Socket.ReconnectDelayMin <= 0 || c.Socket.ReconnectDelayMax <= 0 {
		return fmt.Errorf("socket reconnect delays must be positive")
	}
	if c.Socket.ReconnectDelayMin > c.Socket.ReconnectDelayMax {
		return fmt.Errorf("socket.reconnect_delay_min (%s) exceeds socket.reconnect_delay_max (%s)",
			c.Socket.ReconnectDelayMin, c.Socket.ReconnectDelayMax)
	}
	if c.Freshness.StaleWindow <= 0 {
		return fmt.Errorf("freshness.stale_window must be positive")
	}
	switch c.Storage.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	return nil
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets if they're not already set
	if config.Storage.Redis.Password == "" {
		config.Storage.Redis.Password = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.RedisPassword, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
