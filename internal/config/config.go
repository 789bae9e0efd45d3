package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Discogs DiscogsConfig `mapstructure:"discogs"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// DiscogsConfig holds the registered consumer app keys.
// Register at https://www.discogs.com/settings/developers.
type DiscogsConfig struct {
	ConsumerKey    string `mapstructure:"consumer_key"`
	ConsumerSecret string `mapstructure:"consumer_secret"`
	BaseURL        string `mapstructure:"base_url"`
}

// StorageConfig holds local data paths
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// SyncConfig holds sync-engine tuning
type SyncConfig struct {
	PageSize              int           `mapstructure:"page_size"`
	DetailBatchSize       int           `mapstructure:"detail_batch_size"`
	ForegroundBatchCap    int           `mapstructure:"foreground_batch_cap"`
	BatchPause            time.Duration `mapstructure:"batch_pause"`
	BackgroundMaxReleases int           `mapstructure:"background_max_releases"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Discogs: DiscogsConfig{
			ConsumerKey:    "",
			ConsumerSecret: "",
			BaseURL:        "",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Sync: SyncConfig{
			PageSize:              100,
			DetailBatchSize:       10,
			ForegroundBatchCap:    30,
			BatchPause:            time.Second,
			BackgroundMaxReleases: 100,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultDataDir returns the default data directory for the current OS
func defaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "digs")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "digs")
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	return filepath.Join(defaultDataDir(), "digs.log")
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "digs")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "digs")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides
	viper.SetEnvPrefix("DIGS")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()

	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to ensure correct key names (snake_case)
	viper.Set("discogs.consumer_key", cfg.Discogs.ConsumerKey)
	viper.Set("discogs.consumer_secret", cfg.Discogs.ConsumerSecret)
	viper.Set("discogs.base_url", cfg.Discogs.BaseURL)

	viper.Set("storage.data_dir", cfg.Storage.DataDir)

	viper.Set("sync.page_size", cfg.Sync.PageSize)
	viper.Set("sync.detail_batch_size", cfg.Sync.DetailBatchSize)
	viper.Set("sync.foreground_batch_cap", cfg.Sync.ForegroundBatchCap)
	viper.Set("sync.batch_pause", cfg.Sync.BatchPause)
	viper.Set("sync.background_max_releases", cfg.Sync.BackgroundMaxReleases)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the Discogs consumer app keys are set
func (c *Config) IsConfigured() bool {
	return c.Discogs.ConsumerKey != "" && c.Discogs.ConsumerSecret != ""
}
