package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Library LibraryConfig `mapstructure:"library"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Reader  ReaderConfig  `mapstructure:"reader"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// LibraryConfig holds the book library configuration
type LibraryConfig struct {
	Dir   string `mapstructure:"dir"`   // Directory scanned for book archives
	Watch bool   `mapstructure:"watch"` // Preload books added while running
}

// CacheConfig holds cache budgets and expiry policy
type CacheConfig struct {
	Dir             string  `mapstructure:"dir"`               // Persistent tier directory; empty = memory only
	SectionCacheMB  int     `mapstructure:"section_cache_mb"`  // In-memory section snapshot budget
	ResourceCacheMB int     `mapstructure:"resource_cache_mb"` // In-memory resource byte budget
	ExpiryDays      int     `mapstructure:"expiry_days"`       // 0 = unlimited
	PreloadBudgetMB float64 `mapstructure:"preload_budget_mb"` // Speculative-load estimate cap
}

// ReaderConfig holds reading view configuration
type ReaderConfig struct {
	Mode string `mapstructure:"mode"` // "continuous" or "paginated"
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Library: LibraryConfig{
			Dir:   filepath.Join(home, "Books"),
			Watch: true,
		},
		Cache: CacheConfig{
			Dir:             defaultCachePath(),
			SectionCacheMB:  50,
			ResourceCacheMB: 100,
			ExpiryDays:      30,
			PreloadBudgetMB: 200,
		},
		Reader: ReaderConfig{
			Mode: "continuous",
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "folio", "folio.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "folio", "folio.log")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "folio")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "folio")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "folio", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "folio", "cache")
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
	viper.SetEnvPrefix("FOLIO")
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
	viper.Set("library.dir", cfg.Library.Dir)
	viper.Set("library.watch", cfg.Library.Watch)

	viper.Set("cache.dir", cfg.Cache.Dir)
	viper.Set("cache.section_cache_mb", cfg.Cache.SectionCacheMB)
	viper.Set("cache.resource_cache_mb", cfg.Cache.ResourceCacheMB)
	viper.Set("cache.expiry_days", cfg.Cache.ExpiryDays)
	viper.Set("cache.preload_budget_mb", cfg.Cache.PreloadBudgetMB)

	viper.Set("reader.mode", cfg.Reader.Mode)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ClearCache removes all persisted cache data
func ClearCache() error {
	cachePath := defaultCachePath()
	if err := os.RemoveAll(cachePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// GetCachePath returns the cache directory path
func GetCachePath() string {
	return defaultCachePath()
}
