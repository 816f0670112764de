package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Remote      RemoteConfig
	Log         LogConfig
	Maintenance MaintenanceConfig
	Settings    SettingsConfig
}

type ServerConfig struct {
	Port int
	// APIToken overrides the generated token in <data>/api-token.
	APIToken string
}

type StorageConfig struct {
	DataDir string
	// Backend is "auto", "sqlite" or "flatfile".
	Backend       string
	FlatFileLimit int
}

type RemoteConfig struct {
	URL string
	// Timeout of zero means requests never time out.
	Timeout time.Duration
	// RateLimit caps bulk writes per second; zero is unlimited.
	RateLimit float64
}

type LogConfig struct {
	Level string
}

type MaintenanceConfig struct {
	// Schedule is a cron spec; empty disables scheduled maintenance.
	Schedule string
}

type SettingsConfig struct {
	CacheTTL time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8787,
		},
		Storage: StorageConfig{
			DataDir:       defaultDataDir(),
			Backend:       "auto",
			FlatFileLimit: 5 << 20,
		},
		Remote: RemoteConfig{
			RateLimit: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Maintenance: MaintenanceConfig{
			Schedule: "@daily",
		},
		Settings: SettingsConfig{
			CacheTTL: time.Minute,
		},
	}
}

// Load reads configuration in layers: defaults, then the TOML file at
// ConfigFilePath, then variables from a .env file in the working
// directory, then THREADMARK_* environment variables. Variables already
// set in the environment win over .env.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadFromPath(ConfigFilePath())
}

func loadFromPath(path string) (Config, error) {
	b, err := newFileBackend(path)
	if err != nil {
		return Config{}, err
	}
	return loadWith(b)
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch c.Storage.Backend {
	case "auto", "sqlite", "flatfile":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be auto, sqlite or flatfile, got %q", c.Storage.Backend))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is empty"))
	}
	if c.Storage.FlatFileLimit <= 0 {
		errs = append(errs, fmt.Errorf("storage.flatfile_limit must be positive, got %d", c.Storage.FlatFileLimit))
	}
	if c.Remote.URL != "" && !strings.HasPrefix(c.Remote.URL, "http://") && !strings.HasPrefix(c.Remote.URL, "https://") {
		errs = append(errs, fmt.Errorf("remote.url must be an http(s) URL, got %q", c.Remote.URL))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, fmt.Errorf("remote.timeout must not be negative, got %s", c.Remote.Timeout))
	}
	if c.Remote.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("remote.rate_limit must not be negative, got %v", c.Remote.RateLimit))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
