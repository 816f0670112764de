package hub

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the environment variable prefix for hub settings.
const EnvPrefix = "THREADMARK_HUB"

// Config holds hub settings, read from THREADMARK_HUB_* variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8790"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Store selects the document store: sqlite, postgres or mongo.
	Store         string `envconfig:"STORE" default:"sqlite"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"./data/hub.db"`
	DatabaseURL   string `envconfig:"DATABASE_URL" default:""`
	MongoURI      string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase string `envconfig:"MONGODB_DATABASE" default:"threadmark"`

	JWTSecret string        `envconfig:"JWT_SECRET" default:""`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"12h"`

	// IdentityCacheTTL bounds how long a disabled user keeps working.
	IdentityCacheTTL time.Duration `envconfig:"IDENTITY_CACHE_TTL" default:"1m"`

	NatsURL   string `envconfig:"NATS_URL" default:""`
	NatsToken string `envconfig:"NATS_TOKEN" default:""`
}

// LoadConfig reads the hub configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	switch c.Store {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("%s_SQLITE_PATH is required for the sqlite store", EnvPrefix)
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("%s_DATABASE_URL is required for the postgres store", EnvPrefix)
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("%s_MONGODB_URI is required for the mongo store", EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported %s_STORE %q (want sqlite, postgres or mongo)", EnvPrefix, c.Store)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%s_JWT_SECRET must be at least 32 bytes", EnvPrefix)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%s_TOKEN_TTL must be positive", EnvPrefix)
	}
	return nil
}
