package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTP      HTTP
	Database  Database
	Redis     Redis
	Auth      Auth
	S3        S3
	Youtube   Youtube
	Presence  Presence
	RateLimit RateLimit
	Log       Log
}

type HTTP struct {
	Address      string        `envconfig:"ADDRESS" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	// Comma separated list, "*" allows every origin
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
}

type Database struct {
	Driver     string `envconfig:"DRIVER" default:"postgres"`
	URL        string `envconfig:"URL"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"data/syncroom.db"`
}

type Redis struct {
	URL      string `envconfig:"URL" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD"`
}

type Auth struct {
	Secret   string        `envconfig:"SECRET"`
	TokenTTL time.Duration `envconfig:"TOKEN_TTL" default:"720h"`
}

type S3 struct {
	Endpoint  string `envconfig:"ENDPOINT"`
	AccessKey string `envconfig:"ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"SECRET_KEY" default:"minioadmin"`
	Bucket    string `envconfig:"BUCKET" default:"syncroom-thumbnails"`
	Region    string `envconfig:"REGION" default:"us-east-1"`
	UseSSL    bool   `envconfig:"USE_SSL" default:"false"`
}

type Youtube struct {
	APIKey string `envconfig:"API_KEY"`
}

type Presence struct {
	Dedupe bool `envconfig:"DEDUPE" default:"true"`
}

type RateLimit struct {
	QueueAppends int           `envconfig:"QUEUE_APPENDS" default:"30"`
	RoomEvents   int           `envconfig:"ROOM_EVENTS" default:"120"`
	Window       time.Duration `envconfig:"WINDOW" default:"1m"`
}

type Log struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"console"`
}

// Load reads an optional .env file and then the process environment
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "failed to load .env")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that depend on each other
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("DATABASE_SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return errors.Errorf("unknown DATABASE_DRIVER %q", c.Database.Driver)
	}

	if len(c.Auth.Secret) < 16 {
		return errors.New("AUTH_SECRET must be at least 16 characters")
	}

	if c.RateLimit.Window <= 0 {
		return errors.New("RATELIMIT_WINDOW must be positive")
	}

	return nil
}
