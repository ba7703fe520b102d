// Package config handles loading and parsing application configuration.
// It supports two sources (in priority order):
//  1. An environment variable:  CONFIG_PATH=/path/to/config.yaml
//  2. A command-line flag:      --config=/path/to/config.yaml
//
// The parsed values are returned as a *Config pointer so the struct is
// shared by reference rather than copied everywhere.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers understood by Storage.Driver.
const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
)

// Config is the root configuration structure.
// Every field maps to a key in the YAML file AND can be overridden
// by the corresponding environment variable (env:"...").
//
// env-required:"true" means the app refuses to start if that value is
// missing.
type Config struct {
	// Env controls log format and verbosity.
	// Valid values: "dev", "staging", "prod"
	Env string `yaml:"env" env:"ENV" env-required:"true"`

	// StaticDir, when set, is served at "/" for the bundled frontend.
	StaticDir string `yaml:"static_dir" env:"STATIC_DIR"`

	HTTPServer `yaml:"http_server"`
	Storage    Storage    `yaml:"storage"`
	CORS       CORS       `yaml:"cors"`
	Validation Validation `yaml:"validation"`
	Metrics    Metrics    `yaml:"metrics"`
}

// HTTPServer holds settings specific to the HTTP server.
// Nested under http_server: in the YAML file.
type HTTPServer struct {
	// Addr is the TCP address the server listens on, e.g. "localhost:5678".
	Addr            string        `yaml:"address"          env:"HTTP_SERVER_ADDR" env-required:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"HTTP_SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"HTTP_SERVER_WRITE_TIMEOUT"    env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"HTTP_SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SERVER_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// Storage selects and configures the record store.
type Storage struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"mongo"`

	// By default the store gets a case-insensitive unique index on the
	// (firstName, lastName) pair so concurrent creates cannot both succeed.
	// SkipUniqueIndex leaves the duplicate lookup as the only check.
	SkipUniqueIndex bool `yaml:"skip_unique_index" env:"STORAGE_SKIP_UNIQUE_INDEX"`

	Mongo  Mongo  `yaml:"mongo"`
	SQLite SQLite `yaml:"sqlite"`
}

type Mongo struct {
	URI            string        `yaml:"uri"             env:"MONGO_URI"             env-default:"mongodb://127.0.0.1:27017/"`
	Database       string        `yaml:"database"        env:"MONGO_DATABASE"        env-default:"FAU"`
	Collection     string        `yaml:"collection"      env:"MONGO_COLLECTION"      env-default:"students"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"MONGO_CONNECT_TIMEOUT" env-default:"10s"`
}

type SQLite struct {
	// Path is the filesystem path to the SQLite .db file.
	Path string `yaml:"path" env:"STORAGE_PATH" env-default:"storage/students.db"`
}

// CORS describes the single browser origin allowed to call the API.
// Credentials are always allowed for it.
type CORS struct {
	AllowedOrigin string `yaml:"allowed_origin" env:"CORS_ALLOWED_ORIGIN" env-default:"http://localhost:3000"`
}

// Validation toggles server-side checks beyond the required names.
// With Strict off, any GPA and any enrollment value are stored as sent.
type Validation struct {
	Strict         bool     `yaml:"strict"          env:"VALIDATION_STRICT"          env-default:"false"`
	MinGPA         float64  `yaml:"min_gpa"         env:"VALIDATION_MIN_GPA"         env-default:"0"`
	MaxGPA         float64  `yaml:"max_gpa"         env:"VALIDATION_MAX_GPA"         env-default:"4"`
	EnrolledValues []string `yaml:"enrolled_values" env:"VALIDATION_ENROLLED_VALUES" env-default:"Yes,No"`
}

type Metrics struct {
	Disabled bool   `yaml:"disabled" env:"METRICS_DISABLED"`
	Path     string `yaml:"path"     env:"METRICS_PATH"     env-default:"/metrics"`
}

// MustLoad reads, validates, and returns the application config.
//
// The name "MustLoad" follows a Go convention: functions prefixed with
// "Must" are allowed to panic/fatal on failure. Callers do not need to
// check a returned error: if this function returns, the config is valid.
func MustLoad() *Config {
	var configPath string

	// ── Source 1: environment variable ───────────────────────────────
	configPath = os.Getenv("CONFIG_PATH")

	// ── Source 2: command-line flag ───────────────────────────────────
	if configPath == "" {
		flags := flag.String("config", "", "Path to the configuration YAML file")
		flag.Parse()
		configPath = *flags
	}

	if configPath == "" {
		log.Fatal("config path is not set: use --config flag or CONFIG_PATH env var")
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	return cfg
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and checks the result.
func Load(path string) (*Config, error) {
	// Verify the file exists before trying to read it, for a clearer
	// message than the "open: no such file" cleanenv would give.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverMongo:
		if c.Storage.Mongo.URI == "" {
			return fmt.Errorf("storage.mongo.uri is required for the %q driver", DriverMongo)
		}
	case DriverSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required for the %q driver", DriverSQLite)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Validation.Strict && c.Validation.MinGPA > c.Validation.MaxGPA {
		return fmt.Errorf("validation.min_gpa (%v) is greater than validation.max_gpa (%v)",
			c.Validation.MinGPA, c.Validation.MaxGPA)
	}

	return nil
}
