// Package config loads shiftsync settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, SHIFTSYNC_*
// environment variables. Command-line flags are applied by the CLI on top.
// The result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration.
type Config struct {
	// Database is the device's local SQLite file.
	Database   string       `yaml:"database" validate:"required"`
	Server     ServerConfig `yaml:"server"`
	Remote     RemoteConfig `yaml:"remote"`
	Sync       SyncConfig   `yaml:"sync"`
	PolicyFile string       `yaml:"policy_file"`
}

// ServerConfig configures the authoritative server.
type ServerConfig struct {
	Addr        string        `yaml:"addr" validate:"required,hostname_port"`
	Database    string        `yaml:"database" validate:"required"`
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl" validate:"gte=0"`
	CORSOrigins []string      `yaml:"cors_origins" validate:"dive,url"`
}

// RemoteConfig tells a device where the authoritative server is. An empty
// URL leaves the device permanently offline.
type RemoteConfig struct {
	URL         string        `yaml:"url" validate:"omitempty,http_url"`
	Token       string        `yaml:"token"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	PingTimeout time.Duration `yaml:"ping_timeout" validate:"gt=0"`
}

// SyncConfig tunes the background drain.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	BatchSize   int           `yaml:"batch_size" validate:"gte=1,lte=1000"`
	Concurrency int           `yaml:"concurrency" validate:"gte=1,lte=64"`
	AutoResolve bool          `yaml:"auto_resolve"`
}

// Environment variables read by ApplyEnv.
const (
	EnvDatabase    = "SHIFTSYNC_DATABASE"
	EnvRemoteURL   = "SHIFTSYNC_REMOTE_URL"
	EnvRemoteToken = "SHIFTSYNC_REMOTE_TOKEN"
	EnvJWTSecret   = "SHIFTSYNC_JWT_SECRET"
	EnvAddr        = "SHIFTSYNC_ADDR"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: "shiftsync.db",
		Server: ServerConfig{
			Addr:     ":8080",
			Database: "shiftsync-server.db",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Remote: RemoteConfig{
			Timeout:     30 * time.Second,
			PingTimeout: 2 * time.Second,
		},
		Sync: SyncConfig{
			Interval:    30 * time.Second,
			BatchSize:   10,
			Concurrency: 4,
		},
	}
}

// Load reads path over the defaults, applies the environment and
// validates. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg. Keys absent from data keep their current
// values; unknown keys are an error.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(EnvDatabase, &c.Database)
	set(EnvRemoteURL, &c.Remote.URL)
	set(EnvRemoteToken, &c.Remote.Token)
	set(EnvJWTSecret, &c.Server.JWTSecret)
	set(EnvAddr, &c.Server.Addr)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and reports every violation.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	case "hostname_port":
		return field + " must be host:port"
	case "url", "http_url":
		return field + " must be a URL"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
