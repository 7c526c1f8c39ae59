// Package config loads process settings for the sessionstore command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/creastat/sessionstore"
)

// Settings is the top-level configuration of the sessionstore command.
type Settings struct {
	// Driver selects the executor backend.
	Driver string `yaml:"driver" mapstructure:"driver" validate:"required,oneof=memory redis mongo qdrant supabase"`

	// Collection holds the session documents. Defaults to "express-session".
	Collection string `yaml:"collection" mapstructure:"collection"`

	// Index is the sid index over Collection.
	Index string `yaml:"index" mapstructure:"index"`

	// Credential is the database secret. For Redis it is the password, for
	// Mongo the password of Mongo.Username, for Qdrant and Supabase the API key.
	Credential string `yaml:"credential" mapstructure:"credential" validate:"required"`

	// Timeout bounds each database call (e.g. "5s").
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	Redis    RedisSettings    `yaml:"redis" mapstructure:"redis"`
	Mongo    MongoSettings    `yaml:"mongo" mapstructure:"mongo"`
	Qdrant   QdrantSettings   `yaml:"qdrant" mapstructure:"qdrant"`
	Supabase SupabaseSettings `yaml:"supabase" mapstructure:"supabase"`
}

type RedisSettings struct {
	Addr      string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	DB        int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

type MongoSettings struct {
	URI      string `yaml:"uri" mapstructure:"uri" validate:"omitempty,startswith=mongodb"`
	Database string `yaml:"database" mapstructure:"database"`
	Username string `yaml:"username" mapstructure:"username"`
}

type QdrantSettings struct {
	URL string `yaml:"url" mapstructure:"url"`
}

type SupabaseSettings struct {
	URL      string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	CacheTTL string `yaml:"cache_ttl" mapstructure:"cache_ttl"`
}

// SetDefaults applies default values to unset fields.
func (s *Settings) SetDefaults() {
	if s.Driver == "" {
		s.Driver = "memory"
	}
	if s.Collection == "" {
		s.Collection = sessionstore.DefaultCollection
	}
	if s.Index == "" {
		s.Index = sessionstore.DefaultIndex
	}
	if s.Timeout == "" {
		s.Timeout = sessionstore.DefaultTimeout.String()
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}

	if s.Redis.Addr == "" {
		s.Redis.Addr = "localhost:6379"
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = "sessionstore:"
	}
	if s.Mongo.URI == "" {
		s.Mongo.URI = "mongodb://localhost:27017"
	}
	if s.Mongo.Database == "" {
		s.Mongo.Database = "sessionstore"
	}
	if s.Supabase.CacheTTL == "" {
		s.Supabase.CacheTTL = "5m"
	}
}

// Validate checks struct tags and the settings the chosen driver needs.
func (s *Settings) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(s); err != nil {
		return formatValidationErrors(err)
	}

	if _, err := parseDuration("timeout", s.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("supabase.cache_ttl", s.Supabase.CacheTTL); err != nil {
		return err
	}

	switch s.Driver {
	case "qdrant":
		if s.Qdrant.URL == "" {
			return errors.New("qdrant.url is required when driver is qdrant")
		}
	case "supabase":
		if s.Supabase.URL == "" {
			return errors.New("supabase.url is required when driver is supabase")
		}
	}
	return nil
}

// StoreConfig returns the store configuration described by s.
func (s *Settings) StoreConfig() sessionstore.Config {
	timeout, _ := parseDuration("timeout", s.Timeout)
	return sessionstore.Config{
		Collection: s.Collection,
		Index:      s.Index,
		Credential: s.Credential,
		Timeout:    timeout,
	}
}

// CacheTTL returns the parsed Supabase index cache TTL.
func (s *Settings) CacheTTL() time.Duration {
	ttl, _ := parseDuration("supabase.cache_ttl", s.Supabase.CacheTTL)
	return ttl
}

// Level returns the slog level for LogLevel.
func (s *Settings) Level() slog.Level {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, value)
	}
	return d, nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
