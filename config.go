package sessionstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultCollection is the collection used when Config.Collection is empty.
	DefaultCollection = "express-session"
	// DefaultIndex is the index used when Config.Index is empty.
	DefaultIndex = "express-session-by-session-id"
	// DefaultTimeout bounds each executor call when Config.Timeout is zero.
	DefaultTimeout = 5 * time.Second
)

// Config holds the store configuration.
type Config struct {
	// Collection is the collection holding session documents.
	Collection string `validate:"required"`

	// Index is the secondary index over the sid field.
	Index string `validate:"required"`

	// Credential is the database secret. It has no default.
	Credential string `validate:"required"`

	// Timeout bounds every executor call. Zero takes DefaultTimeout;
	// negative disables the bound.
	Timeout time.Duration
}

// DefaultConfig returns the documented defaults. Credential is left empty.
func DefaultConfig() Config {
	return Config{
		Collection: DefaultCollection,
		Index:      DefaultIndex,
		Timeout:    DefaultTimeout,
	}
}

// MergeConfig returns cfg with every unset field taken from DefaultConfig.
func MergeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.Index == "" {
		cfg.Index = def.Index
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return cfg
}

// Validate checks cfg and returns an error wrapping ErrInvalidConfig.
func (cfg Config) Validate() error {
	cfg.Credential = strings.TrimSpace(cfg.Credential)
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", strings.ToLower(e.Field())))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", strings.ToLower(e.Field()), e.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}
