// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs in scheduled-time math.
//  2. Load a .env file via godotenv (non-fatal if absent, never overrides
//     existing environment variables).
//  3. Populate the Config struct from envconfig tags.
//  4. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"shovel/internal/types"
)

// ErrorType categorizes configuration loading failures to aid debugging.
type ErrorType string

const (
	// ErrParsing indicates a failure parsing environment variable values
	// into their target types.
	ErrParsing ErrorType = "PARSING_FAILED"
	// ErrValidation indicates the configuration failed struct validation.
	ErrValidation ErrorType = "VALIDATION_FAILED"
)

// LoadError is a diagnostic error type returned by Load.
type LoadError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Load reads, parses, and validates the service configuration from the
// environment. It is called once at startup; failures are fatal.
func Load() (*Config, error) {
	// Scheduled delivery instants are compared against wall-clock time all
	// over the engine; a non-UTC process timezone would skew them.
	time.Local = time.UTC

	// Seed the environment from .env when present. Missing files are fine.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &LoadError{
			Type:    ErrParsing,
			Message: "failed to process environment variables",
			Err:     err,
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate runs struct validation over the populated config.
func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	// SecretString hides its value; validate against the unwrapped string so
	// "required" works.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if s, ok := field.Interface().(types.SecretString); ok {
			return s.Value()
		}
		return nil
	}, types.SecretString{})

	if err := v.Struct(cfg); err != nil {
		return &LoadError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}
	return nil
}
