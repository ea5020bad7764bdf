// Package config defines the configuration for the shovel transfer service.
// Configuration is loaded once at process initialization and is immutable
// thereafter, following 12-Factor principles: values come from the OS
// environment, optionally seeded from a local .env file.
//
// Any missing required value or invalid format fails startup immediately.
package config

import (
	"time"

	"shovel/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for connection strings and passwords.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"shovel"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DebugRoutes bool   `envconfig:"DEBUG_ENABLED" default:"false"`

	Server   ServerConfig
	Broker   BrokerConfig
	Redis    RedisConfig
	Transfer TransferConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// BrokerConfig holds Service Bus connection settings. The destination queue
// may live in a different namespace; when DestConnectionString is empty the
// source namespace connection is reused.
type BrokerConfig struct {
	ConnectionString     SecretString `envconfig:"SERVICEBUS_CONNECTION_STRING" validate:"required"`
	DestConnectionString SecretString `envconfig:"SERVICEBUS_DEST_CONNECTION_STRING"`

	SourceQueue string `envconfig:"SERVICEBUS_SOURCE_QUEUE" validate:"required"`
	DestQueue   string `envconfig:"SERVICEBUS_DEST_QUEUE" validate:"required"`
	ErrorQueue  string `envconfig:"SERVICEBUS_ERROR_QUEUE" default:"transfer-errors"`
}

// RedisConfig holds tracking store connection settings.
type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password SecretString  `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	// EntryTTL bounds every tracking entry; the store is a diagnostic cache,
	// never an authority, so entries are allowed to expire.
	EntryTTL time.Duration `envconfig:"TRACKING_ENTRY_TTL" default:"168h"`
}

// TransferConfig tunes the batched scan.
type TransferConfig struct {
	// BatchSize is the per-peek page size; the broker caps a single peek
	// call, so the cursor pages in batches of this size.
	BatchSize int `envconfig:"TRANSFER_BATCH_SIZE" default:"50" validate:"min=1,max=250"`

	// MaxTotalMessages is the operator ceiling on records examined by one
	// scan when the caller does not pass an explicit limit.
	MaxTotalMessages int `envconfig:"TRANSFER_MAX_TOTAL" default:"1000" validate:"min=1"`

	// DefaultDelaySeconds is the schedule delay applied by scheduleBatch
	// when the request does not specify one.
	DefaultDelaySeconds int `envconfig:"DEFAULT_SCHEDULE_DELAY_SECONDS" default:"3600" validate:"min=0"`

	// ReceiveWait bounds each destructive receive call during cleanup.
	ReceiveWait time.Duration `envconfig:"CLEANUP_RECEIVE_WAIT" default:"2s"`

	// ValidatePeekCount is the default snapshot depth for validate calls.
	ValidatePeekCount int `envconfig:"VALIDATE_PEEK_COUNT" default:"10" validate:"min=1"`
}
