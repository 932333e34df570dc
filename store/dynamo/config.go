package dynamo

import (
	"log/slog"
	"time"

	"github.com/jacentio/scarecrow/internal/shard"
)

// Config holds configuration for the Backend.
type Config struct {
	// EntityTable is the name of the table holding object bodies.
	// Default: "scarecrow_entities"
	EntityTable string

	// IndexTablePrefix is prepended to an index name to form its table name.
	// Default: "scarecrow_index_"
	IndexTablePrefix string

	// NumShards is the number of partitions each index table spreads its
	// rows over. Higher values raise write throughput for popular values but
	// every query fans out to all shards. Changing it requires a reinstall
	// with drop.
	// Default: 1
	// Max: 256
	NumShards int

	// NonTransactional applies the writes of an Update as individual requests
	// instead of one TransactWriteItems call. The backend then reports
	// store.Eventual consistency.
	NonTransactional bool

	// RequestsPerSecond caps the request rate against DynamoDB. Zero means
	// unlimited.
	RequestsPerSecond float64

	// PageSize limits the items per Query or Scan page.
	// Default: 100
	PageSize int32

	// InstallTimeout bounds how long Install waits for a table to become
	// active or to disappear.
	// Default: 2 minutes
	InstallTimeout time.Duration

	// Logger receives install and purge logs.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		EntityTable:      "scarecrow_entities",
		IndexTablePrefix: "scarecrow_index_",
		NumShards:        1,
		PageSize:         100,
		InstallTimeout:   2 * time.Minute,
		Logger:           slog.Default(),
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.EntityTable == "" {
		c.EntityTable = "scarecrow_entities"
	}
	if c.IndexTablePrefix == "" {
		c.IndexTablePrefix = "scarecrow_index_"
	}
	c.NumShards = shard.Clamp(c.NumShards)
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = 2 * time.Minute
	}
	if c.RequestsPerSecond < 0 {
		c.RequestsPerSecond = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
