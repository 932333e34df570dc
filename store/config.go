package store

import (
	"log/slog"
	"time"
)

// Config holds configuration for a Model.
type Config struct {
	// Codec serializes object bodies.
	// Default: JSONCodec{}
	Codec Codec

	// Logger receives install and mutation logs.
	// Default: slog.Default()
	Logger *slog.Logger

	// Clock stamps the updated time of every Set.
	// Default: time.Now
	Clock func() time.Time

	// RequireTransactional makes New fail with a *ConsistencyError when the
	// backend only offers Eventual consistency.
	RequireTransactional bool
}

// DefaultConfig returns a Config using JSON bodies and the default logger.
func DefaultConfig() Config {
	return Config{
		Codec:  JSONCodec{},
		Logger: slog.Default(),
		Clock:  time.Now,
	}
}

// validate fills unset fields with their defaults.
func (c *Config) validate() {
	if c.Codec == nil {
		c.Codec = JSONCodec{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}
