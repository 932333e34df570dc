// Command scarecrow-purge is the Lambda function attached to the entity
// table's stream. It removes the index rows of entities deleted outside the
// store.
//
// Environment:
//
//	SCARECROW_ENTITY_TABLE        entity table name (default scarecrow_entities)
//	SCARECROW_INDEX_TABLE_PREFIX  index table prefix (default scarecrow_index_)
//	LOG_LEVEL                     debug, info, warn or error (default info)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/scarecrow/store/dynamo"
	"github.com/jacentio/scarecrow/stream"
)

func main() {
	handler, err := newHandler(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "scarecrow-purge: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(handler.HandlePurge)
}

func newHandler(ctx context.Context) (*stream.Handler, error) {
	ll := &slog.LevelVar{}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := ll.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ll}))

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	cfg := dynamo.DefaultConfig()
	if v := os.Getenv("SCARECROW_ENTITY_TABLE"); v != "" {
		cfg.EntityTable = v
	}
	if v := os.Getenv("SCARECROW_INDEX_TABLE_PREFIX"); v != "" {
		cfg.IndexTablePrefix = v
	}
	cfg.Logger = logger

	backend := dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg)
	return stream.NewHandler(backend, cfg.EntityTable, logger), nil
}
