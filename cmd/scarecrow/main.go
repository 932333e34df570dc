// Command scarecrow is an operator tool for a scarecrow store kept in
// DynamoDB.
//
// Objects are JSON documents read from stdin and written to stdout. The index
// layout is declared in a YAML file, see fileConfig.
//
//	scarecrow -config shop.yaml install
//	echo '{"color":"red","price":20}' | scarecrow -config shop.yaml set sku-1
//	scarecrow -config shop.yaml query price get_range_ids 15 25
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/jacentio/scarecrow/store"
	"github.com/jacentio/scarecrow/store/dynamo"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "scarecrow: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configPath := flag.String("config", "scarecrow.yaml", "Path to the YAML configuration file")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: scarecrow [flags] <command> [args]\n\n%s\nflags:\n", usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return errors.New("missing command")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("invalid -log-level: %w", err)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	specs, err := cfg.specs()
	if err != nil {
		return err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	backendCfg := cfg.backendConfig()
	backendCfg.Logger = logger
	backend := dynamo.New(dynamodb.NewFromConfig(awsCfg), backendCfg)

	m, err := store.New[document](backend, store.Config{
		Codec:  store.JSONCodec{UseNumber: true},
		Logger: logger,
	}, specs...)
	if err != nil {
		return err
	}
	return run(ctx, m, flag.Args(), os.Stdin, os.Stdout)
}
