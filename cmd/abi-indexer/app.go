package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/devblac/abi-indexer/internal/config"
	"github.com/devblac/abi-indexer/internal/engine"
	"github.com/devblac/abi-indexer/internal/logging"
	"github.com/devblac/abi-indexer/internal/metrics"
	"github.com/devblac/abi-indexer/internal/sink"
	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/devblac/abi-indexer/internal/storage"
)

// loadConfig loads the config and builds the logger. LOG_LEVEL overrides log.level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Log.Level
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	// stdout carries command output
	return cfg, logging.NewWithOptions(level, cfg.Log.Format, os.Stderr), nil
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.OpenDriver(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

// buildRunner dials the node and wires the ingestion pipeline. The caller closes the client.
func buildRunner(ctx context.Context, cfg *config.Config, log *slog.Logger, store *storage.Store, mtr *metrics.Metrics) (*engine.Runner, *evm.RPCClient, error) {
	policy, err := engine.ParseMalformedPolicy(cfg.Ingest.OnMalformed)
	if err != nil {
		return nil, nil, err
	}
	from, to, err := cfg.Ingest.Range()
	if err != nil {
		return nil, nil, err
	}
	node, err := evm.NewRPCClient(ctx, cfg.Node.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	fetcher := evm.NewFetcher(node, cfg.Node.Timeout, cfg.Node.MaxBlockSpan)
	runner := engine.NewRunner(fetcher, sink.New(store, cfg.Store.Timeout), engine.NewRegistry(), mtr, log, engine.Options{
		Workers:     cfg.Ingest.Workers,
		OnMalformed: policy,
		DefaultFrom: from,
		DefaultTo:   to,
	})
	return runner, node, nil
}
