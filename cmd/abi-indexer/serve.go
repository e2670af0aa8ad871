package main

import (
	"github.com/devblac/abi-indexer/internal/api"
	"github.com/devblac/abi-indexer/internal/health"
	"github.com/devblac/abi-indexer/internal/metrics"
	"github.com/spf13/cobra"
)

var flagAddr string

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (overrides server.addr)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		mtr := metrics.Init()
		runner, node, err := buildRunner(ctx, cfg, log, store, mtr)
		if err != nil {
			return err
		}
		defer node.Close()

		addr := cfg.Server.Addr
		if flagAddr != "" {
			addr = flagAddr
		}
		srv := api.NewServer(runner, log, api.Options{
			Addr:           addr,
			RequestTimeout: cfg.Server.RequestTimeout,
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			CORSMaxAge:     cfg.Server.CORS.MaxAge,
			Health: health.Handler(health.Checker{
				DBPing:  store.Ping,
				RPCPing: health.NodePing(node),
			}),
			Metrics: metrics.Handler(),
		})
		return srv.Run(ctx)
	},
}
