package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devblac/abi-indexer/internal/config"
	"github.com/devblac/abi-indexer/internal/sink"
	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/spf13/cobra"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, job ABIs, the store and the node endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		failures := 0
		for _, job := range cfg.Jobs {
			if err := checkJob(cfg, job, out); err != nil {
				failures++
				fmt.Fprintf(out, "- job %s: ERROR %v\n", job.ID, err)
			}
		}

		store, err := openStore(cfg)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- store (%s): ERROR %v\n", cfg.Store.Driver, err)
		} else {
			defer store.Close()
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Store.Timeout)
			err := store.Ping(pingCtx)
			cancel()
			if err != nil {
				failures++
				fmt.Fprintf(out, "- store (%s): ERROR %v\n", cfg.Store.Driver, err)
			} else {
				fmt.Fprintf(out, "- store (%s): OK\n", cfg.Store.Driver)
			}
		}

		client := &http.Client{Timeout: defaultHTTPTimeout}
		chainID, err := pingEVM(ctx, client, cfg.Node.RPCURL)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- node: ERROR %v\n", err)
		} else {
			fmt.Fprintf(out, "- node: chainId %s OK\n", chainID)
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

// checkJob resolves the job's event and derives its table without touching the store.
func checkJob(cfg *config.Config, job config.Job, out io.Writer) error {
	req, err := buildRequest(cfg, job)
	if err != nil {
		return err
	}
	a, err := evm.ParseInterface(req.ABI)
	if err != nil {
		return err
	}
	ev, err := evm.LookupEvent(a, job.Event)
	if err != nil {
		return err
	}
	schema, err := sink.SynthesizeSchema(ev)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "- job %s: %s topic0 %s -> table %s (%d columns) OK\n",
		job.ID, evm.SignatureText(ev), evm.ComputeSignature(ev).Hex(), schema.Table, len(schema.Columns))
	return nil
}

func pingEVM(ctx context.Context, client *http.Client, url string) (string, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_chainId",
		"params":  []any{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call eth_chainId: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return "", fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return "", fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return "", fmt.Errorf("empty chainId result")
	}

	return rpcResp.Result, nil
}
