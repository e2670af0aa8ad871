package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblac/abi-indexer/internal/source/evm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

const jobYAML = `
version: 1
node:
  rpc_url: ${RPC_URL}
store:
  driver: postgres
  dsn: ${PG_DSN}
jobs:
  - id: usdc_transfers
    contract: "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
    abi_path: abis/erc20.json
    event: Transfer
    from_block: "6189721"
    to_block: latest-12
`

func TestLoadInterpolatesEnvAndValidates(t *testing.T) {
	cfgPath := writeConfig(t, jobYAML)
	t.Setenv("RPC_URL", "http://example-rpc")
	t.Setenv("PG_DSN", "postgres://idx@localhost/idx")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("expected load to succeed: %v", err)
	}

	if got := cfg.Node.RPCURL; got != "http://example-rpc" {
		t.Fatalf("rpc_url not interpolated, got %q", got)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://idx@localhost/idx" {
		t.Fatalf("store = %+v", cfg.Store)
	}

	job, ok := cfg.Job("usdc_transfers")
	if !ok {
		t.Fatalf("job not found")
	}
	if want := filepath.Join(filepath.Dir(cfgPath), "abis/erc20.json"); job.ABIPath != want {
		t.Fatalf("abi_path = %s, want %s", job.ABIPath, want)
	}
	from, to, err := job.Range()
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if from != evm.Block(6189721) || !to.Latest || to.Offset != 12 {
		t.Fatalf("range = %v..%v", from, to)
	}
}

func TestLoadFailsOnMissingEnv(t *testing.T) {
	cfgPath := writeConfig(t, jobYAML)

	_, err := Load(cfgPath)
	if err == nil {
		t.Fatalf("expected missing env to fail")
	}
	if !strings.Contains(err.Error(), "RPC_URL") || !strings.Contains(err.Error(), "PG_DSN") {
		t.Fatalf("missing vars not named: %v", err)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	cfgPath := writeConfig(t, "version: 1\nnode:\n  rpc_url: ${DOTENV_RPC}\n")
	envPath := filepath.Join(filepath.Dir(cfgPath), ".env")
	if err := os.WriteFile(envPath, []byte("DOTENV_RPC=http://from-dotenv\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_RPC") })

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.RPCURL != "http://from-dotenv" {
		t.Fatalf("rpc_url = %q", cfg.Node.RPCURL)
	}
}

func TestDefaults(t *testing.T) {
	cfgPath := writeConfig(t, "version: 1\nnode:\n  rpc_url: http://node\n")
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != DefaultDSN || cfg.Store.Timeout != DefaultStoreTimeout {
		t.Fatalf("store defaults = %+v", cfg.Store)
	}
	if cfg.Node.Timeout != DefaultRPCTimeout || cfg.Ingest.Workers != DefaultWorkers || cfg.Ingest.OnMalformed != "skip" {
		t.Fatalf("defaults node=%+v ingest=%+v", cfg.Node, cfg.Ingest)
	}
	if cfg.Server.Addr != DefaultAddr || cfg.Server.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("server defaults = %+v", cfg.Server)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 1 || cfg.Server.CORS.AllowedOrigins[0] != "*" || cfg.Server.CORS.MaxAge != 3600 {
		t.Fatalf("cors defaults = %+v", cfg.Server.CORS)
	}
	from, to, err := cfg.Ingest.Range()
	if err != nil || from != evm.Block(0) || to != evm.Latest() {
		t.Fatalf("ingest range = %v..%v err=%v", from, to, err)
	}
}

func TestDurationsParse(t *testing.T) {
	cfgPath := writeConfig(t, `
version: 1
node: {rpc_url: http://node, timeout: 2s}
store: {timeout: 750ms}
server: {request_timeout: 1m}
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Node.Timeout != 2*time.Second || cfg.Store.Timeout != 750*time.Millisecond || cfg.Server.RequestTimeout != time.Minute {
		t.Fatalf("durations node=%v store=%v server=%v", cfg.Node.Timeout, cfg.Store.Timeout, cfg.Server.RequestTimeout)
	}
}

func TestValidateErrors(t *testing.T) {
	base := func() Config {
		c := Config{Version: 1, Node: NodeConfig{RPCURL: "http://node"}}
		c.applyDefaults()
		c.Jobs = []Job{{ID: "j1", Contract: "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", ABIPath: "a.json", Event: "Transfer"}}
		return c
	}
	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"no_version", func(c *Config) { c.Version = 0 }, "version"},
		{"no_rpc", func(c *Config) { c.Node.RPCURL = "" }, "rpc_url"},
		{"bad_driver", func(c *Config) { c.Store.Driver = "mysql" }, "unsupported driver"},
		{"bad_policy", func(c *Config) { c.Ingest.OnMalformed = "retry" }, "on_malformed"},
		{"bad_block", func(c *Config) { c.Ingest.FromBlock = "genesis" }, "from_block"},
		{"dup_job", func(c *Config) { c.Jobs = append(c.Jobs, c.Jobs[0]) }, "duplicate job"},
		{"bad_contract", func(c *Config) { c.Jobs[0].Contract = "usdc" }, "hex address"},
		{"no_event", func(c *Config) { c.Jobs[0].Event = "" }, "event is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mod(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	c := base()
	if err := c.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
}

func TestInvertedJobRange(t *testing.T) {
	j := Job{ID: "j", Contract: "0xA0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", ABIPath: "a.json", Event: "E", FromBlock: "10", ToBlock: "5"}
	if err := j.Validate(); !errors.Is(err, evm.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}
