package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the YAML configuration.
type Config struct {
	Version int          `yaml:"version"`
	Log     LogConfig    `yaml:"log"`
	Node    NodeConfig   `yaml:"node"`
	Store   StoreConfig  `yaml:"store"`
	Ingest  IngestConfig `yaml:"ingest"`
	Server  ServerConfig `yaml:"server"`
	Jobs    []Job        `yaml:"jobs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NodeConfig struct {
	RPCURL       string        `yaml:"rpc_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxBlockSpan uint64        `yaml:"max_block_span"`
}

type StoreConfig struct {
	Driver  string        `yaml:"driver"`
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout"`
}

type IngestConfig struct {
	Workers     int      `yaml:"workers"`
	OnMalformed string   `yaml:"on_malformed"`
	FromBlock   string   `yaml:"from_block"`
	ToBlock     string   `yaml:"to_block"`
	ABIDirs     []string `yaml:"abi_dirs"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CORS           CORSConfig    `yaml:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxAge         int      `yaml:"max_age"`
}

// Job is a preconfigured run: one event of one contract over a block range.
type Job struct {
	ID        string `yaml:"id"`
	Contract  string `yaml:"contract"`
	ABIPath   string `yaml:"abi_path"`
	Event     string `yaml:"event"`
	FromBlock string `yaml:"from_block"`
	ToBlock   string `yaml:"to_block"`
}

const (
	DefaultRPCTimeout     = 30 * time.Second
	DefaultStoreTimeout   = 10 * time.Second
	DefaultRequestTimeout = 5 * time.Minute
	DefaultWorkers        = 4
	DefaultAddr           = "127.0.0.1:3030"
	DefaultDSN            = "abi-indexer.db"
	DefaultCORSMaxAge     = 3600
)

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, applies defaults, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// relative abi paths are resolved against the config file
	base := filepath.Dir(path)
	for i := range cfg.Jobs {
		cfg.Jobs[i].ABIPath = resolvePath(base, cfg.Jobs[i].ABIPath)
	}
	for i, dir := range cfg.Ingest.ABIDirs {
		cfg.Ingest.ABIDirs[i] = resolvePath(base, dir)
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Node.Timeout == 0 {
		c.Node.Timeout = DefaultRPCTimeout
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = DefaultDSN
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = DefaultStoreTimeout
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = DefaultWorkers
	}
	if c.Ingest.OnMalformed == "" {
		c.Ingest.OnMalformed = "skip"
	}
	if c.Ingest.FromBlock == "" {
		c.Ingest.FromBlock = "0"
	}
	if c.Ingest.ToBlock == "" {
		c.Ingest.ToBlock = "latest"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}
	if len(c.Server.CORS.AllowedOrigins) == 0 {
		c.Server.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Server.CORS.MaxAge == 0 {
		c.Server.CORS.MaxAge = DefaultCORSMaxAge
	}
}

// Validate performs small, direct schema checks.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if c.Server.RequestTimeout < 0 {
		return errors.New("server: request_timeout must not be negative")
	}

	jobIDs := map[string]struct{}{}
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if _, exists := jobIDs[j.ID]; exists {
			return fmt.Errorf("duplicate job id: %s", j.ID)
		}
		jobIDs[j.ID] = struct{}{}
		if err := j.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", j.ID, err)
		}
	}
	return nil
}

func (n *NodeConfig) Validate() error {
	if n.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if n.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported driver: %s", s.Driver)
	}
	if s.DSN == "" {
		return errors.New("dsn is required")
	}
	if s.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

func (i *IngestConfig) Validate() error {
	if i.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	switch strings.ToLower(i.OnMalformed) {
	case "skip", "abort":
	default:
		return fmt.Errorf("on_malformed must be skip or abort, got %q", i.OnMalformed)
	}
	if _, _, err := i.Range(); err != nil {
		return err
	}
	return nil
}

// Range parses the default block range.
func (i *IngestConfig) Range() (evm.BlockRef, evm.BlockRef, error) {
	return parseRange(i.FromBlock, i.ToBlock)
}

func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("id is required")
	}
	if !common.IsHexAddress(j.Contract) {
		return fmt.Errorf("contract %q is not a hex address", j.Contract)
	}
	if j.ABIPath == "" {
		return errors.New("abi_path is required")
	}
	if j.Event == "" {
		return errors.New("event is required")
	}
	if _, _, err := j.Range(); err != nil {
		return err
	}
	return nil
}

// Range parses the job's block range. Empty bounds come back as latest; callers that want the
// ingest defaults check the raw strings first.
func (j *Job) Range() (evm.BlockRef, evm.BlockRef, error) {
	return parseRange(j.FromBlock, j.ToBlock)
}

// Job returns the job with the given id.
func (c *Config) Job(id string) (*Job, bool) {
	for i := range c.Jobs {
		if c.Jobs[i].ID == id {
			return &c.Jobs[i], true
		}
	}
	return nil, false
}

func parseRange(from, to string) (evm.BlockRef, evm.BlockRef, error) {
	f, err := evm.ParseBlockRef(from)
	if err != nil {
		return evm.BlockRef{}, evm.BlockRef{}, fmt.Errorf("from_block: %w", err)
	}
	t, err := evm.ParseBlockRef(to)
	if err != nil {
		return evm.BlockRef{}, evm.BlockRef{}, fmt.Errorf("to_block: %w", err)
	}
	if !f.Latest && !t.Latest && f.Number > t.Number {
		return evm.BlockRef{}, evm.BlockRef{}, fmt.Errorf("%w: from %d > to %d", evm.ErrInvalidRange, f.Number, t.Number)
	}
	return f, t, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
