package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/devblac/abi-indexer/internal/metrics"
	"github.com/devblac/abi-indexer/internal/sink"
	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// MalformedPolicy decides what a run does with a log that does not fit the event layout.
type MalformedPolicy string

const (
	// MalformedSkip drops the log, counts it and keeps going.
	MalformedSkip MalformedPolicy = "skip"
	// MalformedAbort fails the run on the first malformed log.
	MalformedAbort MalformedPolicy = "abort"
)

// ParseMalformedPolicy maps a config value to a policy; empty means skip.
func ParseMalformedPolicy(s string) (MalformedPolicy, error) {
	switch MalformedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MalformedSkip:
		return MalformedSkip, nil
	case MalformedAbort:
		return MalformedAbort, nil
	default:
		return "", fmt.Errorf("%w: on_malformed must be skip or abort, got %q", evm.ErrConfig, s)
	}
}

// Options tune a Runner.
type Options struct {
	Workers     int
	OnMalformed MalformedPolicy
	DefaultFrom evm.BlockRef
	DefaultTo   evm.BlockRef
}

// RunResult reports what one run did.
type RunResult struct {
	RunID      string  `json:"run_id"`
	Event      string  `json:"event"`
	Contract   string  `json:"contract_address"`
	Topic0     string  `json:"topic0"`
	Table      string  `json:"table"`
	FromBlock  uint64  `json:"from_block"`
	ToBlock    *uint64 `json:"to_block,omitempty"`
	Fetched    int     `json:"fetched"`
	Inserted   int     `json:"inserted"`
	Duplicates int     `json:"duplicates"`
	Malformed  int     `json:"malformed"`
	Partial    bool    `json:"partial"`
	DurationMS int64   `json:"duration_ms"`
}

// Runner executes ingestion runs: fetch the logs of one event, decode them, store the records.
type Runner struct {
	fetcher  *evm.Fetcher
	sink     *sink.Sink
	registry *Registry
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options
	nowFunc  func() time.Time
}

// NewRunner wires a runner. A nil registry gets a private one; mtr may be nil.
func NewRunner(fetcher *evm.Fetcher, s *sink.Sink, registry *Registry, mtr *metrics.Metrics, log *slog.Logger, opts Options) *Runner {
	if registry == nil {
		registry = NewRegistry()
	}
	if log == nil {
		log = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.OnMalformed == "" {
		opts.OnMalformed = MalformedSkip
	}
	if opts.DefaultFrom == (evm.BlockRef{}) {
		opts.DefaultFrom = evm.Block(0)
	}
	if opts.DefaultTo == (evm.BlockRef{}) {
		opts.DefaultTo = evm.Latest()
	}
	return &Runner{
		fetcher:  fetcher,
		sink:     s,
		registry: registry,
		metrics:  mtr,
		log:      log,
		opts:     opts,
		nowFunc:  time.Now,
	}
}

// Registry exposes the in-flight run registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Run ingests the logs selected by req. Config and range errors happen before anything is
// written. When the run fails after storing some rows the partial result is returned alongside
// the error.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	started := r.nowFunc()

	ev, schema, err := r.prepare(req)
	if err != nil {
		r.metrics.RunFinished("rejected")
		return nil, err
	}

	run, release, err := r.registry.Acquire(schema.Table, req.Address().Hex())
	if err != nil {
		r.metrics.RunFinished("rejected")
		return nil, err
	}
	defer release()

	log := r.log.With("run_id", run.ID, "event", schema.Table, "contract", run.Contract)
	dec := evm.NewDecoder(ev)
	res := &RunResult{
		RunID:    run.ID,
		Event:    schema.Table,
		Contract: run.Contract,
		Topic0:   dec.Topic0().Hex(),
		Table:    schema.Table,
	}
	finish := func(status string, err error) (*RunResult, error) {
		res.DurationMS = r.nowFunc().Sub(started).Milliseconds()
		r.metrics.RunFinished(status)
		if err != nil {
			r.metrics.Errors()
			log.Error("run failed", "status", status, "inserted", res.Inserted, "error", err)
			return res, err
		}
		log.Info("run complete",
			"from", res.FromBlock, "to", blockText(res.ToBlock),
			"fetched", res.Fetched, "inserted", res.Inserted,
			"duplicates", res.Duplicates, "malformed", res.Malformed,
			"duration_ms", res.DurationMS)
		return res, nil
	}

	from, to := r.opts.DefaultFrom, r.opts.DefaultTo
	if req.FromBlock != nil {
		from = *req.FromBlock
	}
	if req.ToBlock != nil {
		to = *req.ToBlock
	}
	start, end, err := r.fetcher.ResolveRange(ctx, from, to)
	if err != nil {
		return finish(StatusOf(err), err)
	}
	res.FromBlock, res.ToBlock = start, end

	filter, err := evm.NewLogFilter(req.Address(), dec.Topic0(), start, end)
	if err != nil {
		return finish(StatusOf(err), err)
	}
	log.Debug("fetching logs", "from", start, "to", blockText(end))
	logs, err := r.fetcher.FetchLogs(ctx, filter)
	if err != nil {
		return finish("failed", err)
	}
	res.Fetched = len(logs)
	r.metrics.LogsFetched(len(logs))

	if err := r.sink.EnsureTable(ctx, schema); err != nil {
		return finish(StatusOf(err), err)
	}

	if err := r.ingest(ctx, log, dec, schema, logs, res); err != nil {
		res.Partial = true
		return finish("partial", err)
	}
	return finish("ok", nil)
}

// Read returns every stored row of eventName.
func (r *Runner) Read(ctx context.Context, eventName string) ([]sink.Row, error) {
	return r.sink.ReadAll(ctx, eventName)
}

// Active lists in-flight runs.
func (r *Runner) Active() []ActiveRun {
	return r.registry.Active()
}

func (r *Runner) prepare(req RunRequest) (*abi.Event, sink.TableSchema, error) {
	if err := req.Validate(); err != nil {
		return nil, sink.TableSchema{}, err
	}
	a, err := evm.ParseInterface(req.ABI)
	if err != nil {
		return nil, sink.TableSchema{}, err
	}
	ev, err := evm.LookupEvent(a, strings.TrimSpace(req.EventName))
	if err != nil {
		return nil, sink.TableSchema{}, err
	}
	schema, err := sink.SynthesizeSchema(ev)
	if err != nil {
		return nil, sink.TableSchema{}, err
	}
	return ev, schema, nil
}

// ingest decodes and stores logs with at most opts.Workers in flight. The first store failure
// or (under abort) malformed log stops scheduling further work.
func (r *Runner) ingest(ctx context.Context, log *slog.Logger, dec *evm.Decoder, schema sink.TableSchema, logs []types.Log, res *RunResult) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, lg := range logs {
		if gctx.Err() != nil {
			break
		}
		lg := lg
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			rec, err := dec.Decode(lg)
			if err != nil {
				r.metrics.LogMalformed()
				mu.Lock()
				res.Malformed++
				mu.Unlock()
				if r.opts.OnMalformed == MalformedAbort {
					return err
				}
				log.Warn("skipping malformed log", "block", lg.BlockNumber, "index", lg.Index, "tx", lg.TxHash.Hex(), "error", err)
				return nil
			}

			inserted, err := r.sink.InsertRecord(gctx, schema, rec)
			if err != nil {
				return err
			}
			mu.Lock()
			if inserted {
				res.Inserted++
			} else {
				res.Duplicates++
			}
			mu.Unlock()
			if inserted {
				r.metrics.RecordInserted()
			} else {
				r.metrics.RecordDuplicate()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// a canceled parent stops scheduling without any goroutine reporting it
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ingest %s: %w", schema.Table, err)
	}
	return nil
}

// StatusOf classifies a run error for logs and metrics.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, evm.ErrConfig), errors.Is(err, evm.ErrInvalidRange), errors.Is(err, ErrRunInProgress):
		return "rejected"
	default:
		return "failed"
	}
}

func blockText(n *uint64) string {
	if n == nil {
		return "latest"
	}
	return fmt.Sprintf("%d", *n)
}
