package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/devblac/abi-indexer/internal/config"
	"github.com/devblac/abi-indexer/internal/engine"
	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/spf13/cobra"
)

var (
	flagJob      string
	flagAllJobs  bool
	flagContract string
	flagABI      string
	flagEvent    string
	flagFrom     string
	flagTo       string
)

func init() {
	runCmd.Flags().StringVar(&flagJob, "job", "", "Run the configured job with this id")
	runCmd.Flags().BoolVar(&flagAllJobs, "all", false, "Run every configured job in order")
	runCmd.Flags().StringVar(&flagContract, "contract", "", "Contract address")
	runCmd.Flags().StringVar(&flagABI, "abi", "", "Path to the contract ABI JSON (default: search ingest.abi_dirs)")
	runCmd.Flags().StringVar(&flagEvent, "event", "", "Event name")
	runCmd.Flags().StringVar(&flagFrom, "from", "", "First block (number, latest or latest-N)")
	runCmd.Flags().StringVar(&flagTo, "to", "", "Last block inclusive (number, latest or latest-N)")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest one event over a block range and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		var jobs []config.Job
		switch {
		case flagAllJobs:
			if len(cfg.Jobs) == 0 {
				return fmt.Errorf("%w: no jobs configured", evm.ErrConfig)
			}
			jobs = cfg.Jobs
		case flagJob != "":
			job, ok := cfg.Job(flagJob)
			if !ok {
				return fmt.Errorf("%w: unknown job %s", evm.ErrConfig, flagJob)
			}
			jobs = []config.Job{*job}
		default:
			jobs = []config.Job{{ID: "cli"}}
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		runner, node, err := buildRunner(ctx, cfg, log, store, nil)
		if err != nil {
			return err
		}
		defer node.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		for _, job := range jobs {
			req, err := buildRequest(cfg, applyFlags(job))
			if err != nil {
				return fmt.Errorf("job %s: %w", job.ID, err)
			}
			res, err := runner.Run(ctx, req)
			if res != nil {
				if encErr := enc.Encode(res); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				return fmt.Errorf("job %s: %w", job.ID, err)
			}
		}
		return nil
	},
}

// applyFlags overlays explicit command line values on a job.
func applyFlags(job config.Job) config.Job {
	if flagContract != "" {
		job.Contract = flagContract
	}
	if flagABI != "" {
		job.ABIPath = flagABI
	}
	if flagEvent != "" {
		job.Event = flagEvent
	}
	if flagFrom != "" {
		job.FromBlock = flagFrom
	}
	if flagTo != "" {
		job.ToBlock = flagTo
	}
	return job
}

// buildRequest turns a job into a run request. Without an abi path the event is looked up in
// the configured ABI directories. Empty block bounds use the ingest defaults.
func buildRequest(cfg *config.Config, job config.Job) (engine.RunRequest, error) {
	if job.Event == "" {
		return engine.RunRequest{}, fmt.Errorf("%w: event is required", evm.ErrConfig)
	}
	path := job.ABIPath
	if path == "" {
		abis, err := evm.LoadABIs(cfg.Ingest.ABIDirs)
		if err != nil {
			return engine.RunRequest{}, fmt.Errorf("%w: %v", evm.ErrConfig, err)
		}
		p, _, ok := evm.FindEvent(abis, job.Event)
		if !ok {
			return engine.RunRequest{}, fmt.Errorf("%w: event %s not found in abi_dirs", evm.ErrConfig, job.Event)
		}
		path = p
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return engine.RunRequest{}, fmt.Errorf("%w: read abi: %v", evm.ErrConfig, err)
	}

	req := engine.RunRequest{Contract: job.Contract, ABI: raw, EventName: job.Event}
	if job.FromBlock != "" {
		ref, err := evm.ParseBlockRef(job.FromBlock)
		if err != nil {
			return engine.RunRequest{}, err
		}
		req.FromBlock = &ref
	}
	if job.ToBlock != "" {
		ref, err := evm.ParseBlockRef(job.ToBlock)
		if err != nil {
			return engine.RunRequest{}, err
		}
		req.ToBlock = &ref
	}
	return req, nil
}
