package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var flagStateJSON bool

func init() {
	stateCmd.Flags().BoolVar(&flagStateJSON, "json", false, "Print as JSON")
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show ingested event tables, log counts and block spans",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.IngestStats(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagStateJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}
		if len(stats) == 0 {
			fmt.Fprintln(out, "state: nothing ingested yet")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TABLE\tLOGS\tFIRST BLOCK\tLAST BLOCK")
		for _, s := range stats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.Table, s.Logs, s.FirstBlock, s.LastBlock)
		}
		return tw.Flush()
	},
}
