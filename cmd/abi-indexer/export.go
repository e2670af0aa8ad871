package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/devblac/abi-indexer/internal/engine"
	"github.com/devblac/abi-indexer/internal/sink"
	"github.com/spf13/cobra"
)

var (
	flagExportEvent  string
	flagExportFormat string
	flagExportOut    string
	flagExportWhere  []string
)

func init() {
	exportCmd.Flags().StringVar(&flagExportEvent, "event", "", "Event table to export")
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "Output format: json or csv")
	exportCmd.Flags().StringVarP(&flagExportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringArrayVar(&flagExportWhere, "where", nil, "Keep rows matching an expression, e.g. \"value > 1e18\" (repeatable)")
	_ = exportCmd.MarkFlagRequired("event")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the stored rows of an event as JSON or CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		preds, err := engine.CompilePredicates(flagExportWhere)
		if err != nil {
			return err
		}
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := sink.New(store, cfg.Store.Timeout).ReadAll(cmd.Context(), flagExportEvent)
		if err != nil {
			return err
		}
		rows = engine.FilterRows(rows, preds)

		var out io.Writer = cmd.OutOrStdout()
		if flagExportOut != "" {
			f, err := os.Create(flagExportOut)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			defer f.Close()
			out = f
		}

		switch strings.ToLower(flagExportFormat) {
		case "json":
			return writeRowsJSON(out, rows)
		case "csv":
			return writeRowsCSV(out, rows)
		default:
			return fmt.Errorf("unsupported format: %s", flagExportFormat)
		}
	},
}

func writeRowsJSON(w io.Writer, rows []sink.Row) error {
	if rows == nil {
		rows = []sink.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// writeRowsCSV writes a header taken from the first row's keys followed by one line per row.
func writeRowsCSV(w io.Writer, rows []sink.Row) error {
	cw := csv.NewWriter(w)
	if len(rows) > 0 {
		header := make([]string, 0, rows[0].Len())
		for pair := rows[0].Oldest(); pair != nil; pair = pair.Next() {
			header = append(header, pair.Key)
		}
		if err := cw.Write(header); err != nil {
			return err
		}
	}
	for _, row := range rows {
		record := make([]string, 0, row.Len())
		for pair := row.Oldest(); pair != nil; pair = pair.Next() {
			if pair.Value == nil {
				record = append(record, "")
				continue
			}
			record = append(record, fmt.Sprint(pair.Value))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
