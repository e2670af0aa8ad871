package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/devblac/abi-indexer/internal/storage"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row is one stored record keyed by identity column and parameter names, in column order.
type Row = *orderedmap.OrderedMap[string, any]

// Sink maps decoded records onto the table store and stored rows back to generic rows.
type Sink struct {
	store   *storage.Store
	timeout time.Duration
}

// New builds a sink. timeout bounds every store call; zero disables it.
func New(store *storage.Store, timeout time.Duration) *Sink {
	return &Sink{store: store, timeout: timeout}
}

// EnsureTable creates the event table if absent. It never alters an existing table; one whose
// columns differ from schema is a config error since no retry can make the rows fit.
func (s *Sink) EnsureTable(ctx context.Context, schema TableSchema) error {
	ctx, cancel := s.callContext(ctx)
	defer cancel()
	if err := s.store.CreateTable(ctx, schema.tableDef()); err != nil {
		return err
	}
	columns, err := s.store.TableColumns(ctx, schema.Table)
	if err != nil {
		return err
	}
	if !schema.Matches(columns) {
		want := append([]string{schema.Identity}, schema.ColumnNames()...)
		return fmt.Errorf("%w: table %s has columns %v, event needs %v",
			evm.ErrConfig, schema.Table, columns, want)
	}
	return nil
}

// InsertRecord appends rec as one row in schema column order. A record whose log was stored by
// an earlier run is skipped and inserted is false.
func (s *Sink) InsertRecord(ctx context.Context, schema TableSchema, rec *evm.Record) (inserted bool, err error) {
	values := make([]any, len(schema.Columns))
	for i, c := range schema.Columns {
		v, ok := rec.Fields.Get(c.Param)
		if !ok {
			return false, fmt.Errorf("record %s block %d index %d: missing field %s", rec.EventName, rec.BlockNumber, rec.LogIndex, c.Param)
		}
		text, err := FormatValue(v)
		if err != nil {
			return false, fmt.Errorf("record %s field %s: %w", rec.EventName, c.Param, err)
		}
		values[i] = text
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()
	return s.store.InsertRow(ctx, schema.Table, schema.ColumnNames(), values, storage.LogKey{
		BlockNumber: rec.BlockNumber,
		LogIndex:    rec.LogIndex,
		TxHash:      rec.TxHash.Hex(),
	})
}

// ReadAll returns every row stored for eventName ordered by identity. Parameter columns are
// keyed by parameter name, except a parameter named like the identity column, which keeps its
// stored column name.
func (s *Sink) ReadAll(ctx context.Context, eventName string) ([]Row, error) {
	if !identPattern.MatchString(eventName) {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownTable, eventName)
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	columns, rows, err := s.store.SelectAll(ctx, eventName, IdentityColumn)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, vals := range rows {
		row := orderedmap.New[string, any]()
		for i, c := range columns {
			row.Set(rowKey(c), vals[i])
		}
		out = append(out, row)
	}
	return out, nil
}

func rowKey(column string) string {
	param, ok := strings.CutPrefix(column, ColumnPrefix)
	if !ok || param == IdentityColumn {
		return column
	}
	return param
}

func (s *Sink) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
