package sink

import (
	"fmt"
	"regexp"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/devblac/abi-indexer/internal/storage"
	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	// IdentityColumn is the auto-incrementing primary key of every event table.
	IdentityColumn = "id"
	// ColumnPrefix is prepended to parameter names so they never collide with the identity
	// column or SQL keywords.
	ColumnPrefix = "p_"
	// ColumnType is used for every parameter; 256-bit integers do not fit native SQL integers.
	ColumnType = "TEXT"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Column maps one event parameter to a table column.
type Column struct {
	Name  string
	Type  string
	Param string
}

// TableSchema is the table layout derived from an event.
type TableSchema struct {
	Table    string
	Identity string
	Columns  []Column
}

// SynthesizeSchema derives the table for ev: the identity column followed by one TEXT column
// per parameter in declaration order. The table is named by the event's ABI key, so overloads
// (Transfer, Transfer0) get separate tables. The result depends only on that key and the
// parameter names.
func SynthesizeSchema(ev *abi.Event) (TableSchema, error) {
	if ev == nil {
		return TableSchema{}, fmt.Errorf("%w: no event", evm.ErrConfig)
	}
	table := ev.Name
	if table == "" {
		table = ev.RawName
	}
	if !identPattern.MatchString(table) {
		return TableSchema{}, fmt.Errorf("%w: event name %q is not a valid table name", evm.ErrConfig, table)
	}
	if table == storage.IngestTable {
		return TableSchema{}, fmt.Errorf("%w: event name %q is reserved", evm.ErrConfig, table)
	}
	if len(ev.Inputs) == 0 {
		return TableSchema{}, fmt.Errorf("%w: event %s has no parameters", evm.ErrConfig, table)
	}

	schema := TableSchema{
		Table:    table,
		Identity: IdentityColumn,
		Columns:  make([]Column, 0, len(ev.Inputs)),
	}
	seen := map[string]struct{}{}
	for i, in := range ev.Inputs {
		param := evm.ParamName(i, in)
		if !identPattern.MatchString(param) {
			return TableSchema{}, fmt.Errorf("%w: parameter name %q is not a valid column name", evm.ErrConfig, param)
		}
		if _, dup := seen[param]; dup {
			return TableSchema{}, fmt.Errorf("%w: duplicate parameter name %q", evm.ErrConfig, param)
		}
		seen[param] = struct{}{}
		schema.Columns = append(schema.Columns, Column{
			Name:  ColumnPrefix + param,
			Type:  ColumnType,
			Param: param,
		})
	}
	return schema, nil
}

// ColumnNames returns the parameter column names in order.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Matches reports whether columns, as stored, are exactly the identity column followed by the
// schema's parameter columns.
func (s TableSchema) Matches(columns []string) bool {
	if len(columns) != len(s.Columns)+1 || columns[0] != s.Identity {
		return false
	}
	for i, c := range s.Columns {
		if columns[i+1] != c.Name {
			return false
		}
	}
	return true
}

func (s TableSchema) tableDef() storage.TableDef {
	cols := make([]storage.Column, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = storage.Column{Name: c.Name, Type: c.Type}
	}
	return storage.TableDef{Name: s.Table, Identity: s.Identity, Columns: cols}
}
