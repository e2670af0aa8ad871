package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// IngestTable is the bookkeeping table holding one row per stored log.
const IngestTable = "_ingested_logs"

var (
	// ErrStoreUnavailable wraps failures talking to the database.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownTable is returned when reading a table no run has created.
	ErrUnknownTable = errors.New("unknown table")
)

// Store is a small key-ordered table store over SQLite or Postgres: create table, insert
// row, select all.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Column is one column of a TableDef.
type Column struct {
	Name string
	Type string
}

// TableDef describes a table with an auto-incrementing identity column followed by Columns.
type TableDef struct {
	Name     string
	Identity string
	Columns  []Column
}

// LogKey identifies the chain log a row was decoded from.
type LogKey struct {
	BlockNumber uint64
	LogIndex    uint
	TxHash      string
}

// Open initializes a SQLite database at path.
func Open(path string) (*Store, error) {
	return OpenDriver("sqlite", path)
}

// OpenDriver opens a store for driver ("sqlite" or "postgres") and runs minimal schema setup.
func OpenDriver(driver, dsn string) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if d.name == "sqlite" {
		// One connection serializes writers; the pragmas below are per connection.
		db.SetMaxOpenConns(1)
		if err := configure(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// Driver returns the dialect name.
func (s *Store) Driver() string {
	return s.dialect.name
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS ` + IngestTable + ` (
  table_name    TEXT NOT NULL,
  block_number  BIGINT NOT NULL,
  log_index     BIGINT NOT NULL,
  tx_hash       TEXT NOT NULL,
  ingested_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (table_name, block_number, log_index)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateTable creates def if it does not exist. An existing table is left untouched.
func (s *Store) CreateTable(ctx context.Context, def TableDef) error {
	if def.Name == "" || def.Identity == "" {
		return errors.New("table name and identity column required")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s %s", quoteIdent(def.Name), quoteIdent(def.Identity), s.dialect.identityDDL)
	for _, c := range def.Columns {
		fmt.Fprintf(&b, ", %s %s", quoteIdent(c.Name), c.Type)
	}
	b.WriteString(")")
	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("%w: create table %s: %w", ErrStoreUnavailable, def.Name, err)
	}
	return nil
}

// TableExists reports whether name exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.tableExists, name).Scan(&n); err != nil {
		return false, fmt.Errorf("%w: table lookup %s: %w", ErrStoreUnavailable, name, err)
	}
	return n > 0, nil
}

// TableColumns returns the column names of an existing table in declaration order.
func (s *Store) TableColumns(ctx context.Context, name string) ([]string, error) {
	ok, err := s.TableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", quoteIdent(name)))
	if err != nil {
		return nil, fmt.Errorf("%w: columns %s: %w", ErrStoreUnavailable, name, err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: columns %s: %w", ErrStoreUnavailable, name, err)
	}
	return columns, nil
}

// InsertRow appends one row, values matching columns positionally. The log key is recorded in
// the same transaction; if it was already recorded for table the row is skipped and
// inserted is false.
func (s *Store) InsertRow(ctx context.Context, table string, columns []string, values []any, key LogKey) (inserted bool, err error) {
	if len(columns) != len(values) {
		return false, fmt.Errorf("insert %s: %d columns but %d values", table, len(columns), len(values))
	}

	markSQL := fmt.Sprintf(
		"INSERT INTO %s (table_name, block_number, log_index, tx_hash) VALUES (%s) ON CONFLICT DO NOTHING",
		IngestTable, s.dialect.placeholders(1, 4),
	)
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	rowSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), s.dialect.placeholders(1, len(values)))

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, markSQL, table, int64(key.BlockNumber), int64(key.LogIndex), key.TxHash)
		if err != nil {
			return fmt.Errorf("mark log: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark log: %w", err)
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, rowSQL, values...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, table, err)
	}
	return inserted, nil
}

// SelectAll returns the column names and every row of table ordered by orderBy.
func (s *Store) SelectAll(ctx context.Context, table, orderBy string) ([]string, [][]any, error) {
	ok, err := s.TableExists(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(table), quoteIdent(orderBy)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: select %s: %w", ErrStoreUnavailable, table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: columns %s: %w", ErrStoreUnavailable, table, err)
	}
	out := [][]any{}
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("%w: scan %s: %w", ErrStoreUnavailable, table, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: rows %s: %w", ErrStoreUnavailable, table, err)
	}
	return columns, out, nil
}

// TableStats summarizes what has been ingested into one event table.
type TableStats struct {
	Table      string `json:"table"`
	Logs       int64  `json:"logs"`
	FirstBlock uint64 `json:"first_block"`
	LastBlock  uint64 `json:"last_block"`
}

// IngestStats returns per-table ingestion counts from the bookkeeping table.
func (s *Store) IngestStats(ctx context.Context) ([]TableStats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, COUNT(*), MIN(block_number), MAX(block_number)
FROM `+IngestTable+`
GROUP BY table_name
ORDER BY table_name;
`)
	if err != nil {
		return nil, fmt.Errorf("%w: ingest stats: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	out := []TableStats{}
	for rows.Next() {
		var st TableStats
		var first, last int64
		if err := rows.Scan(&st.Table, &st.Logs, &first, &last); err != nil {
			return nil, fmt.Errorf("%w: scan ingest stats: %w", ErrStoreUnavailable, err)
		}
		st.FirstBlock, st.LastBlock = uint64(first), uint64(last)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: ingest stats: %w", ErrStoreUnavailable, err)
	}
	return out, nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
