package storage

import (
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name        string
	driver      string
	identityDDL string
	tableExists string
	positional  bool
}

var dialects = map[string]dialect{
	"sqlite": {
		name:        "sqlite",
		driver:      "sqlite",
		identityDDL: "INTEGER PRIMARY KEY AUTOINCREMENT",
		tableExists: `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
	},
	"postgres": {
		name:        "postgres",
		driver:      "postgres",
		identityDDL: "BIGSERIAL PRIMARY KEY",
		tableExists: `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
		positional:  true,
	},
}

func lookupDialect(driver string) (dialect, error) {
	d, ok := dialects[strings.ToLower(driver)]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
	}
	return d, nil
}

// placeholders returns n bind markers starting at position start (1-based).
func (d dialect) placeholders(start, n int) string {
	marks := make([]string, n)
	for i := range marks {
		if d.positional {
			marks[i] = "$" + strconv.Itoa(start+i)
		} else {
			marks[i] = "?"
		}
	}
	return strings.Join(marks, ", ")
}

// quoteIdent quotes a table or column name. Both dialects use ANSI double quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
