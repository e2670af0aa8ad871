package engine

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/devblac/abi-indexer/internal/source/evm"
	"github.com/devblac/abi-indexer/internal/sink"
)

// Predicate evaluates whether a stored row satisfies a condition.
type Predicate func(row sink.Row) bool

// CompilePredicates parses simple expressions over row fields.
// Supported operators: ==, !=, >, <, >=, <=, in, contains.
// Numbers compare exactly, so 256-bit values are safe. Examples:
//
//	"value > 1_000_000 * 1e6"
//	"from in 0xabc...,0xdef..."
//	"memo contains airdrop"
func CompilePredicates(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		p, err := compile(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", evm.ErrConfig, err)
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// FilterRows keeps the rows matching every predicate.
func FilterRows(rows []sink.Row, preds []Predicate) []sink.Row {
	if len(preds) == 0 {
		return rows
	}
	out := rows[:0:0]
	for _, row := range rows {
		if matchAll(preds, row) {
			out = append(out, row)
		}
	}
	return out
}

func matchAll(preds []Predicate, row sink.Row) bool {
	for _, p := range preds {
		if !p(row) {
			return false
		}
	}
	return true
}

func compile(expr string) (Predicate, error) {
	if strings.Contains(expr, " in ") {
		parts := strings.SplitN(expr, " in ", 2)
		field := strings.TrimSpace(parts[0])
		values := map[string]struct{}{}
		for _, v := range strings.Split(parts[1], ",") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			values[strings.ToLower(v)] = struct{}{}
		}
		if field == "" || len(values) == 0 {
			return nil, fmt.Errorf("invalid in expression: %s", expr)
		}
		// hex addresses differ only by checksum casing
		return func(row sink.Row) bool {
			s, ok := fieldText(row, field)
			if !ok {
				return false
			}
			_, hit := values[strings.ToLower(s)]
			return hit
		}, nil
	}

	if strings.Contains(expr, " contains ") {
		parts := strings.SplitN(expr, " contains ", 2)
		field := strings.TrimSpace(parts[0])
		needle := strings.TrimSpace(parts[1])
		if field == "" {
			return nil, fmt.Errorf("invalid contains expression: %s", expr)
		}
		return func(row sink.Row) bool {
			s, ok := fieldText(row, field)
			return ok && strings.Contains(s, needle)
		}, nil
	}

	var op string
	for _, candidate := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if strings.Contains(expr, candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return nil, fmt.Errorf("unsupported expression: %s", expr)
	}

	parts := strings.SplitN(expr, op, 2)
	field := strings.TrimSpace(parts[0])
	rhsRaw := strings.TrimSpace(parts[1])
	if field == "" || rhsRaw == "" {
		return nil, fmt.Errorf("invalid expression: %s", expr)
	}

	rhs, rhsIsNum := evaluateNumber(rhsRaw)
	if !rhsIsNum && op != "==" && op != "!=" {
		return nil, fmt.Errorf("operator %s needs a number: %s", op, expr)
	}

	return func(row sink.Row) bool {
		s, ok := fieldText(row, field)
		if !ok {
			return false
		}
		if rhsIsNum {
			lhs, ok := evaluateNumber(s)
			if !ok {
				return false
			}
			c := lhs.Cmp(rhs)
			switch op {
			case "==":
				return c == 0
			case "!=":
				return c != 0
			case ">":
				return c > 0
			case "<":
				return c < 0
			case ">=":
				return c >= 0
			case "<=":
				return c <= 0
			}
		}
		if op == "==" {
			return s == rhsRaw
		}
		return s != rhsRaw
	}, nil
}

// evaluateNumber parses "100", "1e18", "1_000_000" and a single product "5 * 1e18".
func evaluateNumber(s string) (*big.Rat, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return nil, false
	}
	if strings.Contains(s, "*") {
		parts := strings.Split(s, "*")
		if len(parts) != 2 {
			return nil, false
		}
		a, ok1 := evaluateNumber(parts[0])
		b, ok2 := evaluateNumber(parts[1])
		if !ok1 || !ok2 {
			return nil, false
		}
		return new(big.Rat).Mul(a, b), true
	}
	// hex strings are addresses and hashes, not quantities
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	return r, ok
}

func fieldText(row sink.Row, field string) (string, bool) {
	v, ok := row.Get(field)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}
