package store

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var validTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type replaceStyle int

const (
	replaceInto replaceStyle = iota
	onConflict
)

// Dialect renders statements for one database family.
type Dialect struct {
	Name        string
	quote       byte
	numbered    bool
	replaceWith replaceStyle
	// maxParams is the most bind parameters one statement may carry.
	maxParams int
}

// Supported dialects.
var (
	MySQL    = Dialect{Name: "mysql", quote: '`', replaceWith: replaceInto, maxParams: 65535}
	SQLite   = Dialect{Name: "sqlite", quote: '"', replaceWith: replaceInto, maxParams: 32766}
	Postgres = Dialect{Name: "postgres", quote: '"', numbered: true, replaceWith: onConflict, maxParams: 65535}
)

// RowsPerStatement reports how many rows of columns values fit in one
// statement without passing the bind parameter limit. It is at least 1.
func (d Dialect) RowsPerStatement(columns int) int {
	if d.maxParams <= 0 || columns <= 0 {
		return math.MaxInt32
	}
	return max(1, d.maxParams/columns)
}

// NeedsConflictKeys reports whether Replace requires key columns.
func (d Dialect) NeedsConflictKeys() bool {
	return d.replaceWith == onConflict
}

// QuoteIdent quotes a single identifier, doubling embedded quote characters.
func (d Dialect) QuoteIdent(name string) string {
	q := string(d.quote)
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// Placeholder returns the bind marker for the n-th argument, counting from 1.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Insert renders a parameterized INSERT for rows rows of columns.
func (d Dialect) Insert(table string, columns []string, rows int) (string, error) {
	head, err := d.head("INSERT INTO", table, columns)
	if err != nil {
		return "", err
	}
	if rows < 1 {
		return "", fmt.Errorf("insert %s: no rows", table)
	}
	return head + d.values(len(columns), rows), nil
}

// Replace renders a single-row insert-or-overwrite. keys are only used by
// dialects that upsert with ON CONFLICT.
func (d Dialect) Replace(table string, columns, keys []string) (string, error) {
	if d.replaceWith == replaceInto {
		head, err := d.head("REPLACE INTO", table, columns)
		if err != nil {
			return "", err
		}
		return head + d.values(len(columns), 1), nil
	}

	if len(keys) == 0 {
		return "", fmt.Errorf("%w for table %s", ErrNoConflictKey, table)
	}
	head, err := d.head("INSERT INTO", table, columns)
	if err != nil {
		return "", err
	}
	quotedKeys := make([]string, len(keys))
	isKey := make(map[string]bool, len(keys))
	for i, k := range keys {
		if err := validColumn(k); err != nil {
			return "", err
		}
		quotedKeys[i] = d.QuoteIdent(k)
		isKey[k] = true
	}

	var sets []string
	for _, c := range columns {
		if isKey[c] {
			continue
		}
		q := d.QuoteIdent(c)
		sets = append(sets, q+" = EXCLUDED."+q)
	}

	var b strings.Builder
	b.WriteString(head)
	b.WriteString(d.values(len(columns), 1))
	b.WriteString(" ON CONFLICT (")
	b.WriteString(strings.Join(quotedKeys, ", "))
	b.WriteString(")")
	if len(sets) == 0 {
		b.WriteString(" DO NOTHING")
	} else {
		b.WriteString(" DO UPDATE SET ")
		b.WriteString(strings.Join(sets, ", "))
	}
	return b.String(), nil
}

// QuoteTable validates and quotes a table name, optionally schema-qualified.
func (d Dialect) QuoteTable(table string) (string, error) {
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("%w: table %q", ErrInvalidIdentifier, table)
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdent(p)
	}
	return strings.Join(parts, "."), nil
}

func (d Dialect) head(verb, table string, columns []string) (string, error) {
	quotedTable, err := d.QuoteTable(table)
	if err != nil {
		return "", err
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("%w: no columns for %s", ErrEmptyRecord, table)
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if err := validColumn(c); err != nil {
			return "", err
		}
		quoted[i] = d.QuoteIdent(c)
	}
	return fmt.Sprintf("%s %s (%s) VALUES ", verb, quotedTable, strings.Join(quoted, ", ")), nil
}

func (d Dialect) values(width, rows int) string {
	var b strings.Builder
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 0; c < width; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

func validColumn(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: column %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Columns returns the record's column names in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Values returns the record's values in the order of columns.
func (r Record) Values(columns []string) []any {
	vals := make([]any, len(columns))
	for i, c := range columns {
		vals[i] = r[c]
	}
	return vals
}
