package sqlstore

import (
	"fmt"
	"strings"
)

// placeholder returns the dialect's parameter marker for 1-based position n.
func placeholder(d Dialect, n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// selectSQL builds the keyed single-row select over the named columns.
func selectSQL(d Dialect, table string, names []string, key string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(" FROM ")
	b.WriteString(table)
	b.WriteString(" WHERE ")
	b.WriteString(key)
	b.WriteString(" = ")
	b.WriteString(placeholder(d, 1))
	return b.String()
}

// insertSQL builds a plain insert over the named columns.
func insertSQL(d Dialect, table string, names []string) string {
	marks := make([]string, len(names))
	for i := range names {
		marks[i] = placeholder(d, i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", "))
}

// insertReturningSQL builds a Postgres insert that scans back the
// storage-generated key.
func insertReturningSQL(table string, names []string, key string) string {
	return insertSQL(DialectPostgres, table, names) + " RETURNING " + key
}

// updateSQL builds a whole-row update; the key value is the final parameter.
func updateSQL(d Dialect, table string, names []string, key string) string {
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = n + " = " + placeholder(d, i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		table, strings.Join(sets, ", "), key, placeholder(d, len(names)+1))
}

// deleteSQL builds the keyed delete.
func deleteSQL(d Dialect, table string, key string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table, key, placeholder(d, 1))
}
