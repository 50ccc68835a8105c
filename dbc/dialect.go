// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbc

import (
	"fmt"
	"strings"

	"github.com/qolzam/dbtable/filter"
)

// Dialect is a supported database/sql driver name.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

func (d Dialect) Valid() bool {
	switch d {
	case MySQL, Postgres, SQLite:
		return true
	}
	return false
}

func (d Dialect) DefaultPort() int {
	switch d {
	case MySQL:
		return 3306
	case Postgres:
		return 5432
	}
	return 0
}

// LimitStyle returns how this dialect renders LIMIT with an offset.
func (d Dialect) LimitStyle() filter.LimitStyle {
	if d == Postgres {
		return filter.LimitOffset
	}
	return filter.LimitComma
}

// Compiler returns a filter compiler for this dialect.
func (d Dialect) Compiler() filter.Compiler {
	return filter.Compiler{Style: d.LimitStyle()}
}

// TableExistsQuery counts tables named table in database. The row has a single "n" column.
// A qualified "schema.name" table is looked up in that schema.
func (d Dialect) TableExistsQuery(database, table string) (string, []interface{}) {
	qualifier, name := splitTable(table)
	switch d {
	case SQLite:
		master := "sqlite_master"
		if qualifier != "" {
			master = qualifier + "." + master
		}
		return fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE type = 'table' AND name = ?", master), []interface{}{name}
	case Postgres:
		if qualifier != "" {
			return "SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", []interface{}{qualifier, name}
		}
		return "SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?", []interface{}{name}
	}
	if qualifier != "" {
		database = qualifier
	}
	return "SELECT COUNT(*) AS n FROM information_schema.tables WHERE table_schema = ? AND table_name = ?", []interface{}{database, name}
}

// ShowTablesQuery lists the tables of database in a "name" column.
func (d Dialect) ShowTablesQuery(database string) (string, []interface{}) {
	switch d {
	case SQLite:
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name", nil
	case Postgres:
		return "SELECT table_name AS name FROM information_schema.tables WHERE table_schema = current_schema() ORDER BY table_name", nil
	}
	return "SELECT table_name AS name FROM information_schema.tables WHERE table_schema = ? ORDER BY table_name", []interface{}{database}
}

// ColumnsQuery describes the columns of table. Parse the rows with ParseColumns.
func (d Dialect) ColumnsQuery(table string) (string, []interface{}) {
	qualifier, name := splitTable(table)
	switch d {
	case SQLite:
		if qualifier != "" {
			return fmt.Sprintf("PRAGMA %s.table_info(%s)", qualifier, name), nil
		}
		return fmt.Sprintf("PRAGMA table_info(%s)", name), nil
	case Postgres:
		const cols = "SELECT column_name AS field, data_type AS type, is_nullable AS nullable, column_default AS dflt FROM information_schema.columns "
		if qualifier != "" {
			return cols + "WHERE table_schema = ? AND table_name = ? ORDER BY ordinal_position", []interface{}{qualifier, name}
		}
		return cols + "WHERE table_schema = current_schema() AND table_name = ? ORDER BY ordinal_position", []interface{}{name}
	}
	return fmt.Sprintf("SHOW COLUMNS FROM %s", table), nil
}

// splitTable separates an optional schema qualifier from a table name.
func splitTable(table string) (qualifier, name string) {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

// ParseColumns converts the rows of ColumnsQuery into Columns.
func (d Dialect) ParseColumns(rows []map[string]interface{}) []Column {
	cols := make([]Column, 0, len(rows))
	for _, row := range rows {
		var col Column
		switch d {
		case SQLite:
			col = Column{
				Field:   text(row["name"]),
				Type:    text(row["type"]),
				Null:    yesNo(!truthy(row["notnull"])),
				Default: row["dflt_value"],
			}
			if truthy(row["pk"]) {
				col.Key = "PRI"
			}
		case Postgres:
			col = Column{
				Field:   text(row["field"]),
				Type:    text(row["type"]),
				Null:    text(row["nullable"]),
				Default: row["dflt"],
			}
		default:
			col = Column{
				Field:   text(row["Field"]),
				Type:    text(row["Type"]),
				Null:    text(row["Null"]),
				Key:     text(row["Key"]),
				Default: row["Default"],
				Extra:   text(row["Extra"]),
			}
		}
		cols = append(cols, col)
	}
	return cols
}

// Returning is appended to an INSERT so postgres reports the new key.
func (d Dialect) Returning(pk string) string {
	if d != Postgres || pk == "" {
		return ""
	}
	return fmt.Sprintf(" RETURNING %s", pk)
}

// Values renders "(?,?),(?,?)" for n rows of width columns.
func Values(width, n int) string {
	row := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
	rows := make([]string, n)
	for i := range rows {
		rows[i] = row
	}
	return strings.Join(rows, ",")
}

// ReplaceInto renders a statement that inserts rows or replaces the rows
// they collide with on a unique key. pk is the conflict target on postgres.
func (d Dialect) ReplaceInto(table string, cols []string, n int, pk string) (string, error) {
	values := Values(len(cols), n)
	names := strings.Join(cols, ",")
	if d != Postgres {
		return fmt.Sprintf("REPLACE INTO %s (%s) VALUES %s", table, names, values), nil
	}
	if pk == "" {
		return "", fmt.Errorf("replace on %s requires a primary key", table)
	}

	var sets []string
	for _, c := range cols {
		if c == pk {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s", table, names, values, pk, action), nil
}

// InsertOnDuplicate renders an insert that, on a unique key collision, sets
// key to a trailing placeholder when withValue is true or leaves it as is.
func (d Dialect) InsertOnDuplicate(table string, cols []string, n int, pk, key string, withValue bool) (string, error) {
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(cols, ","), Values(len(cols), n))
	rhs := "?"

	switch d {
	case MySQL:
		if !withValue {
			rhs = key
		}
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s = %s", head, key, rhs), nil
	case SQLite:
		if !withValue {
			rhs = key
		}
		return fmt.Sprintf("%s ON CONFLICT DO UPDATE SET %s = %s", head, key, rhs), nil
	}

	if pk == "" {
		return "", fmt.Errorf("upsert on %s requires a primary key", table)
	}
	if !withValue {
		rhs = table + "." + key
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s = %s", head, pk, key, rhs), nil
}
