// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package table

import (
	"context"
	"fmt"
	"strings"

	"github.com/qolzam/dbtable/dbc"
	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/filter"
	"github.com/qolzam/dbtable/schema"
)

// Query is the general read: operator buckets, ordering, limit and projection.
type Query struct {
	Opts  filter.Opts
	Order *filter.Order
	Limit filter.Limit
	// Columns is SQL projection text. Empty or "*" selects the declared fields
	// and formats rows through the schema; anything else returns rows as read.
	Columns []string
}

// FindOptions tunes Find, FindOne and GetOr404.
type FindOptions struct {
	IncludeDeleted bool
	Columns        []string
	Order          *filter.Order
	Limit          filter.Limit
}

func (o *FindOptions) orDefault() FindOptions {
	if o == nil {
		return FindOptions{}
	}
	return *o
}

// Exist reports whether the bound table exists in the database.
func (t *Table) Exist(ctx context.Context) (bool, error) {
	sql, args := t.conn.Dialect().TableExistsQuery(t.conn.Database(), t.name)
	rows, err := t.query(ctx, "exist", sql, args)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	n, err := count(rows[0]["n"])
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ShowColumns describes the physical columns of the table.
func (t *Table) ShowColumns(ctx context.Context) ([]dbc.Column, error) {
	sql, args := t.conn.Dialect().ColumnsQuery(t.name)
	rows, err := t.query(ctx, "columns", sql, args)
	if err != nil {
		return nil, err
	}
	return t.conn.Dialect().ParseColumns(rows), nil
}

// ListColumnNames returns the physical column names in table order.
func (t *Table) ListColumnNames(ctx context.Context) ([]string, error) {
	cols, err := t.ShowColumns(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Field
	}
	return names, nil
}

// EnsureColumns fails unless every name is a physical column of the table.
func (t *Table) EnsureColumns(ctx context.Context, names ...string) error {
	existing, err := t.ListColumnNames(ctx)
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		set[name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := set[name]; !ok {
			return t.unknownField(name)
		}
	}
	return nil
}

// Query compiles q and reads the matching rows.
func (t *Table) Query(ctx context.Context, q Query) ([]schema.Row, error) {
	clause, err := t.compileOpts(q.Opts, q.Order, q.Limit)
	if err != nil {
		return nil, err
	}
	return t.selectRows(ctx, "select", q.Columns, clause)
}

func (t *Table) selectRows(ctx context.Context, op string, columns []string, clause filter.Clause) ([]schema.Row, error) {
	declared := len(columns) == 0 || (len(columns) == 1 && columns[0] == "*")
	if declared {
		columns = t.schema.Names()
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(columns, ","), t.name, clause.String())
	rows, err := t.query(ctx, op, sql, clause.Args)
	if err != nil {
		return nil, err
	}
	if declared {
		return t.schema.Format(rows)
	}

	out := make([]schema.Row, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out, nil
}

// Find reads the rows matching cond. Soft deleted rows are skipped unless
// opts.IncludeDeleted is set.
func (t *Table) Find(ctx context.Context, cond filter.Condition, opts *FindOptions) ([]schema.Row, error) {
	o := opts.orDefault()
	clause, err := t.compile(cond, !o.IncludeDeleted, o.Order, o.Limit)
	if err != nil {
		return nil, err
	}
	return t.selectRows(ctx, "select", o.Columns, clause)
}

// FindOne returns the single row matching cond, or nil when none does.
// Two or more matches fail with a conflict error.
func (t *Table) FindOne(ctx context.Context, cond filter.Condition, opts *FindOptions) (schema.Row, error) {
	o := opts.orDefault()
	o.Limit = filter.Top(2)
	rows, err := t.Find(ctx, cond, &o)
	if err != nil {
		return nil, err
	}

	switch {
	case len(rows) == 0:
		return nil, nil
	case len(rows) == 1 || t.opts.tolerateMultiple:
		return rows[0], nil
	}
	return nil, dbErrors.Conflict("[ConflictItems] <%s:%v> expect one or none, but get rows >= 2", t.name, map[string]interface{}(cond))
}

// GetOr404 is FindOne that fails with a 404 not found error when nothing matches.
func (t *Table) GetOr404(ctx context.Context, cond filter.Condition, opts *FindOptions) (schema.Row, error) {
	row, err := t.FindOne(ctx, cond, opts)
	if err != nil {
		return nil, err
	}
	if row == nil {
		e := dbErrors.NotFound("[DataNotFound] <%s:%v>", t.name, map[string]interface{}(cond))
		e.Errno = dbErrors.ErrnoNotFound404
		return nil, e
	}
	return row, nil
}

// FindOneByFields matches keys[i] = values[i], soft deleted rows included.
func (t *Table) FindOneByFields(ctx context.Context, keys []string, values []interface{}) (schema.Row, error) {
	if len(keys) != len(values) {
		return nil, dbErrors.Validation("DbTable<%s> %d keys for %d values", t.name, len(keys), len(values))
	}
	cond := make(filter.Condition, len(keys))
	for i, key := range keys {
		cond[key] = values[i]
	}
	return t.FindOne(ctx, cond, &FindOptions{IncludeDeleted: true})
}

// Count counts the rows matching cond.
func (t *Table) Count(ctx context.Context, cond filter.Condition, includeDeleted bool) (int64, error) {
	clause, err := t.compile(cond, !includeDeleted, nil, filter.Limit{})
	if err != nil {
		return 0, err
	}

	target := "*"
	if pk := t.schema.PrimaryKey(); pk != "" {
		target = pk
	}
	rows, err := t.selectRows(ctx, "count", []string{fmt.Sprintf("count(%s) AS count", target)}, clause)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return count(rows[0]["count"])
}

func count(v interface{}) (int64, error) {
	n, err := schema.KindInt.Format("count", v)
	if err != nil {
		return 0, err
	}
	i, _ := n.(int64)
	return i, nil
}
