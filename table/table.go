// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package table is a schema driven gateway over one database table: validated
// reads, inserts, updates, soft delete and the duplicate key write paths.
package table

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"time"

	"github.com/gofrs/uuid"

	"github.com/qolzam/dbtable/dbc"
	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/filter"
	"github.com/qolzam/dbtable/internal/pkg/log"
	"github.com/qolzam/dbtable/observability"
	"github.com/qolzam/dbtable/schema"
)

// Conn is the connection handle a Table issues statements through.
// *dbc.Dbc implements it.
type Conn interface {
	Tag() string
	URI() string
	Database() string
	Dialect() dbc.Dialect
	Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error)
	Exec(ctx context.Context, query string, args ...interface{}) (dbc.Result, error)
}

// Operation labels carried by write results.
const (
	OpInsert      = "insert"
	OpUpdate      = "update"
	OpReplaceInto = "replace_into"
	OpInsertOnDup = "insert_ondup"
	OpDelete      = "delete"
	OpDisable     = "disable"
	OpEnable      = "enable"
)

// Result reports a write.
type Result struct {
	Op           string
	AffectedRows int64
	InsertID     int64
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Table is a stateless gateway bound to one table, schema and connection.
type Table struct {
	name     string
	schema   *schema.Schema
	conn     Conn
	compiler filter.Compiler
	opts     options
}

// New binds a gateway. conn must be a handle produced by package dbc.
func New(name string, s *schema.Schema, conn Conn, opts ...Option) (*Table, error) {
	if !tableName.MatchString(name) {
		return nil, dbErrors.Validation("[DbTable:%s] invalid table name", name)
	}
	if s == nil {
		return nil, dbErrors.Validation("[DbTable:%s] init DbTable without schema", name)
	}
	if conn == nil || conn.Tag() != dbc.Tag || conn.URI() == "" {
		return nil, dbErrors.Validation("[DbTable:%s] init DbTable with invalid dbc", name)
	}

	t := &Table{
		name:     name,
		schema:   s,
		conn:     conn,
		compiler: conn.Dialect().Compiler(),
	}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t, nil
}

func (t *Table) Name() string           { return t.name }
func (t *Table) Schema() *schema.Schema { return t.schema }

// Info describes the binding of a gateway.
type Info struct {
	Table    string
	Database string
	Dialect  dbc.Dialect
	URI      string
	Fields   []string
}

// Info reports the table, database and connection the gateway is bound to.
// The password in the URI is redacted.
func (t *Table) Info() Info {
	return Info{
		Table:    t.name,
		Database: t.conn.Database(),
		Dialect:  t.conn.Dialect(),
		URI:      redact(t.conn.URI()),
		Fields:   t.schema.Names(),
	}
}

func (t *Table) String() string {
	info := t.Info()
	return fmt.Sprintf("[DbTable:%s] dbc=%s", info.Table, info.URI)
}

func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Redacted()
}

// compile builds the WHERE/ORDER/LIMIT tail for a flat condition.
func (t *Table) compile(cond filter.Condition, ensureNotDeleted bool, order *filter.Order, limit filter.Limit) (filter.Clause, error) {
	if err := t.checkCondition(cond); err != nil {
		return filter.Clause{}, err
	}
	opts, err := filter.OptFilter(t.schema.QueryForm(cond, ensureNotDeleted))
	if err != nil {
		return filter.Clause{}, err
	}
	return t.compileOpts(opts, order, limit)
}

func (t *Table) compileOpts(opts filter.Opts, order *filter.Order, limit filter.Limit) (filter.Clause, error) {
	bound := make(filter.Opts, len(opts))
	for op, form := range opts {
		out := make(filter.Condition, len(form))
		for key, value := range form {
			if !t.schema.Has(key) {
				return filter.Clause{}, t.unknownField(key)
			}
			v, err := t.operand(op, key, value)
			if err != nil {
				return filter.Clause{}, err
			}
			out[key] = v
		}
		bound[op] = out
	}
	if order != nil {
		for _, key := range order.Keys {
			if !t.schema.Has(key) {
				return filter.Clause{}, t.unknownField(key)
			}
		}
	}
	return t.compiler.Format(bound, order, limit)
}

// operand formats and binds a condition value the way a written value of the
// same field is stored. IS and LIKE operands are left alone, IN lists are
// bound element by element.
func (t *Table) operand(op filter.Operator, key string, value interface{}) (interface{}, error) {
	if value == nil || filter.IsUndefined(value) {
		return value, nil
	}
	switch op {
	case filter.Is, filter.IsNot, filter.Like:
		return value, nil
	case filter.In, filter.NotIn:
		if !isList(value) {
			return value, nil
		}
		rv := reflect.ValueOf(value)
		list := make([]interface{}, rv.Len())
		for i := range list {
			v, err := t.bindValue(key, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			list[i] = v
		}
		return list, nil
	}

	v, err := t.bindValue(key, value)
	if err != nil {
		return nil, err
	}
	if isList(v) {
		return nil, dbErrors.Validation("DbTable<%s> invalid %s=%v, require scalar under %s", t.name, key, value, op)
	}
	return v, nil
}

// isList matches the argument shapes sqlx.In expands into several placeholders.
func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(driver.Valuer); ok {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}

func (t *Table) checkCondition(cond filter.Condition) error {
	if t.opts.enableUndefined {
		return nil
	}
	if key, ok := cond.HasUndefined(); ok {
		return dbErrors.Validation("[DbTable:%s] invalid %s=undefined", t.name, key)
	}
	return nil
}

func (t *Table) unknownField(name string) error {
	return dbErrors.Validation("DbTable<%s> unknown field %q", t.name, name)
}

// query and exec are the only places statements leave the gateway.
func (t *Table) query(ctx context.Context, op, sql string, args []interface{}) ([]map[string]interface{}, error) {
	ctx = t.trace(ctx, sql, args)
	start := time.Now()
	rows, err := t.conn.Query(ctx, sql, args...)
	err = t.finish(ctx, op, start, sql, err)
	return rows, err
}

func (t *Table) exec(ctx context.Context, op, sql string, args []interface{}) (dbc.Result, error) {
	ctx = t.trace(ctx, sql, args)
	start := time.Now()
	res, err := t.conn.Exec(ctx, sql, args...)
	err = t.finish(ctx, op, start, sql, err)
	return res, err
}

func (t *Table) trace(ctx context.Context, sql string, args []interface{}) context.Context {
	if !t.opts.debug {
		return ctx
	}
	if id, err := uuid.NewV4(); err == nil {
		ctx = log.WithStatementID(ctx, id.String()[:8])
	}
	log.DebugWithContext(ctx, "[DbTable:%s] %s\n%s", t.name, sql, log.Dump(args))
	return ctx
}

func (t *Table) finish(ctx context.Context, op string, start time.Time, sql string, err error) error {
	if err != nil {
		var sqlErr *dbErrors.SqlError
		if !errors.As(err, &sqlErr) {
			err = dbErrors.IO(err, "[DbTable:%s] %s", t.name, sql)
		}
		if t.opts.debug {
			log.ErrorWithContext(ctx, "[DbTable:%s] %v", t.name, err)
		}
	}
	if t.opts.metrics != nil {
		t.opts.metrics.Record(op, time.Since(start), err)
	}
	return err
}

// Exec runs raw SQL through the gateway's connection.
func (t *Table) Exec(ctx context.Context, sql string, args ...interface{}) (dbc.Result, error) {
	return t.exec(ctx, "exec", sql, args)
}

// Select runs a raw query through the gateway's connection. Rows are not formatted.
func (t *Table) Select(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	return t.query(ctx, "select_raw", sql, args)
}

var _ Conn = (*dbc.Dbc)(nil)

// Metrics returns the collector the gateway records into, if any.
func (t *Table) Metrics() *observability.Collector {
	return t.opts.metrics
}
