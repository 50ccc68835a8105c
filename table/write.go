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

// UpsertResult reports which branch Upsert took, the row it wrote and the
// write result of that branch.
type UpsertResult struct {
	Op    string
	Data  schema.Row
	State Result
}

// DuplicateUpdate is the assignment UpsertMany applies to rows that collide
// on a unique key. A nil Value leaves Key unchanged.
type DuplicateUpdate struct {
	Key   string
	Value interface{}
}

// DefaultDuplicateUpdate revives soft deleted rows on collision by clearing
// the hidden flag. Without a flag the key is empty and UpsertMany rejects it.
func (t *Table) DefaultDuplicateUpdate() DuplicateUpdate {
	return DuplicateUpdate{Key: t.schema.HiddenFlag(), Value: false}
}

// Add inserts one object. Values go through the schema first; unknown keys
// are dropped.
func (t *Table) Add(ctx context.Context, obj map[string]interface{}) (Result, error) {
	return t.insert(ctx, []map[string]interface{}{obj})
}

// AddMany inserts objects in one statement. Every object must carry the same fields.
func (t *Table) AddMany(ctx context.Context, objs []map[string]interface{}) (Result, error) {
	if len(objs) == 0 {
		return Result{}, dbErrors.Validation("DbTable<%s> no objects to insert", t.name)
	}
	return t.insert(ctx, objs)
}

func (t *Table) insert(ctx context.Context, objs []map[string]interface{}) (Result, error) {
	forms, err := t.forms(objs, true)
	if err != nil {
		return Result{}, err
	}
	cols, args, err := t.matrix(forms)
	if err != nil {
		return Result{}, err
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", t.name, strings.Join(cols, ","), dbc.Values(len(cols), len(forms)))
	pk := t.schema.PrimaryKey()
	if returning := t.conn.Dialect().Returning(pk); returning != "" {
		rows, err := t.query(ctx, OpInsert, sql+returning, args)
		if err != nil {
			return Result{}, err
		}
		res := Result{Op: OpInsert, AffectedRows: int64(len(rows))}
		if len(rows) > 0 {
			if id, err := count(rows[len(rows)-1][pk]); err == nil {
				res.InsertID = id
			}
		}
		return res, nil
	}

	res, err := t.exec(ctx, OpInsert, sql, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpInsert, AffectedRows: res.AffectedRows, InsertID: res.InsertID}, nil
}

// Update sets changes on the rows matching cond and returns the affected row
// count. Empty changes issue no statement.
func (t *Table) Update(ctx context.Context, cond filter.Condition, changes map[string]interface{}, includeDeleted bool) (int64, error) {
	if len(changes) == 0 {
		return 0, nil
	}
	form, err := t.schema.StrictForm(changes)
	if err != nil {
		return 0, err
	}
	if len(form) == 0 {
		return 0, nil
	}
	if len(cond) == 0 && !t.opts.allowUpdateAll {
		return 0, dbErrors.Validation("DbTable<%s> refuse to update without condition", t.name)
	}

	clause, err := t.compile(cond, !includeDeleted, nil, filter.Limit{})
	if err != nil {
		return 0, err
	}

	sets := make([]string, 0, len(form))
	args := make([]interface{}, 0, len(form)+len(clause.Args))
	for _, name := range t.schema.Names() {
		v, ok := form[name]
		if !ok {
			continue
		}
		bound, err := t.schema.Bind(name, v)
		if err != nil {
			return 0, err
		}
		sets = append(sets, name+" = ?")
		args = append(args, bound)
	}
	args = append(args, clause.Args...)

	sql := fmt.Sprintf("UPDATE %s SET %s%s", t.name, strings.Join(sets, ", "), clause.Where)
	res, err := t.exec(ctx, OpUpdate, sql, args)
	if err != nil {
		return 0, err
	}
	return res.AffectedRows, nil
}

// Ensure makes sure a row like obj exists and is not soft deleted: absent rows
// are inserted, deleted ones enabled, live ones left alone with an empty Op.
func (t *Table) Ensure(ctx context.Context, obj map[string]interface{}) (Result, error) {
	form, err := t.schema.StrictForm(obj)
	if err != nil {
		return Result{}, err
	}
	flag := t.schema.HiddenFlag()
	delete(form, flag)
	if len(form) == 0 {
		return Result{}, dbErrors.Validation("DbTable<%s> no fields to ensure", t.name)
	}

	item, err := t.FindOne(ctx, filter.Condition(form), &FindOptions{IncludeDeleted: true})
	if err != nil {
		return Result{}, err
	}
	if item == nil {
		return t.Add(ctx, obj)
	}
	if deleted, _ := item[flag].(bool); flag != "" && deleted {
		return t.Enable(ctx, t.identity(item, filter.Condition(form)))
	}
	return Result{}, nil
}

// identity narrows a found row to its primary key when the schema has one.
func (t *Table) identity(item schema.Row, fallback filter.Condition) filter.Condition {
	pk := t.schema.PrimaryKey()
	if v, ok := item[pk]; pk != "" && ok && v != nil {
		return filter.Condition{pk: v}
	}
	return fallback
}

// Upsert inserts cond merged with changes when no row matches cond, otherwise
// updates the match and revives it if soft deleted. It reads then writes, so
// concurrent callers can both insert; use UpsertMany or ReplaceOne against a
// unique key when that matters.
func (t *Table) Upsert(ctx context.Context, cond filter.Condition, changes map[string]interface{}) (UpsertResult, error) {
	item, err := t.FindOne(ctx, cond, &FindOptions{IncludeDeleted: true})
	if err != nil {
		return UpsertResult{}, err
	}

	if item == nil {
		data := make(map[string]interface{}, len(cond)+len(changes))
		for k, v := range cond {
			data[k] = v
		}
		for k, v := range changes {
			data[k] = v
		}
		form, err := t.schema.StrictForm(data)
		if err != nil {
			return UpsertResult{}, err
		}
		res, err := t.Add(ctx, data)
		if err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{Op: OpInsert, Data: form, State: res}, nil
	}

	updates := make(map[string]interface{}, len(changes)+1)
	for k, v := range changes {
		updates[k] = v
	}
	if flag := t.schema.HiddenFlag(); flag != "" {
		if deleted, _ := item[flag].(bool); deleted {
			updates[flag] = false
		}
	}
	form, err := t.schema.StrictForm(updates)
	if err != nil {
		return UpsertResult{}, err
	}

	n, err := t.Update(ctx, cond, updates, true)
	if err != nil {
		return UpsertResult{}, err
	}
	data := make(schema.Row, len(item)+len(form))
	for k, v := range item {
		data[k] = v
	}
	for k, v := range form {
		data[k] = v
	}
	return UpsertResult{Op: OpUpdate, Data: data, State: Result{Op: OpUpdate, AffectedRows: n}}, nil
}

// ReplaceOne writes obj with the database's replace semantics in one statement.
func (t *Table) ReplaceOne(ctx context.Context, obj map[string]interface{}) (Result, error) {
	return t.ReplaceMany(ctx, []map[string]interface{}{obj}, true)
}

// ReplaceMany writes objs with the database's replace semantics in one
// statement. Without strict, values skip formatting but keys must still be
// declared fields.
func (t *Table) ReplaceMany(ctx context.Context, objs []map[string]interface{}, strict bool) (Result, error) {
	if len(objs) == 0 {
		return Result{}, dbErrors.Validation("DbTable<%s> no objects to replace", t.name)
	}
	forms, err := t.forms(objs, strict)
	if err != nil {
		return Result{}, err
	}
	cols, args, err := t.matrix(forms)
	if err != nil {
		return Result{}, err
	}

	sql, err := t.conn.Dialect().ReplaceInto(t.name, cols, len(forms), t.schema.PrimaryKey())
	if err != nil {
		return Result{}, dbErrors.Validation("DbTable<%s> %v", t.name, err)
	}
	res, err := t.exec(ctx, OpReplaceInto, sql, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpReplaceInto, AffectedRows: res.AffectedRows, InsertID: res.InsertID}, nil
}

// UpsertMany inserts objs in one statement and applies dup to rows that
// collide on a unique key.
func (t *Table) UpsertMany(ctx context.Context, objs []map[string]interface{}, dup DuplicateUpdate, strict bool) (Result, error) {
	if dup.Key == "" {
		return Result{}, dbErrors.Validation("DbTable<%s> duplicate update without key", t.name)
	}
	if err := t.EnsureColumns(ctx, dup.Key); err != nil {
		return Result{}, err
	}
	if len(objs) == 0 {
		return Result{}, dbErrors.Validation("DbTable<%s> no objects to upsert", t.name)
	}

	forms, err := t.forms(objs, strict)
	if err != nil {
		return Result{}, err
	}
	cols, args, err := t.matrix(forms)
	if err != nil {
		return Result{}, err
	}

	withValue := dup.Value != nil
	sql, err := t.conn.Dialect().InsertOnDuplicate(t.name, cols, len(forms), t.schema.PrimaryKey(), dup.Key, withValue)
	if err != nil {
		return Result{}, dbErrors.Validation("DbTable<%s> %v", t.name, err)
	}
	if withValue {
		v, err := t.bindValue(dup.Key, dup.Value)
		if err != nil {
			return Result{}, err
		}
		args = append(args, v)
	}

	res, err := t.exec(ctx, OpInsertOnDup, sql, args)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpInsertOnDup, AffectedRows: res.AffectedRows, InsertID: res.InsertID}, nil
}

// Disable soft deletes the live rows matching cond.
func (t *Table) Disable(ctx context.Context, cond filter.Condition) (Result, error) {
	return t.setHidden(ctx, OpDisable, cond, true)
}

// Enable restores the rows matching cond, deleted or not.
func (t *Table) Enable(ctx context.Context, cond filter.Condition) (Result, error) {
	return t.setHidden(ctx, OpEnable, cond, false)
}

func (t *Table) setHidden(ctx context.Context, op string, cond filter.Condition, hidden bool) (Result, error) {
	flag := t.schema.HiddenFlag()
	if flag == "" {
		return Result{}, dbErrors.Validation("DbTable<%s> has no hidden flag, cannot %s", t.name, op)
	}
	if err := t.EnsureColumns(ctx, flag); err != nil {
		return Result{}, err
	}
	n, err := t.Update(ctx, cond, map[string]interface{}{flag: hidden}, !hidden)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: op, AffectedRows: n}, nil
}

// Delete removes the rows matching cond, soft deleted ones included. An
// empty cond is refused unless the gateway allows deleting everything.
func (t *Table) Delete(ctx context.Context, cond filter.Condition) (Result, error) {
	if len(cond) == 0 && !t.opts.allowDeleteAll {
		return Result{}, dbErrors.Validation("DbTable<%s> refuse to delete without condition", t.name)
	}
	clause, err := t.compile(cond, false, nil, filter.Limit{})
	if err != nil {
		return Result{}, err
	}

	sql := fmt.Sprintf("DELETE FROM %s%s", t.name, clause.Where)
	res, err := t.exec(ctx, OpDelete, sql, clause.Args)
	if err != nil {
		return Result{}, err
	}
	return Result{Op: OpDelete, AffectedRows: res.AffectedRows}, nil
}

// forms prepares objects for a write. Strict forms go through the schema;
// loose ones only drop undefined values and reject undeclared keys.
func (t *Table) forms(objs []map[string]interface{}, strict bool) ([]schema.Row, error) {
	forms := make([]schema.Row, len(objs))
	for i, obj := range objs {
		if strict {
			form, err := t.schema.StrictForm(obj)
			if err != nil {
				return nil, err
			}
			forms[i] = form
			continue
		}

		form := make(schema.Row, len(obj))
		for k, v := range obj {
			if !t.schema.Has(k) {
				return nil, t.unknownField(k)
			}
			if filter.IsUndefined(v) {
				continue
			}
			form[k] = v
		}
		forms[i] = form
	}
	return forms, nil
}

// matrix lays forms out as a column list, in schema order and taken from the
// first form, and the flattened driver arguments.
func (t *Table) matrix(forms []schema.Row) ([]string, []interface{}, error) {
	var cols []string
	for _, name := range t.schema.Names() {
		if _, ok := forms[0][name]; ok {
			cols = append(cols, name)
		}
	}
	if len(cols) == 0 {
		return nil, nil, dbErrors.Validation("DbTable<%s> no fields to write", t.name)
	}

	args := make([]interface{}, 0, len(cols)*len(forms))
	for i, form := range forms {
		if len(form) != len(cols) {
			return nil, nil, dbErrors.Validation("DbTable<%s> object #%d has different fields than the first", t.name, i)
		}
		for _, col := range cols {
			v, ok := form[col]
			if !ok {
				return nil, nil, dbErrors.Validation("DbTable<%s> object #%d has no field %q", t.name, i, col)
			}
			bound, err := t.schema.Bind(col, v)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, bound)
		}
	}
	return cols, args, nil
}

// bindValue formats v as field name when the schema declares it.
func (t *Table) bindValue(name string, v interface{}) (interface{}, error) {
	f, ok := t.schema.Field(name)
	if !ok {
		return v, nil
	}
	formatted, err := f.Format(v)
	if err != nil {
		return nil, err
	}
	return t.schema.Bind(name, formatted)
}
