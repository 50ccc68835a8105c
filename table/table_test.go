// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package table_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qolzam/dbtable/dbc"
	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/filter"
	"github.com/qolzam/dbtable/observability"
	"github.com/qolzam/dbtable/schema"
	"github.com/qolzam/dbtable/table"
)

const usersDDL = `CREATE TABLE users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	age INTEGER NOT NULL DEFAULT 0,
	tags TEXT,
	deleted BOOLEAN NOT NULL DEFAULT 0
)`

func userSchema() *schema.Schema {
	fields := append(schema.BaseFields(),
		schema.TrimString("name"),
		schema.Int("age").Default(0),
		schema.JSON("tags"),
	)
	return schema.MustNew(fields, schema.WithPrimaryKey("id"), schema.WithHiddenFlag("deleted"))
}

// reopen connects to the in-memory database private to the running test.
func reopen(t *testing.T) *dbc.Dbc {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := dbc.Open(context.Background(), dbc.Config{
		Driver:          dbc.SQLite,
		DSN:             fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		ConnectionLimit: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func openConn(t *testing.T) *dbc.Dbc {
	t.Helper()
	conn := reopen(t)
	_, err := conn.Exec(context.Background(), usersDDL)
	require.NoError(t, err)
	return conn
}

func newUsers(t *testing.T, opts ...table.Option) *table.Table {
	t.Helper()
	users, err := table.New("users", userSchema(), openConn(t), opts...)
	require.NoError(t, err)
	return users
}

func seed(t *testing.T, users *table.Table, names ...string) {
	t.Helper()
	objs := make([]map[string]interface{}, len(names))
	for i, name := range names {
		objs[i] = map[string]interface{}{"name": name, "age": i + 1}
	}
	res, err := users.AddMany(context.Background(), objs)
	require.NoError(t, err)
	require.Equal(t, int64(len(names)), res.AffectedRows)
}

func TestNew_Validation(t *testing.T) {
	conn := openConn(t)

	_, err := table.New("users; drop", userSchema(), conn)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = table.New("users", nil, conn)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = table.New("users", userSchema(), nil)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	users, err := table.New("users", userSchema(), conn)
	require.NoError(t, err)
	info := users.Info()
	assert.Equal(t, "users", info.Table)
	assert.Equal(t, "main", info.Database)
	assert.Equal(t, dbc.SQLite, info.Dialect)
	assert.Equal(t, []string{"id", "deleted", "name", "age", "tags"}, info.Fields)
	assert.Contains(t, users.String(), "[DbTable:users]")
}

func TestTable_Introspection(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	ok, err := users.Exist(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := users.ListColumnNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age", "tags", "deleted"}, names)

	require.NoError(t, users.EnsureColumns(ctx, "name", "deleted"))
	err = users.EnsureColumns(ctx, "email")
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
	assert.Contains(t, err.Error(), `unknown field "email"`)

	missing, err := table.New("ghosts", userSchema(), reopen(t))
	require.NoError(t, err)
	ok, err = missing.Exist(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTable_AddAndFind(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	res, err := users.Add(ctx, map[string]interface{}{
		"name":    "  ann ",
		"age":     "31",
		"tags":    []string{"a", "b"},
		"unknown": "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, table.OpInsert, res.Op)
	assert.Equal(t, int64(1), res.AffectedRows)
	assert.Equal(t, int64(1), res.InsertID)

	row, err := users.FindOne(ctx, filter.Condition{"name": "ann"}, nil)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(1), row["id"])
	assert.Equal(t, int64(31), row["age"])
	assert.Equal(t, false, row["deleted"])
	assert.Equal(t, []interface{}{"a", "b"}, row["tags"])

	none, err := users.FindOne(ctx, filter.Condition{"name": "nobody"}, nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTable_FindOneConflict(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a", "b")

	_, err := users.FindOne(ctx, filter.Condition{"deleted": false}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErrors.ErrConflict)
	assert.Contains(t, err.Error(), "[ConflictItems]")

	tolerant, err := table.New("users", userSchema(), reopen(t), table.WithTolerateMultiple())
	require.NoError(t, err)
	row, err := tolerant.FindOne(ctx, filter.Condition{"deleted": false}, &table.FindOptions{Order: filter.OrderBy("name")})
	require.NoError(t, err)
	assert.Equal(t, "a", row["name"])
}

func TestTable_GetOr404(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a")

	row, err := users.GetOr404(ctx, filter.Condition{"name": "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", row["name"])

	_, err = users.GetOr404(ctx, filter.Condition{"name": "zed"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErrors.ErrNotFound)
	resp := dbErrors.ToResponse(err)
	assert.Equal(t, dbErrors.ErrnoNotFound404, resp.Errno)
	assert.Contains(t, err.Error(), "[DataNotFound]")
}

func TestTable_QueryAndCount(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a", "b", "c", "d")

	rows, err := users.Query(ctx, table.Query{
		Opts:  filter.Opts{filter.Gt: {"age": 1}, filter.In: {"name": []string{"b", "c", "d"}}},
		Order: filter.OrderByDesc("age"),
		Limit: filter.Page(1, 2),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0]["name"])
	assert.Equal(t, "b", rows[1]["name"])

	raw, err := users.Query(ctx, table.Query{Columns: []string{"name", "age * 2 AS doubled"}, Limit: filter.Top(1), Order: filter.OrderBy("id")})
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, int64(2), raw[0]["doubled"])

	n, err := users.Count(ctx, filter.Condition{}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)

	n, err = users.Count(ctx, filter.Condition{}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	n, err = users.Count(ctx, filter.Condition{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = users.Query(ctx, table.Query{Opts: filter.Opts{filter.In: {"name": []string{}}}})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.Find(ctx, filter.Condition{"email": "x"}, nil)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.Find(ctx, filter.Condition{}, &table.FindOptions{Order: filter.OrderBy("age; drop")})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_NullConditions(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a", "b")
	_, err := users.Update(ctx, filter.Condition{"name": "a"}, map[string]interface{}{"tags": []int{1}}, false)
	require.NoError(t, err)

	rows, err := users.Find(ctx, filter.Condition{"tags": nil}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0]["name"])

	_, err = users.Find(ctx, filter.Condition{"tags": filter.Undefined}, nil)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	loose, err := table.New("users", userSchema(), reopen(t), table.WithEnableUndefined())
	require.NoError(t, err)
	rows, err = loose.Find(ctx, filter.Condition{"tags": filter.Undefined}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["name"])
}

func TestTable_Update(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a", "b")

	n, err := users.Update(ctx, filter.Condition{"name": "a"}, map[string]interface{}{}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = users.Update(ctx, filter.Condition{"name": "a"}, map[string]interface{}{"age": 40, "bogus": 1}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := users.FindOne(ctx, filter.Condition{"name": "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(40), row["age"])

	_, err = users.Update(ctx, filter.Condition{}, map[string]interface{}{"age": 1}, false)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.Update(ctx, filter.Condition{"name": "a"}, map[string]interface{}{"age": "old"}, false)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_DisableEnable(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a")

	res, err := users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, table.OpDisable, res.Op)
	assert.Equal(t, int64(1), res.AffectedRows)

	row, err := users.FindOne(ctx, filter.Condition{"name": "a"}, nil)
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = users.FindOneByFields(ctx, []string{"name"}, []interface{}{"a"})
	require.NoError(t, err)
	assert.Equal(t, true, row["deleted"])

	res, err = users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.AffectedRows)

	res, err = users.Enable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, table.OpEnable, res.Op)
	assert.Equal(t, int64(1), res.AffectedRows)

	_, err = users.FindOneByFields(ctx, []string{"name", "age"}, []interface{}{"a"})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_DisableWithoutFlag(t *testing.T) {
	plain := schema.MustNew([]schema.Field{schema.Int("id"), schema.String("name")}, schema.WithPrimaryKey("id"))
	users, err := table.New("users", plain, openConn(t))
	require.NoError(t, err)

	_, err = users.Disable(context.Background(), filter.Condition{"id": 1})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
	_, err = users.Enable(context.Background(), filter.Condition{"id": 1})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_Delete(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a", "b")

	_, err := users.Delete(ctx, filter.Condition{})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	res, err := users.Delete(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, table.OpDelete, res.Op)
	assert.Equal(t, int64(1), res.AffectedRows)

	all, err := table.New("users", userSchema(), reopen(t), table.WithAllowDeleteAll())
	require.NoError(t, err)
	res, err = all.Delete(ctx, filter.Condition{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
}

func TestTable_Ensure(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	res, err := users.Ensure(ctx, map[string]interface{}{"name": "a", "age": 3})
	require.NoError(t, err)
	assert.Equal(t, table.OpInsert, res.Op)

	res, err = users.Ensure(ctx, map[string]interface{}{"name": "a", "age": 3})
	require.NoError(t, err)
	assert.Equal(t, "", res.Op)

	_, err = users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)

	res, err = users.Ensure(ctx, map[string]interface{}{"name": "a", "age": 3, "deleted": false})
	require.NoError(t, err)
	assert.Equal(t, table.OpEnable, res.Op)
	assert.Equal(t, int64(1), res.AffectedRows)

	n, err := users.Count(ctx, filter.Condition{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = users.Ensure(ctx, map[string]interface{}{"bogus": 1})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_JSONConditions(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	obj := map[string]interface{}{"name": "a", "tags": []string{"x", "y"}}
	res, err := users.Ensure(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, table.OpInsert, res.Op)

	res, err = users.Ensure(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, "", res.Op)

	row, err := users.FindOne(ctx, filter.Condition{"name": "a"}, nil)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, []interface{}{"x", "y"}, row["tags"])

	n, err := users.Update(ctx, filter.Condition{"tags": row["tags"]}, map[string]interface{}{"age": 9}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = users.Count(ctx, filter.Condition{"tags": `["x","y"]`, "age": "9"}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = users.Find(ctx, filter.Condition{"age": []int{1, 2}}, nil)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_QualifiedName(t *testing.T) {
	ctx := context.Background()
	users, err := table.New("main.users", userSchema(), openConn(t))
	require.NoError(t, err)

	ok, err := users.Exist(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := users.ListColumnNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age", "tags", "deleted"}, names)

	seed(t, users, "a")
	res, err := users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)

	missing, err := table.New("main.ghosts", userSchema(), reopen(t))
	require.NoError(t, err)
	ok, err = missing.Exist(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTable_Upsert(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	up, err := users.Upsert(ctx, filter.Condition{"name": "a"}, map[string]interface{}{"age": 5})
	require.NoError(t, err)
	assert.Equal(t, table.OpInsert, up.Op)
	assert.Equal(t, schema.Row{"name": "a", "age": int64(5)}, up.Data)
	assert.Equal(t, int64(1), up.State.AffectedRows)

	_, err = users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)

	up, err = users.Upsert(ctx, filter.Condition{"name": "a"}, map[string]interface{}{"age": 6})
	require.NoError(t, err)
	assert.Equal(t, table.OpUpdate, up.Op)
	assert.Equal(t, int64(6), up.Data["age"])
	assert.Equal(t, false, up.Data["deleted"])
	assert.Equal(t, int64(1), up.State.AffectedRows)

	row, err := users.FindOne(ctx, filter.Condition{"name": "a"}, nil)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(6), row["age"])
}

func TestTable_ReplaceOne(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a")

	res, err := users.ReplaceOne(ctx, map[string]interface{}{"id": 1, "name": "a", "age": 9})
	require.NoError(t, err)
	assert.Equal(t, table.OpReplaceInto, res.Op)

	row, err := users.FindOne(ctx, filter.Condition{"id": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(9), row["age"])

	n, err := users.Count(ctx, filter.Condition{}, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTable_ReplaceMany(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)

	_, err := users.ReplaceMany(ctx, nil, true)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.ReplaceMany(ctx, []map[string]interface{}{{"name": "a"}, {"name": "b", "age": 2}}, true)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.ReplaceMany(ctx, []map[string]interface{}{{"name": "a", "email": "x"}}, false)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	res, err := users.ReplaceMany(ctx, []map[string]interface{}{{"name": "a", "age": 1}, {"name": "b", "age": 2}}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.AffectedRows)
}

func TestTable_UpsertMany(t *testing.T) {
	ctx := context.Background()
	users := newUsers(t)
	seed(t, users, "a")
	_, err := users.Disable(ctx, filter.Condition{"name": "a"})
	require.NoError(t, err)

	res, err := users.UpsertMany(ctx, []map[string]interface{}{{"name": "a", "age": 1}, {"name": "b", "age": 2}}, users.DefaultDuplicateUpdate(), true)
	require.NoError(t, err)
	assert.Equal(t, table.OpInsertOnDup, res.Op)

	n, err := users.Count(ctx, filter.Condition{}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = users.UpsertMany(ctx, []map[string]interface{}{{"name": "a"}}, table.DuplicateUpdate{Key: "email"}, true)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.UpsertMany(ctx, nil, users.DefaultDuplicateUpdate(), true)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_AddManyMismatch(t *testing.T) {
	users := newUsers(t)

	_, err := users.AddMany(context.Background(), nil)
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.AddMany(context.Background(), []map[string]interface{}{{"name": "a", "age": 1}, {"name": "b"}})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)

	_, err = users.Add(context.Background(), map[string]interface{}{"bogus": 1})
	assert.ErrorIs(t, err, dbErrors.ErrValidation)
}

func TestTable_DriverErrorAndMetrics(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewCollector()
	users, err := table.New("users", userSchema(), openConn(t), table.WithMetrics(metrics), table.WithDebug())
	require.NoError(t, err)
	seed(t, users, "a")

	_, err = users.Add(ctx, map[string]interface{}{"name": "a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErrors.ErrIO)
	assert.True(t, dbc.IsUniqueViolation(err))

	ins, ok := metrics.Op(table.OpInsert)
	require.True(t, ok)
	assert.Equal(t, int64(2), ins.Count)
	assert.Equal(t, int64(1), ins.Failed)
	assert.Same(t, metrics, users.Metrics())

	rows, err := users.Select(ctx, "SELECT name FROM users WHERE age = ?", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	res, err := users.Exec(ctx, "UPDATE users SET age = age + 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.AffectedRows)
}
