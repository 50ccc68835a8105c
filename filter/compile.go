// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	dbErrors "github.com/qolzam/dbtable/errors"
)

// Order describes an ORDER BY clause. Ascending unless Desc is set.
type Order struct {
	Keys []string
	Desc bool
}

// OrderBy orders ascending by keys.
func OrderBy(keys ...string) *Order {
	return &Order{Keys: keys}
}

// OrderByDesc orders descending by keys.
func OrderByDesc(keys ...string) *Order {
	return &Order{Keys: keys, Desc: true}
}

// Limit is a row count with an optional offset. A non-positive Count means no limit.
type Limit struct {
	Offset int
	Count  int
}

// Top limits the result to n rows.
func Top(n int) Limit {
	return Limit{Count: n}
}

// Page skips offset rows and returns at most count rows.
func Page(offset, count int) Limit {
	return Limit{Offset: offset, Count: count}
}

// LimitStyle selects how a Limit with an offset is rendered.
type LimitStyle int

const (
	// LimitComma renders LIMIT offset,count (MySQL, SQLite).
	LimitComma LimitStyle = iota
	// LimitOffset renders LIMIT count OFFSET offset (PostgreSQL).
	LimitOffset
)

// Clause is a compiled WHERE/ORDER/LIMIT tail and its positional arguments.
// Every fragment starts with a space so it can follow a table name directly.
type Clause struct {
	Where string
	Order string
	Limit string
	Args  []interface{}
}

// String joins the clause fragments.
func (c Clause) String() string {
	return c.Where + c.Order + c.Limit
}

// Placeholders counts the positional markers in the clause text.
func (c Clause) Placeholders() int {
	return strings.Count(c.String(), "?")
}

// Compiler renders operator buckets into a Clause.
type Compiler struct {
	Style LimitStyle
}

// SQLFormat compiles opts, order and limit with the default limit style.
func SQLFormat(opts Opts, order *Order, limit Limit) (Clause, error) {
	return Compiler{}.Format(opts, order, limit)
}

// Format compiles opts, order and limit. Buckets are ANDed in operator order,
// fields within a bucket in name order.
func (c Compiler) Format(opts Opts, order *Order, limit Limit) (Clause, error) {
	var clause Clause

	if err := checkOperators(opts); err != nil {
		return clause, err
	}

	var parts []string
	for _, op := range operatorOrder {
		form, ok := opts[op]
		if !ok || len(form) == 0 {
			continue
		}
		q, args, err := formatBucket(op, form)
		if err != nil {
			return Clause{}, err
		}
		parts = append(parts, q)
		clause.Args = append(clause.Args, args...)
	}
	if query := strings.Join(parts, " AND "); query != "" {
		clause.Where = fmt.Sprintf(" WHERE %s ", query)
	}

	if order != nil && len(order.Keys) > 0 {
		clause.Order = fmt.Sprintf(" ORDER BY %s ", strings.Join(order.Keys, ","))
		if order.Desc {
			clause.Order += " DESC "
		}
	}

	clause.Limit = c.formatLimit(limit)
	return clause, nil
}

func (c Compiler) formatLimit(limit Limit) string {
	if limit.Count <= 0 {
		return ""
	}
	if limit.Offset <= 0 {
		return fmt.Sprintf(" LIMIT %d ", limit.Count)
	}
	if c.Style == LimitOffset {
		return fmt.Sprintf(" LIMIT %d OFFSET %d ", limit.Count, limit.Offset)
	}
	return fmt.Sprintf(" LIMIT %d,%d ", limit.Offset, limit.Count)
}

func checkOperators(opts Opts) error {
	marks := make([]string, 0, len(opts))
	for op := range opts {
		marks = append(marks, string(op))
	}
	sort.Strings(marks)
	for _, mark := range marks {
		if _, ok := Operator(mark).SQL(); !ok {
			return dbErrors.Validation("invalid OP<%s>", mark)
		}
	}
	return nil
}

func formatBucket(op Operator, form Condition) (string, []interface{}, error) {
	sqlOp, _ := op.SQL()
	keys := form.Keys()
	qs := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys))

	for _, key := range keys {
		value := form[key]
		if IsNaN(value) {
			return "", nil, dbErrors.Validation("invalid %s=%v, require number", key, value)
		}
		if IsUndefined(value) {
			return "", nil, dbErrors.Validation("invalid %s=undefined under OP<%s>", key, op)
		}

		switch op {
		case Is, IsNot:
			operand, err := nullOperand(key, value)
			if err != nil {
				return "", nil, err
			}
			qs = append(qs, fmt.Sprintf(" %s %s %s ", key, sqlOp, operand))
		case In, NotIn:
			if isList(value) && reflect.ValueOf(value).Len() == 0 {
				return "", nil, dbErrors.Validation("invalid %s, empty list for OP<%s>", key, op)
			}
			qs = append(qs, fmt.Sprintf(" %s %s (?) ", key, sqlOp))
			args = append(args, value)
		default:
			qs = append(qs, fmt.Sprintf(" %s %s ? ", key, sqlOp))
			args = append(args, value)
		}
	}
	return strings.Join(qs, " AND "), args, nil
}

// nullOperand renders the right side of IS / IS NOT. Drivers do not accept a
// bound operand there, so the literal is written into the text.
func nullOperand(key string, value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if v {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	return "", dbErrors.Validation("invalid %s=%v, IS requires null or bool", key, value)
}
