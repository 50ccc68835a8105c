// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package filter

import (
	"math"
	"reflect"
	"sort"

	dbErrors "github.com/qolzam/dbtable/errors"
)

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks a condition entry that must be present but may hold any
// value. It compiles to IS NOT NULL.
var Undefined = undefined{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

// Condition maps a field name to the value it is filtered on.
type Condition map[string]interface{}

// Clone returns a shallow copy of c. A nil condition clones to an empty one.
func (c Condition) Clone() Condition {
	out := make(Condition, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Keys returns the field names of c in ascending order.
func (c Condition) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasUndefined reports whether any entry of c holds the Undefined marker.
func (c Condition) HasUndefined() (string, bool) {
	for _, k := range c.Keys() {
		if IsUndefined(c[k]) {
			return k, true
		}
	}
	return "", false
}

// Operator is one of the recognized operator bucket keys.
type Operator string

const (
	Eq    Operator = "eq"
	Ne    Operator = "ne"
	Gt    Operator = "gt"
	Ge    Operator = "ge"
	Lt    Operator = "lt"
	Le    Operator = "le"
	In    Operator = "in"
	NotIn Operator = "not_in"
	Like  Operator = "like"
	Is    Operator = "is"
	IsNot Operator = "is_not"
)

var sqlOperators = map[Operator]string{
	Eq:    "=",
	Ne:    "!=",
	Gt:    ">",
	Ge:    ">=",
	Lt:    "<",
	Le:    "<=",
	In:    "IN",
	NotIn: "NOT IN",
	Like:  "LIKE",
	Is:    "IS",
	IsNot: "IS NOT",
}

// bucket visiting order
var operatorOrder = []Operator{Eq, Ne, Gt, Ge, Lt, Le, In, NotIn, Like, Is, IsNot}

// SQL returns the SQL token of o.
func (o Operator) SQL() (string, bool) {
	op, ok := sqlOperators[o]
	return op, ok
}

// Operators returns the recognized operators in compile order.
func Operators() []Operator {
	out := make([]Operator, len(operatorOrder))
	copy(out, operatorOrder)
	return out
}

// Opts groups conditions by operator bucket.
type Opts map[Operator]Condition

// OptFilter classifies a flat condition into the is, is_not and eq buckets.
// nil values test IS NULL, Undefined values test IS NOT NULL, everything else
// is an equality.
func OptFilter(cond Condition) (Opts, error) {
	opts := Opts{}
	put := func(op Operator, key string, value interface{}) {
		if opts[op] == nil {
			opts[op] = Condition{}
		}
		opts[op][key] = value
	}

	for _, key := range cond.Keys() {
		value := cond[key]
		if IsNaN(value) {
			return nil, dbErrors.Validation("invalid %s=%v, require number", key, value)
		}
		switch {
		case value == nil:
			put(Is, key, nil)
		case IsUndefined(value):
			put(IsNot, key, nil)
		default:
			put(Eq, key, value)
		}
	}
	return opts, nil
}

// IsNaN reports whether v is a floating point NaN.
func IsNaN(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return math.IsNaN(n)
	case float32:
		return math.IsNaN(float64(n))
	}
	return false
}

// isList reports whether v is a slice or array other than raw bytes.
func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	kind := reflect.TypeOf(v).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
