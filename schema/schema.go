// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package schema

import (
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/filter"
)

// field names are written into SQL text, so they must be plain identifiers
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether name can be used as a column name.
func IsIdentifier(name string) bool {
	return identifier.MatchString(name)
}

// Row is a single record keyed by column name.
type Row map[string]interface{}

// Field declares one column: its name, conversion kind and optional default.
type Field struct {
	name       string
	kind       Kind
	def        interface{}
	hasDefault bool
}

func newField(name string, kind Kind) Field {
	return Field{name: name, kind: kind}
}

func Int(name string) Field        { return newField(name, KindInt) }
func IntU(name string) Field       { return newField(name, KindIntU) }
func Float(name string) Field      { return newField(name, KindFloat) }
func Bool(name string) Field       { return newField(name, KindBool) }
func String(name string) Field     { return newField(name, KindString) }
func TrimString(name string) Field { return newField(name, KindTrimString) }
func Time(name string) Field       { return newField(name, KindTime) }
func JSON(name string) Field       { return newField(name, KindJSON) }
func Decimal(name string) Field    { return newField(name, KindDecimal) }
func UUID(name string) Field       { return newField(name, KindUUID) }
func Opaque(name string) Field     { return newField(name, KindOpaque) }

// Default returns a copy of f that falls back to v when a row lacks the column.
func (f Field) Default(v interface{}) Field {
	f.def = v
	f.hasDefault = true
	return f
}

func (f Field) Name() string { return f.name }
func (f Field) Kind() Kind   { return f.kind }

// DefaultValue returns the declared default, or filter.Undefined when none is set.
func (f Field) DefaultValue() interface{} {
	if !f.hasDefault {
		return filter.Undefined
	}
	return f.def
}

// Format applies the field's kind to raw.
func (f Field) Format(raw interface{}) (interface{}, error) {
	return f.kind.Format(f.name, raw)
}

// valueOf formats row[f.name], or the default when the key is absent.
func (f Field) valueOf(row map[string]interface{}) (interface{}, error) {
	raw, ok := row[f.name]
	if !ok {
		raw = f.DefaultValue()
	}
	return f.Format(raw)
}

// Option configures a Schema.
type Option func(*Schema)

// WithPrimaryKey designates the primary key column.
func WithPrimaryKey(name string) Option {
	return func(s *Schema) { s.pk = name }
}

// WithHiddenFlag designates the soft delete column. It must be a Bool field.
func WithHiddenFlag(name string) Option {
	return func(s *Schema) { s.flag = name }
}

// Schema is an immutable, ordered set of fields.
type Schema struct {
	fields []Field
	index  map[string]int
	pk     string
	flag   string
}

// New builds a schema from fields.
func New(fields []Field, opts ...Option) (*Schema, error) {
	s := &Schema{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(s.fields, fields)
	for _, opt := range opts {
		opt(s)
	}

	if len(s.fields) == 0 {
		return nil, dbErrors.Validation("schema requires at least one field")
	}
	for i, f := range s.fields {
		if f.name == "" {
			return nil, dbErrors.Validation("schema field #%d has no name", i)
		}
		if !IsIdentifier(f.name) {
			return nil, dbErrors.Validation("invalid field name %q", f.name)
		}
		if _, dup := s.index[f.name]; dup {
			return nil, dbErrors.Validation("duplicate field %q", f.name)
		}
		if f.hasDefault {
			if _, err := f.Format(f.def); err != nil {
				return nil, err
			}
		}
		s.index[f.name] = i
	}
	if s.pk != "" && !s.Has(s.pk) {
		return nil, dbErrors.Validation("unknown primary key %q", s.pk)
	}
	if s.flag != "" {
		f, ok := s.Field(s.flag)
		if !ok {
			return nil, dbErrors.Validation("unknown hidden flag %q", s.flag)
		}
		if f.kind != KindBool {
			return nil, dbErrors.Validation("hidden flag %q must be bool, got %s", s.flag, f.kind)
		}
	}
	return s, nil
}

// MustNew is like New but panics on error.
func MustNew(fields []Field, opts ...Option) *Schema {
	s, err := New(fields, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Default returns the base schema every table starts from: an integer id
// primary key and a deleted soft delete flag.
func Default() *Schema {
	return MustNew(BaseFields(), WithPrimaryKey("id"), WithHiddenFlag("deleted"))
}

// BaseFields returns the id and deleted fields so callers can extend them.
func BaseFields() []Field {
	return []Field{
		Int("id").Default(0),
		Bool("deleted").Default(false),
	}
}

func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.name
	}
	return names
}

func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

func (s *Schema) PrimaryKey() string { return s.pk }
func (s *Schema) HiddenFlag() string { return s.flag }

// QueryForm copies cond and, when ensureNotDeleted is set and the schema has a
// hidden flag, forces flag=false over any caller value.
func (s *Schema) QueryForm(cond filter.Condition, ensureNotDeleted bool) filter.Condition {
	form := cond.Clone()
	if s.flag != "" && ensureNotDeleted {
		form[s.flag] = false
	}
	return form
}

// ToData formats the declared fields of row. Missing fields take their
// default and fields that end up undefined are omitted.
func (s *Schema) ToData(row map[string]interface{}) (Row, error) {
	data := make(Row, len(s.fields))
	for _, f := range s.fields {
		v, err := f.valueOf(row)
		if err != nil {
			return nil, err
		}
		if filter.IsUndefined(v) {
			continue
		}
		data[f.name] = v
	}
	return data, nil
}

// Format applies ToData to every row.
func (s *Schema) Format(rows []map[string]interface{}) ([]Row, error) {
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		data, err := s.ToData(row)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// StrictForm keeps only declared fields present in obj, formatted. Absent and
// undefined values are dropped; the first failing value fails the call.
func (s *Schema) StrictForm(obj map[string]interface{}) (Row, error) {
	form := make(Row, len(obj))
	for _, f := range s.fields {
		raw, ok := obj[f.name]
		if !ok || filter.IsUndefined(raw) {
			continue
		}
		v, err := f.Format(raw)
		if err != nil {
			return nil, err
		}
		if filter.IsUndefined(v) {
			continue
		}
		form[f.name] = v
	}
	return form, nil
}

// Bind converts a formatted value of field name into a driver argument.
func (s *Schema) Bind(name string, v interface{}) (interface{}, error) {
	f, ok := s.Field(name)
	if !ok {
		return v, nil
	}
	return f.kind.bind(name, v)
}

// Equal compares a and b over the declared fields, each side defaulted and
// formatted on its own.
func (s *Schema) Equal(a, b map[string]interface{}) (bool, error) {
	for _, f := range s.fields {
		v1, err := f.valueOf(a)
		if err != nil {
			return false, err
		}
		v2, err := f.valueOf(b)
		if err != nil {
			return false, err
		}
		if !sameValue(v1, v2) {
			return false, nil
		}
	}
	return true, nil
}

func sameValue(a, b interface{}) bool {
	switch x := a.(type) {
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}

func (s *Schema) String() string {
	return fmt.Sprintf("Schema%v pk=%q flag=%q", s.Names(), s.pk, s.flag)
}
