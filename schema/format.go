// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"

	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/filter"
)

// Kind names a value conversion strategy.
type Kind string

const (
	KindInt        Kind = "int"
	KindIntU       Kind = "int_u"
	KindFloat      Kind = "float"
	KindBool       Kind = "bool"
	KindString     Kind = "string"
	KindTrimString Kind = "trim_string"
	KindTime       Kind = "time"
	KindJSON       Kind = "json"
	KindDecimal    Kind = "decimal"
	KindUUID       Kind = "uuid"
	KindOpaque     Kind = "opaque"
)

// Time layouts accepted by the Time kind, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// strings that read as false for the Bool kind
var falseWords = map[string]struct{}{
	"": {}, "false": {}, "0": {}, "undefined": {}, "null": {}, "none": {}, "[]": {}, "{}": {},
}

// Format converts raw into the typed value of kind k. name is only used in
// error messages. nil and filter.Undefined pass through unchanged except for
// TrimString, which maps nil to "".
func (k Kind) Format(name string, raw interface{}) (interface{}, error) {
	if filter.IsUndefined(raw) {
		return raw, nil
	}
	if raw == nil && k != KindTrimString {
		return nil, nil
	}

	switch k {
	case KindInt:
		return formatInt(name, raw)
	case KindIntU:
		v, err := formatInt(name, raw)
		if err != nil {
			return filter.Undefined, nil
		}
		return v, nil
	case KindFloat:
		return formatFloat(name, raw)
	case KindBool:
		return formatBool(raw), nil
	case KindString:
		return formatString(name, raw)
	case KindTrimString:
		return formatTrimString(name, raw)
	case KindTime:
		if p, ok := raw.(*time.Time); ok && p == nil {
			return nil, nil
		}
		return formatTime(name, raw)
	case KindJSON:
		return formatJSON(name, raw)
	case KindDecimal:
		return formatDecimal(name, raw)
	case KindUUID:
		return formatUUID(name, raw)
	case KindOpaque:
		return raw, nil
	}
	return nil, dbErrors.Validation("invalid %s, unknown kind %q", name, string(k))
}

func requireNumber(name string, raw interface{}) error {
	return dbErrors.Validation("invalid %s=%v, require number", name, raw)
}

func formatInt(name string, raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return uintToInt(name, uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return uintToInt(name, v)
	case float32:
		return floatToInt(name, float64(v))
	case float64:
		return floatToInt(name, v)
	case decimal.Decimal:
		return v.IntPart(), nil
	case json.Number:
		return parseInt(name, string(v))
	case []byte:
		return parseInt(name, string(v))
	case string:
		return parseInt(name, v)
	}
	return 0, requireNumber(name, raw)
}

func uintToInt(name string, v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, dbErrors.Validation("invalid %s=%d, out of range", name, v)
	}
	return int64(v), nil
}

// 2^63, the first float64 past the int64 range.
const maxIntFloat = float64(1 << 63)

func floatToInt(name string, f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, requireNumber(name, f)
	}
	f = math.Trunc(f)
	if f >= maxIntFloat || f < -maxIntFloat {
		return 0, dbErrors.Validation("invalid %s=%g, out of range", name, f)
	}
	return int64(f), nil
}

// parseInt reads a leading integer. "12.9" yields 12.
func parseInt(name, s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, requireNumber(name, s)
	}
	return floatToInt(name, f)
}

func formatFloat(name string, raw interface{}) (float64, error) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case decimal.Decimal:
		f = v.InexactFloat64()
	case json.Number:
		return parseFloat(name, string(v))
	case []byte:
		return parseFloat(name, string(v))
	case string:
		return parseFloat(name, v)
	default:
		n, err := formatInt(name, raw)
		if err != nil {
			return 0, err
		}
		f = float64(n)
	}
	if math.IsNaN(f) {
		return 0, requireNumber(name, raw)
	}
	return f, nil
}

func parseFloat(name, s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0, requireNumber(name, s)
	}
	return f, nil
}

func formatBool(raw interface{}) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return stringBool(v)
	case []byte:
		return stringBool(string(v))
	case float64:
		return v != 0 && !math.IsNaN(v)
	case float32:
		return v != 0 && !math.IsNaN(float64(v))
	case decimal.Decimal:
		return !v.IsZero()
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func stringBool(s string) bool {
	_, isFalse := falseWords[strings.ToLower(strings.TrimSpace(s))]
	return !isFalse
}

func formatString(name string, raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return v.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return "", dbErrors.Validation("invalid %s=%v, require string", name, raw)
}

func formatTrimString(name string, raw interface{}) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case []byte:
		return strings.TrimSpace(string(v)), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(v), nil
	}
	return "", dbErrors.Validation("invalid %s=%v, require string or number", name, raw)
}

func formatTime(name string, raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case *time.Time:
		return *v, nil
	case string:
		return parseTime(name, v)
	case []byte:
		return parseTime(name, string(v))
	case int64:
		return time.Unix(v, 0).UTC(), nil
	case int:
		return time.Unix(int64(v), 0).UTC(), nil
	case int32:
		return time.Unix(int64(v), 0).UTC(), nil
	}
	return time.Time{}, dbErrors.Validation("invalid %s=%v, require time", name, raw)
}

func parseTime(name, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, dbErrors.Validation("invalid %s=%s, require time", name, s)
}

// formatJSON decodes JSON text. A decoded string scalar stays encoded as a
// json.RawMessage so that it formats again unchanged.
func formatJSON(name string, raw interface{}) (interface{}, error) {
	var text []byte
	switch v := raw.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, dbErrors.Validation("invalid %s=%s, require json", name, string(v))
		}
		return v, nil
	case string:
		text = []byte(v)
	case []byte:
		text = v
	default:
		return raw, nil
	}

	var out interface{}
	if err := json.Unmarshal(text, &out); err != nil {
		return nil, dbErrors.Validation("invalid %s=%s, require json: %v", name, string(text), err)
	}
	if _, ok := out.(string); ok {
		return json.RawMessage(bytes.TrimSpace(append([]byte(nil), text...))), nil
	}
	return out, nil
}

func formatDecimal(name string, raw interface{}) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return parseDecimal(name, v)
	case []byte:
		return parseDecimal(name, string(v))
	case json.Number:
		return parseDecimal(name, string(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, requireNumber(name, v)
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return decimal.Zero, requireNumber(name, v)
		}
		return decimal.NewFromFloat32(v), nil
	}
	n, err := formatInt(name, raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(n), nil
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, requireNumber(name, s)
	}
	return d, nil
}

func formatUUID(name string, raw interface{}) (uuid.UUID, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		return parseUUID(name, v)
	case []byte:
		if len(v) == uuid.Size {
			return uuid.FromBytes(v)
		}
		return parseUUID(name, string(v))
	case fmt.Stringer:
		return parseUUID(name, v.String())
	}
	return uuid.Nil, dbErrors.Validation("invalid %s=%v, require uuid", name, raw)
}

func parseUUID(name, s string) (uuid.UUID, error) {
	id, err := uuid.FromString(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, dbErrors.Validation("invalid %s=%s, require uuid", name, s)
	}
	return id, nil
}

// bind converts a typed value into something database/sql accepts.
// Structured JSON values are marshalled, everything else is passed as is.
func (k Kind) bind(name string, v interface{}) (interface{}, error) {
	if k != KindJSON || v == nil {
		return v, nil
	}
	switch x := v.(type) {
	case string, []byte:
		return v, nil
	case json.RawMessage:
		return string(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, dbErrors.Validation("invalid %s=%v, require json: %v", name, v, err)
	}
	return string(b), nil
}
