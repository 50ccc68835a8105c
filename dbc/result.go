// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbc

import (
	"fmt"
	"strings"
)

// Result is what a write statement reports.
type Result struct {
	AffectedRows int64
	InsertID     int64
}

// Column describes one physical column, shaped after MySQL's SHOW COLUMNS.
type Column struct {
	Field   string
	Type    string
	Null    string
	Key     string
	Default interface{}
	Extra   string
}

func text(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	}
	return fmt.Sprint(v)
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case int:
		return b != 0
	case nil:
		return false
	}
	s := strings.TrimSpace(text(v))
	return s != "" && s != "0"
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
