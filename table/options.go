// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package table

import "github.com/qolzam/dbtable/observability"

type options struct {
	enableUndefined  bool
	allowDeleteAll   bool
	allowUpdateAll   bool
	tolerateMultiple bool
	debug            bool
	metrics          *observability.Collector
}

// Option configures a Table.
type Option func(*options)

// WithEnableUndefined lets conditions carry filter.Undefined, matched as IS NOT NULL.
func WithEnableUndefined() Option {
	return func(o *options) { o.enableUndefined = true }
}

// WithAllowDeleteAll lets Delete run with an empty condition.
func WithAllowDeleteAll() Option {
	return func(o *options) { o.allowDeleteAll = true }
}

// WithAllowUpdateAll lets Update, Disable and Enable run with an empty condition.
func WithAllowUpdateAll() Option {
	return func(o *options) { o.allowUpdateAll = true }
}

// WithTolerateMultiple makes FindOne return the first of several matches
// instead of failing.
func WithTolerateMultiple() Option {
	return func(o *options) { o.tolerateMultiple = true }
}

// WithDebug logs every statement and its arguments.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithMetrics records every statement into c.
func WithMetrics(c *observability.Collector) Option {
	return func(o *options) { o.metrics = c }
}
