// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbc

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	dbErrors "github.com/qolzam/dbtable/errors"
)

// wrapDriverError turns a driver failure into an IO SqlError, naming the
// driver's own code so callers can tell a constraint violation from an outage.
func wrapDriverError(err error, query string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dbErrors.IO(err, "statement interrupted: %s", query)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return dbErrors.IO(err, "postgres %s (%s): %s", pqErr.Code, pqErr.Code.Name(), query)
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return dbErrors.IO(err, "mysql %d: %s", myErr.Number, query)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return dbErrors.IO(err, "sqlite3 %d/%d: %s", int(liteErr.Code), int(liteErr.ExtendedCode), query)
	}

	return dbErrors.IO(err, "%s", query)
}

// IsUniqueViolation reports whether err was caused by a unique or primary key
// collision on any supported driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
