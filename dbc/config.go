// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package dbc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Default pool settings
const (
	DefaultConnectionLimit = 20
	DefaultQueueLimit      = 10
)

// Config describes how to reach one database.
type Config struct {
	Driver   Dialect
	Host     string
	Port     int
	User     string
	Password string
	Database string

	// DSN overrides the fields above when set. For sqlite3 it is the file
	// name or a file: URI.
	DSN string

	ConnectionLimit int
	// QueueLimit bounds callers waiting for a connection. Negative means unbounded.
	QueueLimit      int
	ConnMaxLifetime time.Duration
}

// withDefaults fills zero values the way the pool expects them.
func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = MySQL
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = c.Driver.DefaultPort()
	}
	if c.User == "" && c.Driver == MySQL {
		c.User = "root"
	}
	if c.Database == "" && c.Driver != SQLite {
		c.Database = "test"
	}
	if c.ConnectionLimit <= 0 {
		c.ConnectionLimit = DefaultConnectionLimit
	}
	if c.QueueLimit == 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	return c
}

// Validate checks the driver is supported.
func (c Config) Validate() error {
	if !c.Driver.Valid() {
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}
	if c.Driver == SQLite && c.DSN == "" && c.Database == "" {
		return fmt.Errorf("sqlite3 requires DSN or Database")
	}
	return nil
}

// ConnectionString builds the driver specific data source name.
func (c Config) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.Driver {
	case MySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		return mc.FormatDSN()
	case Postgres:
		var parts []string
		parts = append(parts, fmt.Sprintf("host=%s", c.Host))
		parts = append(parts, fmt.Sprintf("port=%d", c.Port))
		parts = append(parts, fmt.Sprintf("dbname=%s", c.Database))
		if c.User != "" {
			parts = append(parts, fmt.Sprintf("user=%s", c.User))
		}
		if c.Password != "" {
			parts = append(parts, fmt.Sprintf("password=%s", c.Password))
		}
		parts = append(parts, "sslmode=disable")
		return strings.Join(parts, " ")
	case SQLite:
		return c.Database
	}
	return ""
}

// URI identifies the database the config points at.
func (c Config) URI() string {
	if c.Driver == SQLite {
		return fmt.Sprintf("%s://%s", c.Driver, c.ConnectionString())
	}
	return fmt.Sprintf("%s://%s:%s@%s/%s", c.Driver, c.User, c.Password,
		net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database)
}

// address is the URI without credentials, used in log lines.
func (c Config) address() string {
	if c.Driver == SQLite {
		return c.URI()
	}
	return fmt.Sprintf("%s://%s/%s", c.Driver, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Database)
}
