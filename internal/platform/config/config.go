package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/qolzam/dbtable/dbc"
	"github.com/qolzam/dbtable/table"
)

// Config is the process configuration of a dbtable service or tool.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Table    TableConfig    `json:"table"`
	Debug    bool           `json:"debug"`
}

// DatabaseConfig describes the connection registered under Name.
type DatabaseConfig struct {
	Name            string        `json:"name"`
	Driver          string        `json:"driver"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Database        string        `json:"database"`
	DSN             string        `json:"dsn"`
	ConnectionLimit int           `json:"connectionLimit"`
	QueueLimit      int           `json:"queueLimit"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}

// TableConfig holds the gateway switches applied to every table.
type TableConfig struct {
	EnableUndefined  bool `json:"enableUndefined"`
	AllowDeleteAll   bool `json:"allowDeleteAll"`
	AllowUpdateAll   bool `json:"allowUpdateAll"`
	TolerateMultiple bool `json:"tolerateMultiple"`
}

// LoadFromEnv loads configuration from the environment.
// Explicit environment variables win over values from a .env file, which win
// over the defaults.
func LoadFromEnv() (*Config, error) {
	envPaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	var loadErr error
	for _, envPath := range envPaths {
		loadErr = godotenv.Load(envPath)
		if loadErr == nil {
			break
		}
	}
	if loadErr != nil {
		fmt.Println("INFO: .env file not found, using environment variables and defaults.")
	}

	return load(os.LookupEnv)
}

// LoadFromMap loads configuration from an in-memory map. Tests use it to
// avoid touching process environment.
func LoadFromMap(envMap map[string]string) (*Config, error) {
	return load(func(key string) (string, bool) {
		value, ok := envMap[key]
		return value, ok
	})
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value, exists := lookup(key); exists && value != "" {
			return value
		}
		return defaultValue
	}

	getInt := func(key string, defaultValue int) int {
		if value, exists := lookup(key); exists {
			if intValue, err := strconv.Atoi(value); err == nil {
				return intValue
			}
		}
		return defaultValue
	}

	getBool := func(key string, defaultValue bool) bool {
		if value, exists := lookup(key); exists {
			if boolValue, err := strconv.ParseBool(value); err == nil {
				return boolValue
			}
		}
		return defaultValue
	}

	// bare integers are seconds
	getDuration := func(key string, defaultValue time.Duration) time.Duration {
		value, exists := lookup(key)
		if !exists {
			return defaultValue
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		return defaultValue
	}

	config := &Config{
		Database: DatabaseConfig{
			Name:            get("DB_NAME", "default"),
			Driver:          strings.ToLower(get("DB_DRIVER", string(dbc.MySQL))),
			Host:            get("DB_HOST", "localhost"),
			Port:            getInt("DB_PORT", 0),
			User:            get("DB_USER", ""),
			Password:        get("DB_PASSWORD", ""),
			Database:        get("DB_DATABASE", ""),
			DSN:             get("DB_DSN", ""),
			ConnectionLimit: getInt("DB_CONNECTION_LIMIT", 20),
			QueueLimit:      getInt("DB_QUEUE_LIMIT", 10),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 0),
		},
		Table: TableConfig{
			EnableUndefined:  getBool("TABLE_ENABLE_UNDEFINED", false),
			AllowDeleteAll:   getBool("TABLE_ALLOW_DELETE_ALL", false),
			AllowUpdateAll:   getBool("TABLE_ALLOW_UPDATE_ALL", false),
			TolerateMultiple: getBool("TABLE_TOLERATE_MULTIPLE", false),
		},
		Debug: getBool("DEBUG", false),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errors []string

	if strings.TrimSpace(c.Database.Name) == "" {
		errors = append(errors, "DB_NAME is required")
	}

	validDrivers := []string{string(dbc.MySQL), string(dbc.Postgres), string(dbc.SQLite)}
	if !contains(validDrivers, c.Database.Driver) {
		errors = append(errors, fmt.Sprintf("DB_DRIVER must be one of: %s", strings.Join(validDrivers, ", ")))
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 0 and 65535")
	}
	if c.Database.ConnectionLimit <= 0 {
		errors = append(errors, "DB_CONNECTION_LIMIT must be positive")
	}
	if c.Database.Driver == string(dbc.SQLite) && c.Database.DSN == "" && c.Database.Database == "" {
		errors = append(errors, "DB_DSN or DB_DATABASE is required for sqlite3")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}
	return nil
}

// DBC converts the database section into a pool configuration.
func (c *Config) DBC() dbc.Config {
	return dbc.Config{
		Driver:          dbc.Dialect(c.Database.Driver),
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Database,
		DSN:             c.Database.DSN,
		ConnectionLimit: c.Database.ConnectionLimit,
		QueueLimit:      c.Database.QueueLimit,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// TableOptions converts the table section and the debug switch into gateway options.
func (c *Config) TableOptions() []table.Option {
	var opts []table.Option
	if c.Table.EnableUndefined {
		opts = append(opts, table.WithEnableUndefined())
	}
	if c.Table.AllowDeleteAll {
		opts = append(opts, table.WithAllowDeleteAll())
	}
	if c.Table.AllowUpdateAll {
		opts = append(opts, table.WithAllowUpdateAll())
	}
	if c.Table.TolerateMultiple {
		opts = append(opts, table.WithTolerateMultiple())
	}
	if c.Debug {
		opts = append(opts, table.WithDebug())
	}
	return opts
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
