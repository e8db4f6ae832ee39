// Package config holds the live deployment configuration for the
// backup and restore pipeline. The engine probe reads it fresh on every
// decision; nothing here is cached across a restore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	postgresDefaultPort = 5432

	// DefaultToolTimeout bounds pg_dump / pg_restore / psql invocations.
	DefaultToolTimeout = 10 * time.Minute
)

// Config holds all configuration options.
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Active database engine: "sqlite" or "postgres".
	// A cross-engine migration rewrites this value mid-process.
	DatabaseType string

	// SQLite deployment
	SQLitePath string

	// PostgreSQL deployment
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Backup artifacts
	BackupDir        string
	WorkDir          string
	CompressSnapshot bool

	// External tool control
	ToolTimeout time.Duration

	// Restore session tokens
	SessionTTL time.Duration

	// Output options
	Debug     bool
	LogLevel  string
	LogFormat string
}

// New creates a new configuration from environment variables with defaults.
func New() *Config {
	dbType := canonicalDatabaseType(getEnvString("WIMM_DB_TYPE", "sqlite"))

	return &Config{
		DatabaseType: dbType,

		SQLitePath: getEnvString("WIMM_SQLITE_PATH", defaultSQLitePath()),

		Host:     getEnvString("PG_HOST", "localhost"),
		Port:     getEnvInt("PG_PORT", postgresDefaultPort),
		User:     getEnvString("PG_USER", "wimm"),
		Password: getEnvString("PGPASSWORD", ""),
		Database: getEnvString("PG_DATABASE", "wimm"),
		SSLMode:  getEnvString("PG_SSLMODE", "prefer"),

		BackupDir:        getEnvString("WIMM_BACKUP_DIR", defaultBackupDir()),
		WorkDir:          getEnvString("WIMM_WORK_DIR", ""),
		CompressSnapshot: getEnvBool("WIMM_COMPRESS_SNAPSHOT", false),

		ToolTimeout: getEnvDuration("WIMM_TOOL_TIMEOUT", DefaultToolTimeout),
		SessionTTL:  getEnvDuration("WIMM_SESSION_TTL", 15*time.Minute),

		Debug:     getEnvBool("WIMM_DEBUG", false),
		LogLevel:  getEnvString("WIMM_LOG_LEVEL", "info"),
		LogFormat: getEnvString("WIMM_LOG_FORMAT", "text"),
	}
}

// IsPostgreSQL reports whether the active engine is PostgreSQL.
func (c *Config) IsPostgreSQL() bool {
	return c.DatabaseType == "postgres"
}

// IsSQLite reports whether the active engine is SQLite.
func (c *Config) IsSQLite() bool {
	return c.DatabaseType == "sqlite"
}

// GetEffectiveWorkDir returns the directory for large temporary files.
func (c *Config) GetEffectiveWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return c.BackupDir
}

// PostgresDSN builds a pgx-compatible DSN from the live settings.
func (c *Config) PostgresDSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s", c.Host, c.Port, c.User, c.Database)
	if c.Password != "" {
		dsn += " password=" + c.Password
	}
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	return dsn
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.DatabaseType {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite deployment requires WIMM_SQLITE_PATH")
		}
	case "postgres":
		if c.Database == "" {
			return fmt.Errorf("postgres deployment requires PG_DATABASE")
		}
		if c.Port <= 0 || c.Port > 65535 {
			return fmt.Errorf("invalid postgres port: %d", c.Port)
		}
	default:
		return fmt.Errorf("unsupported database type: %q (expected sqlite or postgres)", c.DatabaseType)
	}

	if c.BackupDir == "" {
		return fmt.Errorf("backup directory must not be empty")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("tool timeout must be positive")
	}
	return nil
}

// canonicalDatabaseType normalizes the engine name.
func canonicalDatabaseType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	default:
		return raw
	}
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "wimm.sqlite3"
	}
	return filepath.Join(home, ".wimm", "wimm.sqlite3")
}

func defaultBackupDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "backups"
	}
	return filepath.Join(home, ".wimm", "backups")
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
