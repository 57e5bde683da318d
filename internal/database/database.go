package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	pingTimeout = 5 * time.Second
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// ParseURL maps a database URL onto a driver name and its data source.
// sqlite://path opens a file, sqlite://:memory: an in-memory database.
func ParseURL(rawURL string) (driver, dsn string, err error) {
	rawURL = strings.TrimSpace(rawURL)
	switch {
	case rawURL == "":
		return "", "", fmt.Errorf("database url is empty")
	case strings.HasPrefix(rawURL, "sqlite://"):
		dsn, _ = strings.CutPrefix(rawURL, "sqlite://")
		if dsn == "" {
			return "", "", fmt.Errorf("sqlite url %q has no path", rawURL)
		}
		return DriverSQLite, dsn, nil
	case strings.HasPrefix(rawURL, "postgres://"), strings.HasPrefix(rawURL, "postgresql://"):
		return DriverPostgres, rawURL, nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q", rawURL)
	}
}

// Open connects, pings and migrates the database behind rawURL.
func Open(ctx context.Context, rawURL string, logger zerolog.Logger) (*sqlx.DB, error) {
	driver, dsn, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	switch driver {
	case DriverSQLite:
		// a second connection to :memory: would see an empty database
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info().Str("driver", driver).Msg("database connection established")
	return db, nil
}

func Migrate(ctx context.Context, db *sqlx.DB) error {
	migrations := sqliteMigrations
	if db.DriverName() == DriverPostgres {
		migrations = postgresMigrations
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("failed to execute migration: %w\nQuery: %s", err, m)
		}
	}
	return nil
}

var postgresMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS play_commands (
		id TEXT PRIMARY KEY,
		created_at BIGINT NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		file_name TEXT NOT NULL,
		track_name TEXT NOT NULL DEFAULT '',
		submission_host TEXT NOT NULL DEFAULT '',
		external_session_id TEXT NOT NULL DEFAULT '',
		attachment_id TEXT NOT NULL DEFAULT '',
		exception TEXT NOT NULL DEFAULT ''
	);
	`,
	`CREATE INDEX IF NOT EXISTS play_commands_status_created ON play_commands (status, created_at);`,
	`
	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		content BYTEA NOT NULL,
		created_at BIGINT NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS social_messages (
		id BIGSERIAL PRIMARY KEY,
		sender TEXT NOT NULL,
		message TEXT NOT NULL,
		received_at BIGINT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE
	);
	`,
}

var sqliteMigrations = []string{
	`
	CREATE TABLE IF NOT EXISTS play_commands (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		file_name TEXT NOT NULL,
		track_name TEXT NOT NULL DEFAULT '',
		submission_host TEXT NOT NULL DEFAULT '',
		external_session_id TEXT NOT NULL DEFAULT '',
		attachment_id TEXT NOT NULL DEFAULT '',
		exception TEXT NOT NULL DEFAULT ''
	);
	`,
	`CREATE INDEX IF NOT EXISTS play_commands_status_created ON play_commands (status, created_at);`,
	`
	CREATE TABLE IF NOT EXISTS attachments (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		file_name TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		content BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS social_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		message TEXT NOT NULL,
		received_at INTEGER NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT 0
	);
	`,
}
